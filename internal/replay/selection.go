package replay

// selection is the set of players shown in the chart and combat views.
// prior holds the selection replaced by the last isolate, if any; it is a
// single slot, not a history.
type selection struct {
	set   map[string]struct{}
	prior map[string]struct{}
}

func newSelection() selection {
	return selection{set: make(map[string]struct{})}
}

func (s *selection) has(name string) bool {
	_, ok := s.set[name]
	return ok
}

func (s *selection) toggle(name string) {
	if s.has(name) {
		delete(s.set, name)
		return
	}
	s.set[name] = struct{}{}
}

func (s *selection) replace(names []string) {
	s.set = make(map[string]struct{}, len(names))
	for _, n := range names {
		s.set[n] = struct{}{}
	}
}

// isolate narrows the selection to name, or restores the remembered
// selection when it is already narrowed to name
func (s *selection) isolate(name string) {
	if len(s.set) == 1 && s.has(name) && s.prior != nil {
		s.set = s.prior
		s.prior = nil
		return
	}
	s.prior = s.set
	s.set = map[string]struct{}{name: {}}
}

// list returns the selected names in the given display order. Selected names
// that are not in order are omitted.
func (s *selection) list(order []string) []string {
	out := make([]string, 0, len(s.set))
	for _, n := range order {
		if s.has(n) {
			out = append(out, n)
		}
	}
	return out
}

func topN(names []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if n > len(names) {
		n = len(names)
	}
	return names[:n]
}
