// Package replay reconstructs a scrubbable round replay from per-player
// cumulative score snapshots.
package replay

import (
	"sync"
	"time"

	"github.com/ernie/trinity-replay/internal/domain"
)

// DefaultSelectionSize is how many top players are selected when data first arrives
const DefaultSelectionSize = 5

// Change describes what an engine state change touched
type Change int

const (
	ChangeData Change = 1 << iota
	ChangeSelection
	ChangeScrubber
	ChangePlayback
)

// Has reports whether c includes all of flag
func (c Change) Has(flag Change) bool {
	return c&flag == flag
}

// Observer is called after every engine state change, outside the engine lock
type Observer func(Change)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	TickInterval     time.Duration
	DefaultSelection int
	NewTicker        TickerFunc
}

// ChartPoint is one column of the score chart: every visible player's score
// at a timeline position
type ChartPoint struct {
	Index     int            `json:"index"`
	Timestamp string         `json:"timestamp"`
	Scores    map[string]int `json:"scores"`
}

// Engine owns the replay state for one round. All methods are safe for
// concurrent use; playback ticks arrive on a separate goroutine.
type Engine struct {
	mu sync.Mutex

	data      *domain.RoundData
	tl        *timeline
	names     []string
	colors    map[string]int
	combat    []CombatEvent
	anomalies []Anomaly
	version   uint64

	sel         selection
	selVersion  uint64
	initialized bool
	topN        int

	index     int
	state     PlaybackState
	interval  time.Duration
	newTicker TickerFunc
	ticker    Ticker
	stop      chan struct{}
	timers    int
	wg        sync.WaitGroup
	closed    bool

	chart      []ChartPoint
	chartKey   [2]uint64
	chartValid bool

	stats      map[string]ProjectedStat
	statsKey   [2]uint64
	statsValid bool

	observers []Observer
}

// New creates an engine for a round. A nil or empty round is valid and
// yields empty derived collections.
func New(data *domain.RoundData, opts Options) *Engine {
	e := &Engine{
		sel:       newSelection(),
		topN:      opts.DefaultSelection,
		interval:  ClampTickInterval(opts.TickInterval),
		newTicker: opts.NewTicker,
	}
	if e.topN <= 0 {
		e.topN = DefaultSelectionSize
	}
	if e.newTicker == nil {
		e.newTicker = NewTimeTicker
	}
	e.loadLocked(data, true)
	return e
}

// Load replaces the engine's inputs. The default selection is applied only
// the first time players appear; later loads keep the current selection.
// A scrubber sitting at the end stays pinned to the new end.
func (e *Engine) Load(data *domain.RoundData) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	change := ChangeData | ChangeScrubber
	pin := e.state != Playing && e.atEndLocked()
	hadSelection := e.initialized
	e.loadLocked(data, pin)
	if !hadSelection && e.initialized {
		change |= ChangeSelection
	}
	if e.state == Playing && len(e.tl.stamps) < 2 {
		e.stopLocked()
		change |= ChangePlayback
	}
	e.mu.Unlock()

	e.notify(change)
}

func (e *Engine) loadLocked(data *domain.RoundData, pinToEnd bool) {
	if data == nil {
		data = &domain.RoundData{}
	}
	data.Normalize()

	e.data = data
	e.tl = buildTimeline(data.PlayerScores)
	e.names = sortedNames(data.PlayerScores)
	e.colors = make(map[string]int, len(e.names))
	for i, n := range e.names {
		e.colors[n] = i
	}
	e.combat, e.anomalies = buildCombatLog(e.tl, e.names)
	e.version++

	if !e.initialized && len(e.names) > 0 {
		e.sel.replace(topN(e.names, e.topN))
		e.selVersion++
		e.initialized = true
	}

	last := e.lastIndexLocked()
	switch {
	case last < 0:
		e.index = 0
	case pinToEnd || e.index > last:
		e.index = last
	}
}

// Close stops playback and releases the ticker. The engine ignores further
// loads and playback requests. Must not be called from an Observer.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopLocked()
	e.state = Idle
	e.closed = true
	e.observers = nil
	e.mu.Unlock()

	e.wg.Wait()
}

// Observe registers fn to be called after every state change
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.observers = append(e.observers, fn)
}

func (e *Engine) notify(c Change) {
	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
}

func (e *Engine) lastIndexLocked() int {
	return len(e.tl.stamps) - 1
}

func (e *Engine) atEndLocked() bool {
	return e.index >= e.lastIndexLocked()
}

// Data returns the round the engine was last loaded with
func (e *Engine) Data() *domain.RoundData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data
}

// Timestamps returns the global timeline in ascending order
func (e *Engine) Timestamps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.tl.stamps...)
}

// PlayerNames returns every player with telemetry, highest final score first
func (e *Engine) PlayerNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

// ColorIndex returns the player's stable color slot
func (e *Engine) ColorIndex(name string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.colors[name]
	return i, ok
}

// Color returns the player's chart color, or "" for unknown players
func (e *Engine) Color(name string) string {
	i, ok := e.ColorIndex(name)
	if !ok {
		return ""
	}
	return PaletteColor(i)
}

// Index returns the scrubber position
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// AtEnd reports whether the scrubber is on the last timeline entry. An empty
// timeline counts as the end.
func (e *Engine) AtEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atEndLocked()
}

// State returns the playback state
func (e *Engine) State() PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CombatLog returns every kill and death burst in timeline order
func (e *Engine) CombatLog() []CombatEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CombatEvent(nil), e.combat...)
}

// Anomalies returns counter decreases skipped while building the combat log
func (e *Engine) Anomalies() []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Anomaly(nil), e.anomalies...)
}

// Selected returns the selected players in rank order
func (e *Engine) Selected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.list(e.names)
}

// TogglePlayer adds or removes a player from the selection
func (e *Engine) TogglePlayer(name string) {
	e.updateSelection(func() { e.sel.toggle(name) })
}

// SelectTopN selects the n highest ranked players
func (e *Engine) SelectTopN(n int) {
	e.updateSelection(func() { e.sel.replace(topN(e.names, n)) })
}

// SelectAll selects every player
func (e *Engine) SelectAll() {
	e.updateSelection(func() { e.sel.replace(e.names) })
}

// SelectPlayers replaces the selection with names. Repeated names count once.
func (e *Engine) SelectPlayers(names []string) {
	e.updateSelection(func() { e.sel.replace(names) })
}

// SelectNone clears the selection
func (e *Engine) SelectNone() {
	e.updateSelection(func() { e.sel.replace(nil) })
}

// Isolate shows only name. Isolating the same player again restores the
// selection that was replaced.
func (e *Engine) Isolate(name string) {
	e.updateSelection(func() { e.sel.isolate(name) })
}

func (e *Engine) updateSelection(fn func()) {
	e.mu.Lock()
	fn()
	e.selVersion++
	e.mu.Unlock()

	e.notify(ChangeSelection)
}

// ChartData returns the score series for the selected players
func (e *Engine) ChartData() []ChartPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyChart(e.chartLocked())
}

func (e *Engine) chartLocked() []ChartPoint {
	key := [2]uint64{e.version, e.selVersion}
	if e.chartValid && e.chartKey == key {
		return e.chart
	}

	visible := e.sel.list(e.names)
	points := make([]ChartPoint, len(e.tl.stamps))
	for i, ts := range e.tl.stamps {
		p := ChartPoint{Index: i, Timestamp: ts, Scores: make(map[string]int, len(visible))}
		for _, name := range visible {
			p.Scores[name] = e.tl.project(name, i).Score
		}
		points[i] = p
	}

	e.chart, e.chartKey, e.chartValid = points, key, true
	return points
}

// StatsAtTime returns every player's projected stats at the scrubber
// position, or nil at the end of the timeline where final aggregates apply
func (e *Engine) StatsAtTime() map[string]ProjectedStat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyStats(e.statsLocked())
}

func (e *Engine) statsLocked() map[string]ProjectedStat {
	if e.atEndLocked() {
		return nil
	}
	key := [2]uint64{e.version, uint64(e.index)}
	if e.statsValid && e.statsKey == key {
		return e.stats
	}

	stats := make(map[string]ProjectedStat, len(e.data.PlayerScores))
	for name := range e.data.PlayerScores {
		stats[name] = e.tl.project(name, e.index)
	}

	e.stats, e.statsKey, e.statsValid = stats, key, true
	return stats
}

// The memoized chart and stats are shared by later reads, so callers only
// ever see copies.
func copyChart(points []ChartPoint) []ChartPoint {
	out := make([]ChartPoint, len(points))
	for i, p := range points {
		out[i] = p
		out[i].Scores = make(map[string]int, len(p.Scores))
		for name, score := range p.Scores {
			out[i].Scores[name] = score
		}
	}
	return out
}

func copyStats(stats map[string]ProjectedStat) map[string]ProjectedStat {
	if stats == nil {
		return nil
	}
	out := make(map[string]ProjectedStat, len(stats))
	for name, st := range stats {
		out[name] = st
	}
	return out
}

// Standings returns both team scoreboards at the scrubber position
func (e *Engine) Standings() Standings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return buildStandings(e.data, e.statsLocked())
}

// PlayerEntry describes one selectable player
type PlayerEntry struct {
	Name       string `json:"name"`
	ColorIndex int    `json:"color_index"`
	Color      string `json:"color"`
	Selected   bool   `json:"selected"`
	Team       int    `json:"team,omitempty"`
}

// View is the full read model handed to renderers
type View struct {
	RoundID     int64                    `json:"round_id,omitempty"`
	MapName     string                   `json:"map_name,omitempty"`
	Timestamps  []string                 `json:"timestamps"`
	Players     []PlayerEntry            `json:"players"`
	Selected    []string                 `json:"selected"`
	Index       int                      `json:"index"`
	Timestamp   string                   `json:"timestamp,omitempty"`
	Elapsed     string                   `json:"elapsed,omitempty"`
	AtEnd       bool                     `json:"at_end"`
	State       PlaybackState            `json:"state"`
	StatsAtTime map[string]ProjectedStat `json:"stats_at_time"`
	Chart       []ChartPoint             `json:"chart"`
	CombatLog   []CombatEvent            `json:"combat_log"`
	Standings   Standings                `json:"standings"`
}

// View returns a consistent snapshot of the whole read model
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		RoundID:     e.data.ID,
		MapName:     e.data.MapName,
		Timestamps:  append([]string{}, e.tl.stamps...),
		Players:     make([]PlayerEntry, len(e.names)),
		Selected:    e.sel.list(e.names),
		Index:       e.index,
		AtEnd:       e.atEndLocked(),
		State:       e.state,
		StatsAtTime: copyStats(e.statsLocked()),
		Chart:       copyChart(e.chartLocked()),
		CombatLog:   append([]CombatEvent{}, e.combat...),
	}
	v.Standings = buildStandings(e.data, v.StatsAtTime)
	if e.index < len(e.tl.stamps) {
		v.Timestamp = e.tl.stamps[e.index]
		v.Elapsed = FormatElapsed(v.Timestamp, e.data.RoundStart)
	}
	for i, n := range e.names {
		v.Players[i] = PlayerEntry{
			Name:       n,
			ColorIndex: e.colors[n],
			Color:      PaletteColor(e.colors[n]),
			Selected:   e.sel.has(n),
			Team:       e.data.PlayerTeams[n],
		}
	}
	return v
}
