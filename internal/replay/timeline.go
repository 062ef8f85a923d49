package replay

import (
	"sort"
	"time"

	"github.com/ernie/trinity-replay/internal/domain"
)

// timestampLayouts are tried in order when parsing snapshot timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses an ISO-8601 style timestamp
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ProjectedStat is a player's cumulative stats as of a point in the timeline
type ProjectedStat struct {
	Score  int `json:"score"`
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
}

// track is one player's snapshots with each timestamp resolved to its
// position in the global timeline
type track struct {
	snaps []domain.Snapshot
	ranks []int
}

// timeline is the shared clock every player is projected onto
type timeline struct {
	stamps []string
	rank   map[string]int
	tracks map[string]track
}

func buildTimeline(scores map[string][]domain.Snapshot) *timeline {
	seen := make(map[string]struct{})
	for _, snaps := range scores {
		for _, s := range snaps {
			seen[s.Timestamp] = struct{}{}
		}
	}

	stamps := make([]string, 0, len(seen))
	for ts := range seen {
		stamps = append(stamps, ts)
	}
	SortTimestamps(stamps)

	tl := &timeline{
		stamps: stamps,
		rank:   make(map[string]int, len(stamps)),
		tracks: make(map[string]track, len(scores)),
	}
	for i, ts := range stamps {
		tl.rank[ts] = i
	}
	for name, snaps := range scores {
		if len(snaps) == 0 {
			continue
		}
		tr := track{snaps: snaps, ranks: make([]int, len(snaps))}
		for i, s := range snaps {
			tr.ranks[i] = tl.rank[s.Timestamp]
		}
		tl.tracks[name] = tr
	}
	return tl
}

// SortTimestamps orders timestamps by parsed time when every value parses, falling back
// to string order otherwise. Distinct strings for the same instant are kept
// and ordered by their text so the result is strictly ascending.
func SortTimestamps(stamps []string) {
	parsed := make(map[string]time.Time, len(stamps))
	for _, ts := range stamps {
		t, ok := parseTimestamp(ts)
		if !ok {
			sort.Strings(stamps)
			return
		}
		parsed[ts] = t
	}
	sort.Slice(stamps, func(i, j int) bool {
		ti, tj := parsed[stamps[i]], parsed[stamps[j]]
		if ti.Equal(tj) {
			return stamps[i] < stamps[j]
		}
		return ti.Before(tj)
	})
}

// project returns the player's latest snapshot at or before timeline
// position r, or zero stats when the player has none yet
func (tl *timeline) project(name string, r int) ProjectedStat {
	tr, ok := tl.tracks[name]
	if !ok {
		return ProjectedStat{}
	}
	i := sort.Search(len(tr.ranks), func(i int) bool { return tr.ranks[i] > r }) - 1
	if i < 0 {
		return ProjectedStat{}
	}
	s := tr.snaps[i]
	return ProjectedStat{Score: s.Score, Kills: s.Kills, Deaths: s.Deaths}
}

// sortedNames returns the names with at least one snapshot, highest final
// score first. Ties keep alphabetical order.
func sortedNames(scores map[string][]domain.Snapshot) []string {
	names := make([]string, 0, len(scores))
	for name, snaps := range scores {
		if len(snaps) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	final := func(name string) int {
		snaps := scores[name]
		return snaps[len(snaps)-1].Score
	}
	sort.SliceStable(names, func(i, j int) bool {
		return final(names[i]) > final(names[j])
	})
	return names
}
