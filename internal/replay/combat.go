package replay

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CombatKind distinguishes the two kinds of combat log entries
type CombatKind int

const (
	KindKill CombatKind = iota + 1
	KindDeath
)

func (k CombatKind) String() string {
	switch k {
	case KindKill:
		return "kills"
	case KindDeath:
		return "deaths"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind as its string form
func (k CombatKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the string form written by MarshalJSON
func (k *CombatKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "kills":
		*k = KindKill
	case "deaths":
		*k = KindDeath
	default:
		return fmt.Errorf("unknown combat kind %q", s)
	}
	return nil
}

// CombatEvent is a kill or death burst recovered from two consecutive snapshots
type CombatEvent struct {
	Kind        CombatKind `json:"type"`
	Timestamp   string     `json:"timestamp"`
	Player      string     `json:"player"`
	Count       int        `json:"count"`
	TotalKills  int        `json:"total_kills"`
	TotalDeaths int        `json:"total_deaths"`
}

// Anomaly records a cumulative counter that went backwards between snapshots.
// No event is emitted for it.
type Anomaly struct {
	Player    string `json:"player"`
	Timestamp string `json:"timestamp"`
	Field     string `json:"field"`
	Previous  int    `json:"previous"`
	Current   int    `json:"current"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s %s dropped from %d to %d at %s", a.Player, a.Field, a.Previous, a.Current, a.Timestamp)
}

// buildCombatLog diffs each player's adjacent snapshots, visiting players in
// the given order. The result is stable-sorted by timeline position.
func buildCombatLog(tl *timeline, names []string) ([]CombatEvent, []Anomaly) {
	events := []CombatEvent{}
	var anomalies []Anomaly

	for _, name := range names {
		snaps := tl.tracks[name].snaps
		for i := 1; i < len(snaps); i++ {
			prev, cur := snaps[i-1], snaps[i]

			if d := cur.Kills - prev.Kills; d > 0 {
				events = append(events, CombatEvent{
					Kind: KindKill, Timestamp: cur.Timestamp, Player: name, Count: d,
					TotalKills: cur.Kills, TotalDeaths: cur.Deaths,
				})
			} else if d < 0 {
				anomalies = append(anomalies, Anomaly{Player: name, Timestamp: cur.Timestamp, Field: "kills", Previous: prev.Kills, Current: cur.Kills})
			}

			if d := cur.Deaths - prev.Deaths; d > 0 {
				events = append(events, CombatEvent{
					Kind: KindDeath, Timestamp: cur.Timestamp, Player: name, Count: d,
					TotalKills: cur.Kills, TotalDeaths: cur.Deaths,
				})
			} else if d < 0 {
				anomalies = append(anomalies, Anomaly{Player: name, Timestamp: cur.Timestamp, Field: "deaths", Previous: prev.Deaths, Current: cur.Deaths})
			}

			if cur.Score < prev.Score {
				anomalies = append(anomalies, Anomaly{Player: name, Timestamp: cur.Timestamp, Field: "score", Previous: prev.Score, Current: cur.Score})
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return tl.rank[events[i].Timestamp] < tl.rank[events[j].Timestamp]
	})
	return events, anomalies
}
