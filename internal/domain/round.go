package domain

import "time"

// Team ids as reported by the game server
const (
	TeamAxis   = 1
	TeamAllies = 2
)

// TeamName returns the display name for a team id, or "" for unassigned ids
func TeamName(team int) string {
	switch team {
	case TeamAxis:
		return "Axis"
	case TeamAllies:
		return "Allies"
	default:
		return ""
	}
}

// Snapshot is one observation of a player's cumulative stats.
// Counters never reset within a round, so consecutive snapshots are diffed to
// recover what happened between them.
type Snapshot struct {
	Timestamp string `json:"timestamp"` // ISO-8601
	Score     int    `json:"score"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
}

// PlayerAggregate holds a player's final totals for a round
type PlayerAggregate struct {
	Name   string `json:"name"`
	Team   int    `json:"team,omitempty"`
	Score  int    `json:"score"`
	Kills  int    `json:"kills"`
	Deaths int    `json:"deaths"`
}

// RoundData is the per-round payload the replay is built from
type RoundData struct {
	ID           int64                 `json:"id,omitempty"`
	UUID         string                `json:"uuid,omitempty"`
	ServerName   string                `json:"server_name,omitempty"`
	MapName      string                `json:"map_name,omitempty"`
	RoundStart   *time.Time            `json:"round_start,omitempty"`
	RoundEnd     *time.Time            `json:"round_end,omitempty"`
	PlayerScores map[string][]Snapshot `json:"player_scores"`
	PlayerTeams  map[string]int        `json:"player_teams"`
	Players      []PlayerAggregate     `json:"players"`
}

// Normalize replaces nil collections with empty ones so a payload with
// missing optional fields behaves like an empty round
func (d *RoundData) Normalize() {
	if d.PlayerScores == nil {
		d.PlayerScores = make(map[string][]Snapshot)
	}
	if d.PlayerTeams == nil {
		d.PlayerTeams = make(map[string]int)
	}
	if d.Players == nil {
		d.Players = []PlayerAggregate{}
	}
}

// TeamOf returns the team a player belongs to. The team map wins over the
// aggregate's own team field since it is reported at round end.
func (d *RoundData) TeamOf(p PlayerAggregate) int {
	if team, ok := d.PlayerTeams[p.Name]; ok {
		return team
	}
	return p.Team
}

// Round represents a stored round header
type Round struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	ServerName  string     `json:"server_name,omitempty"`
	MapName     string     `json:"map_name"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	PlayerCount int        `json:"player_count"`
}
