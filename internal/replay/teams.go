package replay

import (
	"fmt"
	"sort"

	"github.com/ernie/trinity-replay/internal/domain"
)

// TeamPlayer is one row of a team scoreboard
type TeamPlayer struct {
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Kills      int    `json:"kills"`
	Deaths     int    `json:"deaths"`
	FinalScore int    `json:"final_score"`
}

// TeamStanding is a team's scoreboard at the current scrubber position
type TeamStanding struct {
	Team        int          `json:"team"`
	Name        string       `json:"name"`
	Players     []TeamPlayer `json:"players"`
	TotalScore  int          `json:"total_score"`
	TotalKills  int          `json:"total_kills"`
	TotalDeaths int          `json:"total_deaths"`
	FinalScore  int          `json:"final_score"`
	KDRatio     float64      `json:"kd_ratio"`
	KDDisplay   string       `json:"kd_display"`
	Winner      bool         `json:"winner"`
}

// Standings holds both team scoreboards. Winner is 0 on a draw.
type Standings struct {
	Axis   TeamStanding `json:"axis"`
	Allies TeamStanding `json:"allies"`
	Winner int          `json:"winner"`
}

// KDRatio computes a kill/death ratio. With no deaths the ratio is the kill
// count.
func KDRatio(kills, deaths int) (float64, string) {
	var ratio float64
	if deaths == 0 {
		ratio = float64(kills)
	} else {
		ratio = float64(kills) / float64(deaths)
	}
	return ratio, fmt.Sprintf("%.2f", ratio)
}

// buildStandings partitions the final aggregates into the two teams. When
// projected is non-nil the rows show projected stats; the winner is always
// decided on final scores.
func buildStandings(data *domain.RoundData, projected map[string]ProjectedStat) Standings {
	st := Standings{
		Axis:   TeamStanding{Team: domain.TeamAxis, Name: domain.TeamName(domain.TeamAxis), Players: []TeamPlayer{}},
		Allies: TeamStanding{Team: domain.TeamAllies, Name: domain.TeamName(domain.TeamAllies), Players: []TeamPlayer{}},
	}

	for _, p := range data.Players {
		var ts *TeamStanding
		switch data.TeamOf(p) {
		case domain.TeamAxis:
			ts = &st.Axis
		case domain.TeamAllies:
			ts = &st.Allies
		default:
			continue
		}

		row := TeamPlayer{Name: p.Name, Score: p.Score, Kills: p.Kills, Deaths: p.Deaths, FinalScore: p.Score}
		if projected != nil {
			ps := projected[p.Name]
			row.Score, row.Kills, row.Deaths = ps.Score, ps.Kills, ps.Deaths
		}
		ts.Players = append(ts.Players, row)
		ts.TotalScore += row.Score
		ts.TotalKills += row.Kills
		ts.TotalDeaths += row.Deaths
		ts.FinalScore += p.Score
	}

	for _, ts := range []*TeamStanding{&st.Axis, &st.Allies} {
		sort.SliceStable(ts.Players, func(i, j int) bool {
			return ts.Players[i].Score > ts.Players[j].Score
		})
		ts.KDRatio, ts.KDDisplay = KDRatio(ts.TotalKills, ts.TotalDeaths)
	}

	switch {
	case st.Axis.FinalScore > st.Allies.FinalScore:
		st.Winner = domain.TeamAxis
		st.Axis.Winner = true
	case st.Allies.FinalScore > st.Axis.FinalScore:
		st.Winner = domain.TeamAllies
		st.Allies.Winner = true
	}
	return st
}
