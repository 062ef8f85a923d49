package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/replay"
)

// recentEvents is how many combat log entries the scoreboard shows
const recentEvents = 8

// printView writes a scoreboard for the view's scrubber position
func printView(out io.Writer, v replay.View) {
	header := fmt.Sprintf("Round %d  %s", v.RoundID, v.MapName)
	if v.Timestamp != "" {
		header += fmt.Sprintf("  %s", replay.FormatClock(v.Timestamp))
		if v.Elapsed != "" {
			header += fmt.Sprintf(" (%s)", v.Elapsed)
		}
		header += fmt.Sprintf("  [%d/%d]", v.Index+1, len(v.Timestamps))
	}
	header += "  " + v.State.String()
	fmt.Fprintln(out, strings.TrimSpace(header))
	fmt.Fprintln(out)

	if len(v.Players) == 0 {
		fmt.Fprintln(out, "No player telemetry recorded for this round.")
		return
	}

	rows := statsRows(v)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tPLAYER\tTEAM\tSCORE\tKILLS\tDEATHS")
	fmt.Fprintln(w, " \t------\t----\t-----\t-----\t------")
	for _, p := range v.Players {
		mark := " "
		if p.Selected {
			mark = "*"
		}
		team := domain.TeamName(p.Team)
		if team == "" {
			team = "-"
		}
		if s, ok := rows[p.Name]; ok {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", mark, p.Name, team, s.Score, s.Kills, s.Deaths)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\n", mark, p.Name, team)
		}
	}
	w.Flush()

	if st := v.Standings; len(st.Axis.Players) > 0 || len(st.Allies.Players) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s %d (K/D %s)  vs  %s %d (K/D %s)  %s\n",
			st.Axis.Name, st.Axis.TotalScore, st.Axis.KDDisplay,
			st.Allies.Name, st.Allies.TotalScore, st.Allies.KDDisplay,
			winnerLine(st))
	}

	events := eventsUpTo(v)
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Recent combat:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t+%d %s\t(%d/%d)\n",
			replay.FormatClock(ev.Timestamp), ev.Player, ev.Count, ev.Kind, ev.TotalKills, ev.TotalDeaths)
	}
	w.Flush()
}

// statsRows returns each player's numbers at the scrubber: projected stats
// mid-round, final team rows at the end
func statsRows(v replay.View) map[string]replay.ProjectedStat {
	if v.StatsAtTime != nil {
		return v.StatsAtTime
	}
	rows := make(map[string]replay.ProjectedStat)
	for _, team := range []replay.TeamStanding{v.Standings.Axis, v.Standings.Allies} {
		for _, p := range team.Players {
			rows[p.Name] = replay.ProjectedStat{Score: p.Score, Kills: p.Kills, Deaths: p.Deaths}
		}
	}
	return rows
}

func winnerLine(st replay.Standings) string {
	switch st.Winner {
	case domain.TeamAxis:
		return "Winner: " + st.Axis.Name
	case domain.TeamAllies:
		return "Winner: " + st.Allies.Name
	default:
		return "Draw"
	}
}

// eventsUpTo returns the last few combat events at or before the scrubber
func eventsUpTo(v replay.View) []replay.CombatEvent {
	rank := make(map[string]int, len(v.Timestamps))
	for i, ts := range v.Timestamps {
		rank[ts] = i
	}
	var events []replay.CombatEvent
	for _, ev := range v.CombatLog {
		if r, ok := rank[ev.Timestamp]; ok && r <= v.Index {
			events = append(events, ev)
		}
	}
	if len(events) > recentEvents {
		events = events[len(events)-recentEvents:]
	}
	return events
}

// leaderLine summarizes the selected players' chart scores at the scrubber
func leaderLine(v replay.View) string {
	if v.Index < 0 || v.Index >= len(v.Chart) {
		return ""
	}
	scores := v.Chart[v.Index].Scores
	parts := make([]string, 0, len(v.Selected))
	for _, name := range v.Selected {
		parts = append(parts, fmt.Sprintf("%s %d", name, scores[name]))
	}
	return strings.Join(parts, "  ")
}
