package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/trinity-replay/internal/domain"
)

func TestStandings_Winner(t *testing.T) {
	cases := []struct {
		axis, allies int
		want         int
	}{
		{10, 10, 0},
		{11, 10, domain.TeamAxis},
		{10, 11, domain.TeamAllies},
	}
	for _, c := range cases {
		data := &domain.RoundData{Players: []domain.PlayerAggregate{
			{Name: "x", Team: domain.TeamAxis, Score: c.axis},
			{Name: "y", Team: domain.TeamAllies, Score: c.allies},
		}}
		st := buildStandings(data, nil)
		assert.Equal(t, c.want, st.Winner, "%d vs %d", c.axis, c.allies)
		assert.Equal(t, c.want == domain.TeamAxis, st.Axis.Winner)
		assert.Equal(t, c.want == domain.TeamAllies, st.Allies.Winner)
	}
}

func TestStandings_ExcludesUnassignedTeams(t *testing.T) {
	data := &domain.RoundData{
		PlayerTeams: map[string]int{"spectator": 3, "moved": 2},
		Players: []domain.PlayerAggregate{
			{Name: "a", Team: 1, Score: 5},
			{Name: "spectator", Team: 1, Score: 100},
			{Name: "moved", Team: 1, Score: 7},
			{Name: "nobody", Score: 9},
		},
	}
	st := buildStandings(data, nil)
	require.Len(t, st.Axis.Players, 1)
	assert.Equal(t, "a", st.Axis.Players[0].Name)
	require.Len(t, st.Allies.Players, 1)
	assert.Equal(t, "moved", st.Allies.Players[0].Name)
	assert.Equal(t, domain.TeamAllies, st.Winner)
}

func TestStandings_ProjectedRowsFinalWinner(t *testing.T) {
	data := &domain.RoundData{
		PlayerTeams: map[string]int{"a1": 1, "a2": 1, "b1": 2},
		PlayerScores: map[string][]domain.Snapshot{
			"a1": {snap("t1", 1, 0, 0), snap("t3", 10, 3, 1)},
			"a2": {snap("t2", 8, 1, 0), snap("t3", 9, 2, 0)},
			"b1": {snap("t1", 5, 1, 0), snap("t3", 15, 4, 2)},
		},
		Players: []domain.PlayerAggregate{
			{Name: "a1", Score: 12, Kills: 3, Deaths: 1},
			{Name: "a2", Score: 9, Kills: 2, Deaths: 0},
			{Name: "b1", Score: 20, Kills: 5, Deaths: 2},
		},
	}
	e := New(data, Options{})
	defer e.Close()

	e.Seek(1) // t2
	st := e.Standings()
	require.Len(t, st.Axis.Players, 2)
	assert.Equal(t, "a2", st.Axis.Players[0].Name)
	assert.Equal(t, 8, st.Axis.Players[0].Score)
	assert.Equal(t, 9, st.Axis.TotalScore)
	assert.Equal(t, 21, st.Axis.FinalScore)
	assert.Equal(t, 5, st.Allies.TotalScore)
	assert.Equal(t, domain.TeamAxis, st.Winner)

	e.Seek(2)
	st = e.Standings()
	assert.Equal(t, "a1", st.Axis.Players[0].Name)
	assert.Equal(t, 12, st.Axis.Players[0].Score)
	assert.Equal(t, 21, st.Axis.TotalScore)
}

func TestKDRatio(t *testing.T) {
	cases := []struct {
		kills, deaths int
		ratio         float64
		display       string
	}{
		{120, 80, 1.5, "1.50"},
		{5, 0, 5, "5.00"},
		{0, 0, 0, "0.00"},
		{0, 4, 0, "0.00"},
		{1, 3, 1.0 / 3.0, "0.33"},
	}
	for _, c := range cases {
		r, d := KDRatio(c.kills, c.deaths)
		assert.InDelta(t, c.ratio, r, 1e-9)
		assert.Equal(t, c.display, d)
	}
}
