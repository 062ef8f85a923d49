package replay

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/trinity-replay/internal/domain"
)

func snap(ts string, score, kills, deaths int) domain.Snapshot {
	return domain.Snapshot{Timestamp: ts, Score: score, Kills: kills, Deaths: deaths}
}

func scenarioA() *domain.RoundData {
	return &domain.RoundData{
		PlayerScores: map[string][]domain.Snapshot{
			"Alice": {snap("00:00", 0, 0, 0), snap("00:05", 100, 2, 0)},
			"Bob":   {snap("00:02", 50, 1, 1)},
		},
	}
}

func TestEngine_ScenarioA(t *testing.T) {
	e := New(scenarioA(), Options{})
	defer e.Close()

	assert.Equal(t, []string{"00:00", "00:02", "00:05"}, e.Timestamps())

	require.Equal(t, 1, e.Seek(1))
	stats := e.StatsAtTime()
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats["Alice"].Score)
	assert.Equal(t, 50, stats["Bob"].Score)

	log := e.CombatLog()
	require.Len(t, log, 1)
	assert.Equal(t, CombatEvent{Kind: KindKill, Timestamp: "00:05", Player: "Alice", Count: 2, TotalKills: 2}, log[0])
}

func TestEngine_ScenarioB_DefaultSelection(t *testing.T) {
	scores := map[string][]domain.Snapshot{}
	finals := []int{90, 80, 70, 60, 50, 40, 30}
	for i, s := range finals {
		scores[fmt.Sprintf("p%d", i)] = []domain.Snapshot{snap("2024-05-01T20:00:00Z", s, 0, 0)}
	}
	e := New(&domain.RoundData{PlayerScores: scores}, Options{})
	defer e.Close()

	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, e.Selected())
}

func TestEngine_ScenarioC_TeamKD(t *testing.T) {
	data := &domain.RoundData{
		PlayerTeams: map[string]int{"a": 1, "b": 1, "c": 2},
		Players: []domain.PlayerAggregate{
			{Name: "a", Score: 10, Kills: 70, Deaths: 30},
			{Name: "b", Score: 20, Kills: 50, Deaths: 50},
			{Name: "c", Score: 5, Kills: 5, Deaths: 0},
		},
	}
	e := New(data, Options{})
	defer e.Close()

	st := e.Standings()
	assert.Equal(t, 120, st.Axis.TotalKills)
	assert.Equal(t, 80, st.Axis.TotalDeaths)
	assert.Equal(t, "1.50", st.Axis.KDDisplay)
	assert.Equal(t, "5.00", st.Allies.KDDisplay)
}

func TestEngine_EmptyInput(t *testing.T) {
	for _, data := range []*domain.RoundData{nil, {}, {PlayerScores: map[string][]domain.Snapshot{"ghost": nil}}} {
		e := New(data, Options{})
		assert.Empty(t, e.Timestamps())
		assert.Empty(t, e.PlayerNames())
		assert.Empty(t, e.Selected())
		assert.Empty(t, e.CombatLog())
		assert.Empty(t, e.ChartData())
		assert.Nil(t, e.StatsAtTime())
		assert.True(t, e.AtEnd())
		assert.False(t, e.Play())
		assert.Equal(t, 0, e.Seek(3))
		assert.Equal(t, 0, e.ActiveTimers())
		e.Close()
	}
}

func TestTimeline_MonotonicUnion(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("2024-05-01T20:00:10Z", 1, 0, 0), snap("2024-05-01T20:00:30Z", 2, 0, 0)},
		"b": {snap("2024-05-01T20:00:05Z", 1, 0, 0), snap("2024-05-01T20:00:10Z", 3, 0, 0), snap("2024-05-01T20:01:00Z", 4, 0, 0)},
		"c": {snap("2024-05-01T20:00:30Z", 0, 0, 0)},
	}}
	e := New(data, Options{})
	defer e.Close()

	got := e.Timestamps()
	want := []string{"2024-05-01T20:00:05Z", "2024-05-01T20:00:10Z", "2024-05-01T20:00:30Z", "2024-05-01T20:01:00Z"}
	assert.Equal(t, want, got)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func TestTimeline_ParsedOrderBeatsStringOrder(t *testing.T) {
	// Offsets make string order disagree with instant order.
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("2024-05-01T21:00:00+02:00", 1, 0, 0)},
		"b": {snap("2024-05-01T20:30:00Z", 1, 0, 0)},
	}}
	e := New(data, Options{})
	defer e.Close()

	assert.Equal(t, []string{"2024-05-01T21:00:00+02:00", "2024-05-01T20:30:00Z"}, e.Timestamps())
}

func TestProjection_LOCF(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"early": {snap("t1", 5, 1, 0), snap("t3", 9, 2, 1)},
		"late":  {snap("t4", 7, 1, 1)},
		"mid":   {snap("t2", 3, 0, 0), snap("t5", 8, 1, 0)},
	}}
	tl := buildTimeline(data.PlayerScores)
	require.Equal(t, []string{"t1", "t2", "t3", "t4", "t5"}, tl.stamps)

	cases := []struct {
		name string
		rank int
		want int
	}{
		{"early", 0, 5}, {"early", 1, 5}, {"early", 2, 9}, {"early", 4, 9},
		{"late", 0, 0}, {"late", 2, 0}, {"late", 3, 7}, {"late", 4, 7},
		{"mid", 0, 0}, {"mid", 1, 3}, {"mid", 3, 3}, {"mid", 4, 8},
		{"missing", 2, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, tl.project(c.name, c.rank).Score, "%s@%d", c.name, c.rank)
	}
}

func TestChartData_RaggedSeries(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 10, 0, 0), snap("t3", 30, 0, 0)},
		"b": {snap("t2", 20, 0, 0)},
	}}
	e := New(data, Options{})
	defer e.Close()

	chart := e.ChartData()
	require.Len(t, chart, 3)
	assert.Equal(t, map[string]int{"a": 10, "b": 0}, chart[0].Scores)
	assert.Equal(t, map[string]int{"a": 10, "b": 20}, chart[1].Scores)
	assert.Equal(t, map[string]int{"a": 30, "b": 20}, chart[2].Scores)

	e.TogglePlayer("b")
	chart = e.ChartData()
	assert.Equal(t, map[string]int{"a": 30}, chart[2].Scores)
}

func TestStatsAtTime_NilAtEnd(t *testing.T) {
	e := New(scenarioA(), Options{})
	defer e.Close()

	assert.True(t, e.AtEnd())
	assert.Nil(t, e.StatsAtTime())

	e.Seek(0)
	stats := e.StatsAtTime()
	require.NotNil(t, stats)
	assert.Len(t, stats, 2)
	assert.Equal(t, ProjectedStat{}, stats["Bob"])
}

func TestCombatLog_NonNegativeAndSums(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 0, 1, 0), snap("t2", 5, 3, 1), snap("t4", 9, 6, 1), snap("t5", 10, 7, 3)},
		"b": {snap("t2", 0, 0, 0), snap("t3", 2, 1, 4)},
	}}
	e := New(data, Options{})
	defer e.Close()

	kills := map[string]int{}
	counts := map[string]int{}
	for _, ev := range e.CombatLog() {
		assert.Positive(t, ev.Count)
		counts[ev.Player]++
		if ev.Kind == KindKill {
			kills[ev.Player] += ev.Count
		}
	}
	assert.Equal(t, 6, kills["a"])
	assert.Equal(t, 1, kills["b"])
	assert.LessOrEqual(t, counts["a"], (4-1)*2)
	assert.LessOrEqual(t, counts["b"], (2-1)*2)

	log := e.CombatLog()
	assert.True(t, sort.SliceIsSorted(log, func(i, j int) bool { return log[i].Timestamp < log[j].Timestamp }))
}

func TestCombatLog_StableTieOrder(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"top":    {snap("t1", 0, 0, 0), snap("t2", 50, 1, 1)},
		"bottom": {snap("t1", 0, 0, 0), snap("t2", 10, 2, 0)},
	}}
	e := New(data, Options{})
	defer e.Close()

	log := e.CombatLog()
	require.Len(t, log, 3)
	assert.Equal(t, "top", log[0].Player)
	assert.Equal(t, KindKill, log[0].Kind)
	assert.Equal(t, "top", log[1].Player)
	assert.Equal(t, KindDeath, log[1].Kind)
	assert.Equal(t, "bottom", log[2].Player)
}

func TestCombatLog_NegativeDeltaIgnored(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 10, 5, 2), snap("t2", 8, 3, 2), snap("t3", 12, 4, 3)},
	}}
	e := New(data, Options{})
	defer e.Close()

	log := e.CombatLog()
	require.Len(t, log, 2)
	assert.Equal(t, CombatEvent{Kind: KindKill, Timestamp: "t3", Player: "a", Count: 1, TotalKills: 4, TotalDeaths: 3}, log[0])
	assert.Equal(t, KindDeath, log[1].Kind)

	anomalies := e.Anomalies()
	require.Len(t, anomalies, 2)
	assert.Equal(t, "kills", anomalies[0].Field)
	assert.Equal(t, "score", anomalies[1].Field)
}

func TestCombatKind_JSON(t *testing.T) {
	b, err := json.Marshal(CombatEvent{Kind: KindDeath, Player: "x", Count: 1})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"deaths"`)

	var ev CombatEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	assert.Equal(t, KindDeath, ev.Kind)
}

func TestPlayerNames_SortedByFinalScore(t *testing.T) {
	data := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"carol": {snap("t1", 100, 0, 0), snap("t2", 20, 0, 0)},
		"alice": {snap("t1", 0, 0, 0), snap("t2", 50, 0, 0)},
		"bob":   {snap("t2", 50, 0, 0)},
		"empty": {},
	}}
	e := New(data, Options{})
	defer e.Close()

	assert.Equal(t, []string{"alice", "bob", "carol"}, e.PlayerNames())
	i, ok := e.ColorIndex("carol")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = e.ColorIndex("empty")
	assert.False(t, ok)
}

func TestPalette_Wraps(t *testing.T) {
	assert.GreaterOrEqual(t, PaletteSize(), 20)
	seen := map[string]bool{}
	for i := 0; i < PaletteSize(); i++ {
		seen[PaletteColor(i)] = true
	}
	assert.Len(t, seen, PaletteSize())
	assert.Equal(t, PaletteColor(3), PaletteColor(3+PaletteSize()))
}

func TestLoad_DefaultSelectionAppliedOnce(t *testing.T) {
	e := New(nil, Options{DefaultSelection: 2})
	defer e.Close()

	var changes []Change
	e.Observe(func(c Change) { changes = append(changes, c) })

	assert.Empty(t, e.Selected())

	e.Load(&domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 30, 0, 0)},
		"b": {snap("t1", 20, 0, 0)},
		"c": {snap("t1", 10, 0, 0)},
	}})
	assert.Equal(t, []string{"a", "b"}, e.Selected())
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Has(ChangeData|ChangeSelection))

	e.TogglePlayer("c")
	e.TogglePlayer("a")

	e.Load(&domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 30, 0, 0), snap("t2", 31, 0, 0)},
		"b": {snap("t1", 20, 0, 0)},
		"c": {snap("t1", 10, 0, 0), snap("t2", 90, 0, 0)},
	}})
	assert.Equal(t, []string{"c", "b"}, e.Selected())
	assert.False(t, changes[len(changes)-1].Has(ChangeSelection))
}

func TestLoad_ScrubberPinnedToEnd(t *testing.T) {
	e := New(&domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 1, 0, 0), snap("t2", 2, 0, 0)},
	}}, Options{})
	defer e.Close()
	require.Equal(t, 1, e.Index())

	more := &domain.RoundData{PlayerScores: map[string][]domain.Snapshot{
		"a": {snap("t1", 1, 0, 0), snap("t2", 2, 0, 0), snap("t3", 3, 0, 0)},
	}}
	e.Load(more)
	assert.Equal(t, 2, e.Index())

	e.Seek(0)
	e.Load(more)
	assert.Equal(t, 0, e.Index())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "00:05", FormatClock("00:05"))

	start, ok := parseTimestamp("2024-05-01T20:00:00Z")
	require.True(t, ok)
	assert.Equal(t, "01:35", FormatElapsed("2024-05-01T20:01:35Z", &start))
	assert.Equal(t, "-00:10", FormatElapsed("2024-05-01T19:59:50Z", &start))
	assert.Equal(t, "", FormatElapsed("garbage", &start))
	assert.Equal(t, "", FormatElapsed("2024-05-01T20:01:35Z", nil))
}

func TestReadModel_ReturnsCopies(t *testing.T) {
	e := New(scenarioA(), Options{})
	defer e.Close()
	e.Seek(1)

	stats := e.StatsAtTime()
	stats["Alice"] = ProjectedStat{Score: 999}
	delete(stats, "Bob")

	chart := e.ChartData()
	chart[1].Scores["Alice"] = 999

	v := e.View()
	assert.Equal(t, 0, v.StatsAtTime["Alice"].Score)
	assert.Equal(t, 50, v.StatsAtTime["Bob"].Score)
	assert.Equal(t, 0, v.Chart[1].Scores["Alice"])

	v.StatsAtTime["Bob"] = ProjectedStat{Score: -1}
	assert.Equal(t, 50, e.StatsAtTime()["Bob"].Score)
}
