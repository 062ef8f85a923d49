package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ernie/trinity-replay/internal/domain"
)

func rosterOf(names ...string) *domain.RoundData {
	scores := map[string][]domain.Snapshot{}
	for i, n := range names {
		scores[n] = []domain.Snapshot{snap("t1", 100-i, 0, 0)}
	}
	return &domain.RoundData{PlayerScores: scores}
}

func TestSelection_ToggleTwiceIsIdentity(t *testing.T) {
	e := New(rosterOf("a", "b", "c"), Options{DefaultSelection: 2})
	defer e.Close()

	before := e.Selected()
	for _, name := range []string{"a", "c", "zed"} {
		e.TogglePlayer(name)
		e.TogglePlayer(name)
		assert.Equal(t, before, e.Selected(), name)
	}
}

func TestSelection_IsolateRestores(t *testing.T) {
	e := New(rosterOf("a", "b", "c", "d"), Options{})
	defer e.Close()
	e.SelectTopN(3)

	e.Isolate("b")
	assert.Equal(t, []string{"b"}, e.Selected())

	e.Isolate("b")
	assert.Equal(t, []string{"a", "b", "c"}, e.Selected())
}

func TestSelection_IsolateSingleSlot(t *testing.T) {
	e := New(rosterOf("a", "b", "c", "d"), Options{})
	defer e.Close()
	e.SelectAll()

	e.Isolate("a")
	e.Isolate("c") // overwrites the remembered selection with {a}
	assert.Equal(t, []string{"c"}, e.Selected())

	e.Isolate("c")
	assert.Equal(t, []string{"a"}, e.Selected())

	// memory was consumed; isolating a again just remembers {a}
	e.Isolate("a")
	assert.Equal(t, []string{"a"}, e.Selected())
}

func TestSelection_Bulk(t *testing.T) {
	e := New(rosterOf("a", "b", "c", "d", "e", "f", "g"), Options{})
	defer e.Close()

	e.SelectAll()
	assert.Len(t, e.Selected(), 7)

	e.SelectNone()
	assert.Empty(t, e.Selected())
	assert.Empty(t, e.ChartData()[0].Scores)

	e.SelectTopN(5)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, e.Selected())

	e.SelectTopN(50)
	assert.Len(t, e.Selected(), 7)

	e.SelectTopN(-1)
	assert.Empty(t, e.Selected())
}

func TestSelection_NotifiesObservers(t *testing.T) {
	e := New(rosterOf("a", "b"), Options{})
	defer e.Close()

	var got []Change
	e.Observe(func(c Change) { got = append(got, c) })
	e.TogglePlayer("a")
	e.Isolate("b")

	assert.Equal(t, []Change{ChangeSelection, ChangeSelection}, got)
}

func TestSelection_SelectPlayersCountsRepeatsOnce(t *testing.T) {
	e := New(rosterOf("a", "b", "c"), Options{})
	defer e.Close()

	e.SelectPlayers([]string{"c", "a", "c"})
	assert.Equal(t, []string{"a", "c"}, e.Selected())

	e.SelectPlayers([]string{})
	assert.Empty(t, e.Selected())
}
