package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/trinity-replay/internal/replay"
)

func TestReplayPath_EscapesPlayerNames(t *testing.T) {
	queries := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/api/rounds/4/replay", req.URL.Path)
		q := req.URL.Query()
		queries <- []string{q.Get("index"), q.Get("players"), q.Get("top")}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"round_id":4}`))
	}))
	defer srv.Close()

	saved := baseURL
	baseURL = srv.URL
	defer func() { baseURL = saved }()

	var view replay.View
	require.NoError(t, getJSON(replayPath(4, 2, "Tom&Jerry,Big Bob,A+B#1", 3), &view))
	assert.Equal(t, []string{"2", "Tom&Jerry,Big Bob,A+B#1", ""}, <-queries)
	assert.Equal(t, int64(4), view.RoundID)
}

func TestReplayPath_TopWithoutPlayers(t *testing.T) {
	assert.Equal(t, "/api/rounds/9/replay?top=3", replayPath(9, -1, "", 3))
	assert.Equal(t, "/api/rounds/9/replay", replayPath(9, -1, "", 0))
}

func TestSplitPlayers(t *testing.T) {
	assert.Equal(t, []string{"Big Bob", "Tom&Jerry"}, splitPlayers(" Big Bob ,,Tom&Jerry,"))
	assert.Nil(t, splitPlayers(""))
}
