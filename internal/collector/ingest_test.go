package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/trinity-replay/internal/config"
	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/metrics"
	"github.com/ernie/trinity-replay/internal/storage"
)

func testNATSConfig() config.NATSConfig {
	return config.NATSConfig{
		Embedded:      true,
		Host:          "127.0.0.1",
		Port:          server.RANDOM_PORT,
		SubjectPrefix: "test.replay",
	}
}

func startIngestor(t *testing.T) (*Ingestor, *storage.Store, string) {
	t.Helper()

	ns, err := StartEmbeddedServer(testNATSConfig())
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	store, err := storage.New(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ing := NewIngestor(testNATSConfig(), store, metrics.New())
	require.NoError(t, ing.Start(ns.ClientURL()))
	t.Cleanup(ing.Stop)
	return ing, store, ns.ClientURL()
}

func nextEvent(t *testing.T, ing *Ingestor) domain.Event {
	t.Helper()
	select {
	case ev := <-ing.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestIngestor_StoresSnapshots(t *testing.T) {
	ing, store, url := startIngestor(t)

	pub, err := NewPublisher(url, "test.replay")
	require.NoError(t, err)
	require.NoError(t, pub.PublishSnapshot(SnapshotMessage{
		RoundUUID: "r-1",
		MapName:   "obj/obj_team2",
		Player:    "Alice",
		Team:      domain.TeamAxis,
		Snapshot:  domain.Snapshot{Timestamp: "2024-05-01T20:00:05Z", Score: 20, Kills: 2},
	}))
	require.NoError(t, pub.Close())

	ev := nextEvent(t, ing)
	assert.Equal(t, domain.EventRoundUpdated, ev.Type)
	update, ok := ev.Data.(domain.RoundUpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, "r-1", update.UUID)
	assert.Equal(t, "Alice", update.Player)
	assert.False(t, update.Ended)

	data, err := store.GetRoundData(context.Background(), ev.RoundID)
	require.NoError(t, err)
	assert.Equal(t, "obj/obj_team2", data.MapName)
	require.Len(t, data.PlayerScores["Alice"], 1)
	assert.Equal(t, 2, data.PlayerScores["Alice"][0].Kills)
	assert.Equal(t, domain.TeamAxis, data.PlayerTeams["Alice"])

	values, err := ing.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["trinity_replay_snapshots_ingested_total"])
}

func TestIngestor_PublishRoundEndsRound(t *testing.T) {
	ing, store, url := startIngestor(t)

	end := time.Date(2024, 5, 1, 20, 10, 0, 0, time.UTC)
	round := &domain.RoundData{
		UUID:     "r-2",
		MapName:  "obj/obj_team4",
		RoundEnd: &end,
		PlayerScores: map[string][]domain.Snapshot{
			"Alice": {{Timestamp: "2024-05-01T20:00:00Z"}, {Timestamp: "2024-05-01T20:00:10Z", Score: 5, Kills: 1}},
			"Bob":   {{Timestamp: "2024-05-01T20:00:05Z", Deaths: 1}},
		},
		PlayerTeams: map[string]int{"Alice": domain.TeamAxis, "Bob": domain.TeamAllies},
		Players: []domain.PlayerAggregate{
			{Name: "Alice", Score: 5, Kills: 1},
			{Name: "Bob", Deaths: 1},
		},
	}

	pub, err := NewPublisher(url, "test.replay")
	require.NoError(t, err)
	require.NoError(t, pub.PublishRound(round, 0))
	require.NoError(t, pub.Close())

	// three snapshots then the end of round
	var last domain.Event
	for i := 0; i < 4; i++ {
		last = nextEvent(t, ing)
	}
	update := last.Data.(domain.RoundUpdatedEvent)
	assert.True(t, update.Ended)

	n, err := store.CountSnapshots(context.Background(), last.RoundID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	r, err := store.GetRoundByUUID(context.Background(), "r-2")
	require.NoError(t, err)
	require.NotNil(t, r.EndedAt)
	assert.True(t, end.Equal(*r.EndedAt))
	assert.Equal(t, 2, r.PlayerCount)
}

func TestIngestor_DropsMalformedMessages(t *testing.T) {
	ing, _, url := startIngestor(t)

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	require.NoError(t, nc.Publish(SnapshotSubject("test.replay"), []byte("{not json")))
	require.NoError(t, nc.Publish(SnapshotSubject("test.replay"), []byte(`{"round_uuid":"r-3"}`)))
	require.NoError(t, nc.Flush())

	select {
	case ev := <-ing.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	values, err := ing.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, values["trinity_replay_messages_dropped_total"])
}

func TestPublishRound_RequiresUUID(t *testing.T) {
	_, _, url := startIngestor(t)

	pub, err := NewPublisher(url, "test.replay")
	require.NoError(t, err)
	defer pub.Close()

	assert.Error(t, pub.PublishRound(&domain.RoundData{}, 0))
}
