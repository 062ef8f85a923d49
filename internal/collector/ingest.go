package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/trinity-replay/internal/config"
	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/metrics"
	"github.com/ernie/trinity-replay/internal/storage"
)

// storeTimeout bounds each database write made from a message handler
const storeTimeout = 5 * time.Second

// SnapshotMessage is published by a game server for each telemetry sample
type SnapshotMessage struct {
	RoundUUID  string          `json:"round_uuid"`
	ServerName string          `json:"server_name,omitempty"`
	MapName    string          `json:"map_name,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	Player     string          `json:"player"`
	Team       int             `json:"team,omitempty"`
	Snapshot   domain.Snapshot `json:"snapshot"`
}

// RoundEndMessage is published when a round finishes, carrying final totals
type RoundEndMessage struct {
	RoundUUID string                   `json:"round_uuid"`
	EndedAt   time.Time                `json:"ended_at"`
	Players   []domain.PlayerAggregate `json:"players"`
	Teams     map[string]int           `json:"teams,omitempty"`
}

// SnapshotSubject is the subject snapshot messages are published on
func SnapshotSubject(prefix string) string {
	return prefix + ".snapshot"
}

// RoundEndSubject is the subject round end messages are published on
func RoundEndSubject(prefix string) string {
	return prefix + ".round"
}

// Ingestor stores round telemetry arriving over NATS and announces each
// update on its event channel
type Ingestor struct {
	cfg     config.NATSConfig
	store   *storage.Store
	metrics *metrics.Metrics
	events  chan domain.Event

	mu     sync.Mutex
	nc     *nats.Conn
	rounds map[string]int64 // round uuid -> round id
}

// NewIngestor creates a new ingestor
func NewIngestor(cfg config.NATSConfig, store *storage.Store, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		cfg:     cfg,
		store:   store,
		metrics: m,
		events:  make(chan domain.Event, 100),
		rounds:  make(map[string]int64),
	}
}

// Events returns the event channel for WebSocket broadcasting
func (i *Ingestor) Events() <-chan domain.Event {
	return i.events
}

// Start connects to the broker at url and subscribes to telemetry subjects
func (i *Ingestor) Start(url string) error {
	nc, err := nats.Connect(url,
		nats.Name("trinity-replay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}

	// one subscription keeps a round's messages in publish order
	if _, err := nc.Subscribe(i.cfg.SubjectPrefix+".*", i.handle); err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return fmt.Errorf("flushing subscriptions: %w", err)
	}

	i.mu.Lock()
	i.nc = nc
	i.mu.Unlock()

	log.Printf("Listening for telemetry on %s.*", i.cfg.SubjectPrefix)
	return nil
}

// Stop drains subscriptions and closes the connection
func (i *Ingestor) Stop() {
	i.mu.Lock()
	nc := i.nc
	i.nc = nil
	i.mu.Unlock()

	if nc == nil {
		return
	}
	if err := nc.Drain(); err != nil {
		log.Printf("Warning: NATS drain failed: %v", err)
		nc.Close()
	}
	log.Println("Ingestor: shutdown complete")
}

func (i *Ingestor) handle(msg *nats.Msg) {
	switch msg.Subject {
	case SnapshotSubject(i.cfg.SubjectPrefix):
		i.handleSnapshot(msg)
	case RoundEndSubject(i.cfg.SubjectPrefix):
		i.handleRoundEnd(msg)
	default:
		log.Printf("Warning: ignoring message on unknown subject %s", msg.Subject)
	}
}

func (i *Ingestor) handleSnapshot(msg *nats.Msg) {
	var m SnapshotMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Printf("Warning: dropping malformed snapshot message: %v", err)
		i.drop("malformed")
		return
	}
	if m.RoundUUID == "" || m.Player == "" || m.Snapshot.Timestamp == "" {
		log.Printf("Warning: dropping snapshot without round, player or timestamp")
		i.drop("incomplete")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	roundID, err := i.roundID(ctx, &domain.Round{
		UUID:       m.RoundUUID,
		ServerName: m.ServerName,
		MapName:    m.MapName,
		StartedAt:  derefTime(m.StartedAt),
	})
	if err != nil {
		log.Printf("Error resolving round %s: %v", m.RoundUUID, err)
		i.drop("store")
		return
	}
	if err := i.store.UpsertSnapshot(ctx, roundID, m.Player, m.Snapshot); err != nil {
		log.Printf("Error storing snapshot for %s in round %d: %v", m.Player, roundID, err)
		i.drop("store")
		return
	}
	i.metrics.SnapshotsIngested.Inc()
	if m.Team != 0 {
		if err := i.store.SetPlayerTeam(ctx, roundID, m.Player, m.Team); err != nil {
			log.Printf("Error storing team for %s in round %d: %v", m.Player, roundID, err)
		}
	}

	i.emit(roundID, domain.RoundUpdatedEvent{UUID: m.RoundUUID, Player: m.Player, Snapshots: 1})
}

func (i *Ingestor) handleRoundEnd(msg *nats.Msg) {
	var m RoundEndMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Printf("Warning: dropping malformed round end message: %v", err)
		i.drop("malformed")
		return
	}
	if m.RoundUUID == "" {
		log.Printf("Warning: dropping round end without round uuid")
		i.drop("incomplete")
		return
	}
	if m.EndedAt.IsZero() {
		m.EndedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	roundID, err := i.roundID(ctx, &domain.Round{UUID: m.RoundUUID})
	if err != nil {
		log.Printf("Error resolving round %s: %v", m.RoundUUID, err)
		i.drop("store")
		return
	}
	for _, p := range m.Players {
		if err := i.store.UpsertRoundPlayer(ctx, roundID, p); err != nil {
			log.Printf("Error storing totals for %s in round %d: %v", p.Name, roundID, err)
		}
	}
	for name, team := range m.Teams {
		if err := i.store.SetPlayerTeam(ctx, roundID, name, team); err != nil {
			log.Printf("Error storing team for %s in round %d: %v", name, roundID, err)
		}
	}
	if err := i.store.EndRound(ctx, roundID, m.EndedAt); err != nil {
		log.Printf("Error ending round %d: %v", roundID, err)
	}

	i.metrics.RoundsEnded.Inc()
	log.Printf("Round %s ended with %d players", m.RoundUUID, len(m.Players))
	i.emit(roundID, domain.RoundUpdatedEvent{UUID: m.RoundUUID, Ended: true})
}

// roundID resolves a round uuid, creating the round on first sight
func (i *Ingestor) roundID(ctx context.Context, r *domain.Round) (int64, error) {
	i.mu.Lock()
	id, ok := i.rounds[r.UUID]
	i.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := i.store.UpsertRound(ctx, r); err != nil {
		return 0, err
	}

	i.mu.Lock()
	i.rounds[r.UUID] = r.ID
	i.mu.Unlock()
	log.Printf("Tracking round %s (id %d) on %s", r.UUID, r.ID, r.MapName)
	return r.ID, nil
}

func (i *Ingestor) emit(roundID int64, data domain.RoundUpdatedEvent) {
	event := domain.Event{
		Type:      domain.EventRoundUpdated,
		RoundID:   roundID,
		Timestamp: time.Now(),
		Data:      data,
	}
	select {
	case i.events <- event:
	default:
		log.Printf("Event channel full, dropping %s for round %d", event.Type, roundID)
	}
}

func (i *Ingestor) drop(reason string) {
	i.metrics.MessagesDropped.WithLabelValues(reason).Inc()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
