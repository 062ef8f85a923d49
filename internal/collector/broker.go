package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/ernie/trinity-replay/internal/config"
	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/replay"
)

// StartEmbeddedServer runs an in-process NATS server for single-host setups
func StartEmbeddedServer(cfg config.NATSConfig) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "trinity-replay",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoSigs:     true,
		NoLog:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server did not become ready")
	}
	return ns, nil
}

// Publisher sends round telemetry the way a game server plugin would
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects a publisher to the broker at url
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("trinity-replay-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	defer p.nc.Close()
	return p.nc.Flush()
}

// PublishSnapshot sends one telemetry sample
func (p *Publisher) PublishSnapshot(m SnapshotMessage) error {
	return p.publish(SnapshotSubject(p.prefix), m)
}

// PublishRoundEnd sends a round's final totals
func (p *Publisher) PublishRoundEnd(m RoundEndMessage) error {
	return p.publish(RoundEndSubject(p.prefix), m)
}

// PublishRound streams a complete round: every snapshot in global timestamp
// order, pausing delay between distinct timestamps, then the final totals
func (p *Publisher) PublishRound(data *domain.RoundData, delay time.Duration) error {
	data.Normalize()
	if data.UUID == "" {
		return errors.New("round has no uuid")
	}

	type sample struct {
		player string
		snap   domain.Snapshot
	}
	byStamp := map[string][]sample{}
	var stamps []string
	for name, snaps := range data.PlayerScores {
		for _, s := range snaps {
			if _, ok := byStamp[s.Timestamp]; !ok {
				stamps = append(stamps, s.Timestamp)
			}
			byStamp[s.Timestamp] = append(byStamp[s.Timestamp], sample{player: name, snap: s})
		}
	}
	replay.SortTimestamps(stamps)

	for i, ts := range stamps {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		for _, s := range byStamp[ts] {
			err := p.PublishSnapshot(SnapshotMessage{
				RoundUUID:  data.UUID,
				ServerName: data.ServerName,
				MapName:    data.MapName,
				StartedAt:  data.RoundStart,
				Player:     s.player,
				Team:       data.PlayerTeams[s.player],
				Snapshot:   s.snap,
			})
			if err != nil {
				return err
			}
		}
	}

	end := RoundEndMessage{RoundUUID: data.UUID, Players: data.Players, Teams: data.PlayerTeams}
	if data.RoundEnd != nil {
		end.EndedAt = *data.RoundEnd
	}
	return p.PublishRoundEnd(end)
}

func (p *Publisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := p.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
