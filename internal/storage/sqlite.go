package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ernie/trinity-replay/internal/domain"
	"github.com/ernie/trinity-replay/internal/replay"
)

// ErrRoundNotFound is returned when a round id or uuid has no row
var ErrRoundNotFound = errors.New("round not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Round methods ---

// UpsertRound creates a round or refreshes its metadata, keyed by UUID.
// A missing UUID is generated; r.ID and r.UUID are populated on return.
func (s *Store) UpsertRound(ctx context.Context, r *domain.Round) error {
	return upsertRound(ctx, s.db, r)
}

func upsertRound(ctx context.Context, db execer, r *domain.Round) error {
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	var endedAt *string
	if r.EndedAt != nil {
		v := formatTimestamp(*r.EndedAt)
		endedAt = &v
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO rounds (uuid, server_name, map_name, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			server_name = COALESCE(NULLIF(excluded.server_name, ''), server_name),
			map_name = CASE WHEN excluded.map_name != '' THEN excluded.map_name ELSE map_name END,
			ended_at = COALESCE(excluded.ended_at, ended_at)
	`, r.UUID, r.ServerName, r.MapName, formatTimestamp(r.StartedAt), endedAt)
	if err != nil {
		return fmt.Errorf("upserting round: %w", err)
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return db.QueryRowContext(ctx, "SELECT id FROM rounds WHERE uuid = ?", r.UUID).Scan(&r.ID)
}

// EndRound marks a round finished if it is still open
func (s *Store) EndRound(ctx context.Context, roundID int64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rounds SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, formatTimestamp(endedAt), roundID)
	return err
}

const roundColumns = `
	r.id, r.uuid, r.server_name, r.map_name, r.started_at, r.ended_at,
	(SELECT COUNT(*) FROM round_players rp WHERE rp.round_id = r.id)
`

// GetRound returns a round header by ID
func (s *Store) GetRound(ctx context.Context, id int64) (*domain.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	return r, err
}

// GetRoundByUUID returns a round header by UUID
func (s *Store) GetRoundByUUID(ctx context.Context, roundUUID string) (*domain.Round, error) {
	r, err := scanRound(s.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds r WHERE r.uuid = ?`, roundUUID))
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	return r, err
}

// ListRounds returns the most recent rounds, newest first. beforeID pages
// backwards from a previous result.
func (s *Store) ListRounds(ctx context.Context, limit int, beforeID *int64) ([]domain.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds r`
	args := []any{}
	if beforeID != nil {
		query += ` WHERE r.id < ?`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY r.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds := []domain.Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

// --- Player methods ---

// UpsertRoundPlayer records a player's final totals for a round
func (s *Store) UpsertRoundPlayer(ctx context.Context, roundID int64, p domain.PlayerAggregate) error {
	return upsertRoundPlayer(ctx, s.db, roundID, p)
}

func upsertRoundPlayer(ctx context.Context, db execer, roundID int64, p domain.PlayerAggregate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO round_players (round_id, name, team, score, kills, deaths)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(round_id, name) DO UPDATE SET
			team = excluded.team,
			score = excluded.score,
			kills = excluded.kills,
			deaths = excluded.deaths
	`, roundID, p.Name, nullableTeam(p.Team), p.Score, p.Kills, p.Deaths)
	return err
}

// SetPlayerTeam records which team a player ended the round on
func (s *Store) SetPlayerTeam(ctx context.Context, roundID int64, name string, team int) error {
	return setPlayerTeam(ctx, s.db, roundID, name, team)
}

func setPlayerTeam(ctx context.Context, db execer, roundID int64, name string, team int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO round_teams (round_id, name, team) VALUES (?, ?, ?)
		ON CONFLICT(round_id, name) DO UPDATE SET team = excluded.team
	`, roundID, name, team)
	return err
}

// --- Snapshot methods ---

// UpsertSnapshot stores one telemetry sample. A repeated timestamp for the
// same player replaces the earlier values.
func (s *Store) UpsertSnapshot(ctx context.Context, roundID int64, name string, snap domain.Snapshot) error {
	return upsertSnapshot(ctx, s.db, roundID, name, snap)
}

func upsertSnapshot(ctx context.Context, db execer, roundID int64, name string, snap domain.Snapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO player_snapshots (round_id, name, ts, score, kills, deaths)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(round_id, name, ts) DO UPDATE SET
			score = excluded.score,
			kills = excluded.kills,
			deaths = excluded.deaths
	`, roundID, name, snap.Timestamp, snap.Score, snap.Kills, snap.Deaths)
	return err
}

// CountSnapshots returns how many samples are stored for a round
func (s *Store) CountSnapshots(ctx context.Context, roundID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_snapshots WHERE round_id = ?`, roundID).Scan(&n)
	return n, err
}

// --- Replay payload ---

// GetRoundData assembles the full replay payload for a round
func (s *Store) GetRoundData(ctx context.Context, roundID int64) (*domain.RoundData, error) {
	round, err := s.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	data := &domain.RoundData{
		ID:         round.ID,
		UUID:       round.UUID,
		ServerName: round.ServerName,
		MapName:    round.MapName,
		RoundEnd:   round.EndedAt,
	}
	started := round.StartedAt
	data.RoundStart = &started
	data.Normalize()

	if err := s.loadPlayers(ctx, data); err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}
	if err := s.loadTeams(ctx, data); err != nil {
		return nil, fmt.Errorf("loading teams: %w", err)
	}
	if err := s.loadSnapshots(ctx, data); err != nil {
		return nil, fmt.Errorf("loading snapshots: %w", err)
	}
	return data, nil
}

func (s *Store) loadPlayers(ctx context.Context, data *domain.RoundData) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, team, score, kills, deaths
		FROM round_players WHERE round_id = ?
		ORDER BY score DESC, name
	`, data.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayerAggregate(rows)
		if err != nil {
			return err
		}
		data.Players = append(data.Players, *p)
	}
	return rows.Err()
}

func (s *Store) loadTeams(ctx context.Context, data *domain.RoundData) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, team FROM round_teams WHERE round_id = ?`, data.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var team int
		if err := rows.Scan(&name, &team); err != nil {
			return err
		}
		data.PlayerTeams[name] = team
	}
	return rows.Err()
}

// loadSnapshots reads each player's samples in timestamp order. SQL orders
// by the stored text, so each series is re-sorted by parsed time to handle
// mixed UTC offsets.
func (s *Store) loadSnapshots(ctx context.Context, data *domain.RoundData) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, ts, score, kills, deaths
		FROM player_snapshots WHERE round_id = ?
		ORDER BY name, ts
	`, data.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var snap domain.Snapshot
		if err := rows.Scan(&name, &snap.Timestamp, &snap.Score, &snap.Kills, &snap.Deaths); err != nil {
			return err
		}
		data.PlayerScores[name] = append(data.PlayerScores[name], snap)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, snaps := range data.PlayerScores {
		sortSnapshots(snaps)
	}
	return nil
}

// sortSnapshots orders one player's samples the way the replay timeline
// orders timestamps
func sortSnapshots(snaps []domain.Snapshot) {
	stamps := make([]string, len(snaps))
	for i, snap := range snaps {
		stamps[i] = snap.Timestamp
	}
	replay.SortTimestamps(stamps)
	pos := make(map[string]int, len(stamps))
	for i, ts := range stamps {
		pos[ts] = i
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return pos[snaps[i].Timestamp] < pos[snaps[j].Timestamp]
	})
}

// ImportRoundData stores a complete replay payload in one transaction and
// returns the round ID
func (s *Store) ImportRoundData(ctx context.Context, data *domain.RoundData) (int64, error) {
	data.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	round := &domain.Round{
		UUID:       data.UUID,
		ServerName: data.ServerName,
		MapName:    data.MapName,
		EndedAt:    data.RoundEnd,
	}
	if data.RoundStart != nil {
		round.StartedAt = *data.RoundStart
	}
	if err := upsertRound(ctx, tx, round); err != nil {
		return 0, err
	}

	for _, p := range data.Players {
		if err := upsertRoundPlayer(ctx, tx, round.ID, p); err != nil {
			return 0, fmt.Errorf("storing player %s: %w", p.Name, err)
		}
	}
	for name, team := range data.PlayerTeams {
		if err := setPlayerTeam(ctx, tx, round.ID, name, team); err != nil {
			return 0, fmt.Errorf("storing team for %s: %w", name, err)
		}
	}
	for name, snaps := range data.PlayerScores {
		for _, snap := range snaps {
			if err := upsertSnapshot(ctx, tx, round.ID, name, snap); err != nil {
				return 0, fmt.Errorf("storing snapshot for %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	data.ID = round.ID
	data.UUID = round.UUID
	return round.ID, nil
}

func nullableTeam(team int) *int {
	if team == 0 {
		return nil
	}
	return &team
}
