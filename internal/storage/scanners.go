package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/trinity-replay/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func scanNullInt64Value(ni sql.NullInt64) int {
	if ni.Valid {
		return int(ni.Int64)
	}
	return 0
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanRound scans a row selected with roundColumns
func scanRound(s scanner) (*domain.Round, error) {
	var r domain.Round
	var serverName sql.NullString
	var endedAt sql.NullTime
	err := s.Scan(&r.ID, &r.UUID, &serverName, &r.MapName, &r.StartedAt, &endedAt, &r.PlayerCount)
	if err != nil {
		return nil, err
	}
	r.ServerName = scanNullStringValue(serverName)
	r.EndedAt = scanNullTime(endedAt)
	return &r, nil
}

// scanPlayerAggregate scans a round_players row
func scanPlayerAggregate(s scanner) (*domain.PlayerAggregate, error) {
	var p domain.PlayerAggregate
	var team sql.NullInt64
	if err := s.Scan(&p.Name, &team, &p.Score, &p.Kills, &p.Deaths); err != nil {
		return nil, err
	}
	p.Team = scanNullInt64Value(team)
	return &p, nil
}
