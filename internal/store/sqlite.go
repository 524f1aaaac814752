package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dkeye/voiceplay/internal/domain"
)

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the state database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; WAL lets readers in other processes through
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS calls (
			room   TEXT PRIMARY KEY,
			paused INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS assistants (
			room      TEXT PRIMARY KEY,
			assistant INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Assistant(ctx context.Context, room domain.RoomID) (int, bool, error) {
	var idx int
	err := s.db.QueryRowContext(ctx, `SELECT assistant FROM assistants WHERE room = ?`, string(room)).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get assistant: %w", err)
	}
	return idx, true, nil
}

func (s *SQLite) SetAssistant(ctx context.Context, room domain.RoomID, idx int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO assistants (room, assistant) VALUES (?, ?)
		ON CONFLICT(room) DO UPDATE SET assistant=excluded.assistant`, string(room), idx)
	if err != nil {
		return fmt.Errorf("failed to set assistant: %w", err)
	}
	return nil
}

func (s *SQLite) MarkPlaying(ctx context.Context, room domain.RoomID, paused bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls (room, paused) VALUES (?, ?)
		ON CONFLICT(room) DO UPDATE SET paused=excluded.paused`, string(room), paused)
	if err != nil {
		return fmt.Errorf("failed to mark playing: %w", err)
	}
	return nil
}

func (s *SQLite) RecordActiveCall(ctx context.Context, room domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls (room) VALUES (?) ON CONFLICT(room) DO NOTHING`, string(room))
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

func (s *SQLite) ForgetCall(ctx context.Context, room domain.RoomID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE room = ?`, string(room)); err != nil {
		return fmt.Errorf("failed to forget call: %w", err)
	}
	return nil
}

func (s *SQLite) ActiveCalls(ctx context.Context) ([]domain.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room FROM calls ORDER BY room`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()
	var out []domain.RoomID
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, domain.RoomID(r))
	}
	return out, rows.Err()
}

func (s *SQLite) Paused(ctx context.Context, room domain.RoomID) (bool, error) {
	var paused bool
	err := s.db.QueryRowContext(ctx, `SELECT paused FROM calls WHERE room = ?`, string(room)).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get paused: %w", err)
	}
	return paused, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
