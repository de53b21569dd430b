package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sensornet/internal/ir"
)

// ReserveSequence reserves block consecutive local sequence numbers for the
// node and returns the first. Numbers start at 1 and are never reused.
func (s *Store) ReserveSequence(ctx context.Context, addr ir.Addr, block int32) (int32, error) {
	if block <= 0 {
		return 0, fmt.Errorf("reserve sequence: block must be positive, got %d", block)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var next int64
	err = tx.QueryRowContext(ctx, `SELECT next_seq FROM sequences WHERE node_addr = ?`, int64(addr)).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 1
	case err != nil:
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	if next+int64(block) > 1<<31 {
		return 0, fmt.Errorf("reserve sequence: node %d exhausted its sequence space", addr)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sequences (node_addr, next_seq) VALUES (?, ?)
		ON CONFLICT(node_addr) DO UPDATE SET next_seq = excluded.next_seq
	`, int64(addr), next+int64(block))
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reserve sequence: commit: %w", err)
	}
	return int32(next), nil
}

// Session is one start of a node.
type Session struct {
	ID        uuid.UUID
	Node      ir.Addr
	StartedAt time.Time
	SeqStart  int32
}

// StartSession records a node start and returns it. Session IDs are UUIDv7,
// so they sort by start time.
func (s *Store) StartSession(ctx context.Context, addr ir.Addr, now time.Time, seqStart int32) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	sess := Session{ID: id, Node: addr, StartedAt: now.UTC(), SeqStart: seqStart}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, node_addr, started_at, seq_start)
		VALUES (?, ?, ?, ?)
	`, id.String(), int64(addr), sess.StartedAt.UnixNano(), seqStart)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// Sessions returns the node's sessions, oldest first.
func (s *Store) Sessions(ctx context.Context, addr ir.Addr) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, seq_start FROM sessions
		WHERE node_addr = ?
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`, int64(addr))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			id      string
			started int64
			sess    = Session{Node: addr}
		)
		if err := rows.Scan(&id, &started, &sess.SeqStart); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started).UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SetProperty stores a node property. value is kept as its token.
func (s *Store) SetProperty(ctx context.Context, addr ir.Addr, key string, value ir.Value) error {
	tok, err := ir.FormatToken(value)
	if err != nil {
		return fmt.Errorf("set property %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO properties (node_addr, key, value) VALUES (?, ?, ?)
		ON CONFLICT(node_addr, key) DO UPDATE SET value = excluded.value
	`, int64(addr), key, tok)
	if err != nil {
		return fmt.Errorf("set property %q: %w", key, err)
	}
	return nil
}

// Properties returns every property of the node.
func (s *Store) Properties(ctx context.Context, addr ir.Addr) (map[string]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM properties WHERE node_addr = ? ORDER BY key
	`, int64(addr))
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	props := make(map[string]ir.Value)
	for rows.Next() {
		var key, tok string
		if err := rows.Scan(&key, &tok); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		v, err := ir.ParseToken(tok)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		props[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return props, nil
}
