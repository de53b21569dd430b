package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sensornet/internal/ir"
)

// QueryRecord is a query as started at its origin node.
type QueryRecord struct {
	ID     ir.TaskID
	Plan   string
	Schema string
	Start  time.Time
	Period time.Duration
	Runs   int32
}

// RecordQuery stores a started query. Recording the same TaskID twice is a
// no-op.
func (s *Store) RecordQuery(ctx context.Context, q QueryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (query_id, origin, seq, plan, schema, start_at, period_ns, runs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		q.ID.QueryID,
		int64(q.ID.Origin),
		q.ID.Seq,
		q.Plan,
		q.Schema,
		q.Start.UnixNano(),
		int64(q.Period),
		q.Runs,
	)
	if err != nil {
		return fmt.Errorf("record query %s: %w", q.ID, err)
	}
	return nil
}

// Queries returns the queries started at origin, ordered by query ID then
// sequence.
func (s *Store) Queries(ctx context.Context, origin ir.Addr) ([]QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_id, seq, plan, schema, start_at, period_ns, runs
		FROM queries
		WHERE origin = ?
		ORDER BY query_id ASC, seq ASC
	`, int64(origin))
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer rows.Close()

	out := []QueryRecord{}
	for rows.Next() {
		var (
			q             = QueryRecord{ID: ir.TaskID{Origin: origin}}
			start, period int64
		)
		if err := rows.Scan(&q.ID.QueryID, &q.ID.Seq, &q.Plan, &q.Schema, &start, &period, &q.Runs); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		q.Start = time.Unix(0, start).UTC()
		q.Period = time.Duration(period)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queries: %w", err)
	}
	return out, nil
}

// Exception is an evaluation failure reported for one epoch of a query.
type Exception struct {
	Query    ir.TaskID
	Epoch    int64
	Reporter ir.Addr
	Code     ir.ErrorCode
	Message  string
}

// RecordException stores an exception. A second report for the same query,
// epoch and reporter is ignored; inserted reports whether a row was added.
func (s *Store) RecordException(ctx context.Context, e Exception) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exceptions (query_id, origin, seq, epoch, reporter, code, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.Query.QueryID,
		int64(e.Query.Origin),
		e.Query.Seq,
		e.Epoch,
		int64(e.Reporter),
		string(e.Code),
		e.Message,
	)
	if err != nil {
		return false, fmt.Errorf("record exception: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record exception: %w", err)
	}
	return n > 0, nil
}

// Exceptions returns the exceptions recorded for a query ID in insertion
// order.
func (s *Store) Exceptions(ctx context.Context, queryID int32) ([]Exception, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, seq, epoch, reporter, code, message
		FROM exceptions
		WHERE query_id = ?
		ORDER BY id ASC
	`, queryID)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	out := []Exception{}
	for rows.Next() {
		var (
			e                = Exception{Query: ir.TaskID{QueryID: queryID}}
			origin, reporter int64
			code             string
		)
		if err := rows.Scan(&origin, &e.Query.Seq, &e.Epoch, &reporter, &code, &e.Message); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		e.Query.Origin = ir.Addr(origin)
		e.Reporter = ir.Addr(reporter)
		e.Code = ir.ErrorCode(code)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exceptions: %w", err)
	}
	return out, nil
}
