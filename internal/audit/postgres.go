package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store over the audit_log table of a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func pgTime(t time.Time) any { return t.UTC() }

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_log(id, user_id, event, payload, source, timestamp)
VALUES($1, $2, $3, $4, $5, $6)`, e.ID, e.UserID, e.Event, payload, string(e.Source), e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	where, args := whereClause(f, pgPlaceholder, pgTime)

	var page Page
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	q := `
SELECT id::text, user_id, event, payload, source, timestamp
FROM audit_log` + where + `
ORDER BY timestamp DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       Entry
			payload []byte
			source  string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &payload, &source, &e.Timestamp); err != nil {
			return Page{}, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return Page{}, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
		}
		e.Source = Source(source)
		e.Timestamp = e.Timestamp.UTC()
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) AggregateCounts(ctx context.Context, f Filter) ([]Count, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	where, args := whereClause(f, pgPlaceholder, pgTime)

	rows, err := s.pool.Query(ctx, `
SELECT event, source, COUNT(*) AS n, MAX(timestamp)
FROM audit_log`+where+`
GROUP BY event, source
ORDER BY n DESC, event ASC, source ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var (
			c      Count
			n      int64
			source string
		)
		if err := rows.Scan(&c.Event, &source, &n, &c.LastReceived); err != nil {
			return nil, fmt.Errorf("scan audit aggregate: %w", err)
		}
		c.Count = int(n)
		c.Source = Source(source)
		c.LastReceived = c.LastReceived.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
