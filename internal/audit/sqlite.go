package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattjoyce/deskhook/internal/storage"
)

// SQLiteStore is a Store over the audit_log table of an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func sqlitePlaceholder(int) string { return "?" }

func sqliteTime(t time.Time) any { return storage.FormatTime(t) }

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_log(id, user_id, event, payload, source, timestamp)
VALUES(?, ?, ?, ?, ?, ?);
`, e.ID, e.UserID, e.Event, string(payload), string(e.Source), storage.FormatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	where, args := whereClause(f, sqlitePlaceholder, sqliteTime)

	var page Page
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	q := `
SELECT id, user_id, event, payload, source, timestamp
FROM audit_log` + where + `
ORDER BY timestamp DESC, id DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	} else if f.Offset > 0 {
		q += fmt.Sprintf(" LIMIT -1 OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          Entry
			payload    string
			source     string
			timestampS string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &payload, &source, &timestampS); err != nil {
			return Page{}, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return Page{}, fmt.Errorf("decode audit payload %s: %w", e.ID, err)
		}
		e.Source = Source(source)
		if t, err := storage.ParseTime(timestampS); err == nil {
			e.Timestamp = t
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	return page, nil
}

func (s *SQLiteStore) AggregateCounts(ctx context.Context, f Filter) ([]Count, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	where, args := whereClause(f, sqlitePlaceholder, sqliteTime)

	rows, err := s.db.QueryContext(ctx, `
SELECT event, source, COUNT(*) AS n, MAX(timestamp)
FROM audit_log`+where+`
GROUP BY event, source
ORDER BY n DESC, event ASC, source ASC;
`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var (
			c      Count
			source string
			lastS  string
		)
		if err := rows.Scan(&c.Event, &source, &c.Count, &lastS); err != nil {
			return nil, fmt.Errorf("scan audit aggregate: %w", err)
		}
		c.Source = Source(source)
		if t, err := storage.ParseTime(lastS); err == nil {
			c.LastReceived = t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?;`, storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return n, nil
}
