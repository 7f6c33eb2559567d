package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/deskhook/internal/storage"
)

// SQLiteStore is a Store backed by the users table of an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var (
		u          User
		name       sql.NullString
		createdAtS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, name, created_at
FROM users
WHERE email = ?;
`, email).Scan(&u.ID, &u.Email, &name, &createdAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	u.Name = name.String
	if t, err := storage.ParseTime(createdAtS); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

func (s *SQLiteStore) Create(ctx context.Context, email, name string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is empty")
	}

	u := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, email, name, created_at)
VALUES(?, ?, ?, ?);
`, u.ID, u.Email, u.Name, storage.FormatTime(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%s: %w", email, ErrExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, email, name, created_at
FROM users
ORDER BY email ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u          User
			name       sql.NullString
			createdAtS string
		)
		if err := rows.Scan(&u.ID, &u.Email, &name, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Name = name.String
		if t, err := storage.ParseTime(createdAtS); err == nil {
			u.CreatedAt = t
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}
