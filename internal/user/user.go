// Package user holds the local user directory the webhook pipeline resolves
// requester emails against.
package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user not found")
	// ErrExists is returned when creating a user whose email is taken.
	ErrExists = errors.New("user already exists")
)

// User is a directory record. Emails are stored lower-cased.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/deskhook/internal/user Store

// Store is the user directory backend.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, email, name string) (*User, error)
	List(ctx context.Context) ([]User, error)
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
