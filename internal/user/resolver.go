package user

import (
	"context"
	"errors"
	"log/slog"
)

// SystemUserID is the audit user id recorded when a webhook cannot be
// attributed to a known user.
const SystemUserID = "system"

// Identity is the outcome of resolving a requester email.
type Identity struct {
	UserID   string
	Resolved bool
}

// AuditUserID is the user id to record on audit entries.
func (i Identity) AuditUserID() string {
	if !i.Resolved || i.UserID == "" {
		return SystemUserID
	}
	return i.UserID
}

// Resolver maps requester emails to directory users.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve performs a single exact-email lookup. It never fails: a missing
// email, no match, or a store error all yield an unresolved Identity.
func (r *Resolver) Resolve(ctx context.Context, email string) Identity {
	email = NormalizeEmail(email)
	if email == "" {
		return Identity{}
	}

	u, err := r.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("user lookup failed", "email", email, "error", err)
		}
		return Identity{}
	}
	return Identity{UserID: u.ID, Resolved: true}
}
