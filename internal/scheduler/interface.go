package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_pruner.go -package=mocks github.com/mattjoyce/deskhook/internal/scheduler Pruner

// Pruner removes audit entries older than a cutoff. audit.Store satisfies it.
type Pruner interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher receives sweep notifications. events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}
