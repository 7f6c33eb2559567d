package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/deskhook/internal/audit Store

// Store persists audit entries. Implementations must be safe for concurrent
// use and must not modify entries once appended.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) (Page, error)
	AggregateCounts(ctx context.Context, f Filter) ([]Count, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// whereClause renders the filter predicates. placeholder returns the bind
// marker for the n-th argument; timeArg converts bounds to driver values.
func whereClause(f Filter, placeholder func(n int) string, timeArg func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}
	if f.UserID != "" {
		add("user_id = %s", f.UserID)
	}
	if f.Event != "" {
		add("event = %s", f.Event)
	}
	if f.Source != "" {
		add("source = %s", string(f.Source))
	}
	if !f.Since.IsZero() {
		add("timestamp >= %s", timeArg(f.Since))
	}
	if !f.Until.IsZero() {
		add("timestamp <= %s", timeArg(f.Until))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
