// Package audit is the append-only log of webhook activity. Entries are
// written once and never updated; only the retention sweeper removes them,
// and only by age.
package audit

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFilter is returned by Query and AggregateCounts for filters that
// cannot be satisfied.
var ErrInvalidFilter = errors.New("invalid audit filter")

// Source is the upstream platform an entry originated from.
type Source string

const (
	SourceHelpdesk Source = "helpdesk"
	SourceCRM      Source = "crm"
)

func (s Source) Valid() bool {
	return s == SourceHelpdesk || s == SourceCRM
}

// Entry is one immutable audit record.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e Entry) validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("entry id is empty")
	case e.UserID == "":
		return fmt.Errorf("entry user id is empty")
	case e.Event == "":
		return fmt.Errorf("entry event is empty")
	case !e.Source.Valid():
		return fmt.Errorf("entry source %q is not valid", e.Source)
	case e.Timestamp.IsZero():
		return fmt.Errorf("entry timestamp is zero")
	}
	return nil
}

// Filter narrows Query and AggregateCounts. Zero values are unbounded.
// Since and Until are inclusive.
type Filter struct {
	UserID string
	Event  string
	Source Source
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

func (f Filter) Validate() error {
	if f.Source != "" && !f.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidFilter, f.Source)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until) {
		return fmt.Errorf("%w: since is after until", ErrInvalidFilter)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidFilter)
	}
	return nil
}

// Page is one window of a Query, newest first. Total counts every entry
// matching the filter, ignoring Limit and Offset.
type Page struct {
	Entries []Entry
	Total   int
}

// Count is an aggregate row of AggregateCounts.
type Count struct {
	Event        string    `json:"event"`
	Source       Source    `json:"source"`
	Count        int       `json:"count"`
	LastReceived time.Time `json:"lastReceived"`
}

// Failure describes why a webhook could not be processed.
type Failure struct {
	Stage   string
	Message string
	Trace   string
}

func (f Failure) Error() string {
	if f.Stage == "" {
		return f.Message
	}
	return f.Stage + ": " + f.Message
}
