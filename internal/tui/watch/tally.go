package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/events"
	"github.com/mattjoyce/deskhook/internal/scheduler"
)

// Outcome groups audit labels for the header counters.
type Outcome int

const (
	OutcomeOther Outcome = iota
	OutcomeReceived
	OutcomeProcessed
	OutcomeError
)

// outcomeOf maps an audit event label to its outcome.
func outcomeOf(label string) Outcome {
	switch {
	case label == "webhook_received":
		return OutcomeReceived
	case label == "webhook_error", strings.HasSuffix(label, "_error"):
		return OutcomeError
	case strings.HasSuffix(label, "_processed"):
		return OutcomeProcessed
	default:
		return OutcomeOther
	}
}

// LabelState aggregates entries seen for one audit label.
type LabelState struct {
	Label    string
	Count    int
	LastSeen time.Time
	LastUser string
	Source   audit.Source
}

// Totals are the header counters.
type Totals struct {
	Received  int
	Processed int
	Errors    int
	Swept     int64
}

// Tally accumulates stream state.
type Tally struct {
	Labels map[string]*LabelState
	Totals Totals
}

func newTally() *Tally {
	return &Tally{Labels: make(map[string]*LabelState)}
}

// decodeEntry extracts the audit entry carried by an audit.appended event.
func decodeEntry(e events.Event) (audit.Entry, bool) {
	if e.Type != audit.EventAppended {
		return audit.Entry{}, false
	}
	var entry audit.Entry
	if err := json.Unmarshal(e.Data, &entry); err != nil || entry.Event == "" {
		return audit.Entry{}, false
	}
	return entry, true
}

// Apply folds one stream event into the tally.
func (t *Tally) Apply(e events.Event) {
	if e.Type == scheduler.EventSwept {
		var d struct {
			Removed int64 `json:"removed"`
		}
		if json.Unmarshal(e.Data, &d) == nil {
			t.Totals.Swept += d.Removed
		}
		return
	}

	entry, ok := decodeEntry(e)
	if !ok {
		return
	}

	switch outcomeOf(entry.Event) {
	case OutcomeReceived:
		t.Totals.Received++
	case OutcomeProcessed:
		t.Totals.Processed++
	case OutcomeError:
		t.Totals.Errors++
	}

	ls, ok := t.Labels[entry.Event]
	if !ok {
		ls = &LabelState{Label: entry.Event}
		t.Labels[entry.Event] = ls
	}
	ls.Count++
	ls.LastUser = entry.UserID
	ls.Source = entry.Source
	ls.LastSeen = entry.Timestamp
	if ls.LastSeen.IsZero() {
		ls.LastSeen = e.At
	}
}

// Sorted returns labels by descending count, then name.
func (t *Tally) Sorted() []*LabelState {
	out := make([]*LabelState, 0, len(t.Labels))
	for _, ls := range t.Labels {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func renderLabels(t *Tally, selected int, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	title := theme.Title.Render("EVENTS BY LABEL")

	rows := t.Sorted()
	if len(rows) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No audit entries yet"))
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Header.Render(fmt.Sprintf("  %-30s %7s  %-8s  %-14s  %s", "LABEL", "COUNT", "SOURCE", "LAST USER", "LAST"))}
	for i, ls := range rows {
		line := renderLabelRow(ls, theme, now)
		if i == selected {
			line = theme.Selected.Render(line)
		}
		lines = append(lines, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(content)
}

func renderLabelRow(ls *LabelState, theme Theme, now time.Time) string {
	label := fmt.Sprintf("%-30s", truncate(ls.Label, 30))
	switch outcomeOf(ls.Label) {
	case OutcomeError:
		label = theme.StatusFailed.Render(label)
	case OutcomeProcessed:
		label = theme.StatusOK.Render(label)
	case OutcomeReceived:
		label = theme.Highlight.Render(label)
	}
	return fmt.Sprintf("  %s %7d  %-8s  %-14s  %s",
		label, ls.Count, ls.Source, truncate(ls.LastUser, 14), formatAgo(now.Sub(ls.LastSeen)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

func formatAgo(d time.Duration) string {
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
