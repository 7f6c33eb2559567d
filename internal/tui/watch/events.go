package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/deskhook/internal/events"
	"github.com/mattjoyce/deskhook/internal/scheduler"
)

const eventLogLimit = 50

func renderEventStream(eventLog []events.Event, rows int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("AUDIT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("AUDIT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	label := e.Type
	style := theme.Dim
	if entry, ok := decodeEntry(e); ok {
		label = entry.Event
		switch outcomeOf(entry.Event) {
		case OutcomeError:
			style = theme.StatusFailed
		case OutcomeProcessed:
			style = theme.StatusOK
		case OutcomeReceived:
			style = theme.Highlight
		}
	} else if e.Type == scheduler.EventSwept {
		style = theme.StatusWarn
	}

	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-28s", label)), extractEventDesc(e))
}

// extractEventDesc summarises an event's data for a single row.
func extractEventDesc(e events.Event) string {
	if entry, ok := decodeEntry(e); ok {
		parts := []string{"user=" + entry.UserID}
		if entry.Source != "" {
			parts = append(parts, "source="+string(entry.Source))
		}
		if id, ok := entry.Payload["ticketId"]; ok && id != nil {
			parts = append(parts, fmt.Sprintf("ticket=%v", id))
		}
		if et, ok := entry.Payload["eventType"].(string); ok && et != "" {
			parts = append(parts, "type="+et)
		}
		if msg, ok := entry.Payload["error"].(string); ok && msg != "" {
			parts = append(parts, "error="+truncate(msg, 40))
		}
		return strings.Join(parts, " ")
	}

	if e.Type == scheduler.EventSwept {
		var d struct {
			Removed int64 `json:"removed"`
		}
		if json.Unmarshal(e.Data, &d) == nil {
			return fmt.Sprintf("retention sweep removed %d entries", d.Removed)
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
