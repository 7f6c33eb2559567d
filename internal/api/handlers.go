package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/deskhook/internal/audit"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultStatsDays = 30
	maxStatsDays     = 365
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Storage:       "ok",
	}
	status := http.StatusOK
	if s.config.StorageCheck != nil {
		if err := s.config.StorageCheck(r.Context()); err != nil {
			s.logger.Error("storage health check failed", "error", err)
			resp.Status = "degraded"
			resp.Storage = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}

// handleLogs handles GET /logs/{userID}: a page of the user's audit entries,
// newest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := clampInt(parseIntDefault(q.Get("page"), 1), 1, 0)
	limit := clampInt(parseIntDefault(q.Get("limit"), defaultPageLimit), 1, maxPageLimit)

	since, err := parseDate(q.Get("startDate"), false)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid startDate")
		return
	}
	until, err := parseDate(q.Get("endDate"), true)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid endDate")
		return
	}

	result, err := s.logs.Query(r.Context(), audit.Filter{
		UserID: chi.URLParam(r, "userID"),
		Event:  strings.TrimSpace(q.Get("event")),
		Source: audit.Source(strings.TrimSpace(q.Get("source"))),
		Since:  since,
		Until:  until,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		s.storeError(w, "query webhook logs", err)
		return
	}

	logs := result.Entries
	if logs == nil {
		logs = []audit.Entry{}
	}
	respondJSON(w, http.StatusOK, LogsResponse{
		Success: true,
		Message: "Webhook logs retrieved successfully",
		Data: LogsData{
			Logs: logs,
			Pagination: Pagination{
				Current: page,
				Limit:   limit,
				Total:   result.Total,
				Pages:   (result.Total + limit - 1) / limit,
			},
		},
	})
}

// handleStats handles GET /stats/{userID}: entry counts per event and source
// over the last N days.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := clampInt(parseIntDefault(r.URL.Query().Get("days"), defaultStatsDays), 1, maxStatsDays)

	counts, err := s.logs.AggregateCounts(r.Context(), audit.Filter{
		UserID: chi.URLParam(r, "userID"),
		Since:  s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		s.storeError(w, "aggregate webhook logs", err)
		return
	}

	total := 0
	for _, c := range counts {
		total += c.Count
	}
	if counts == nil {
		counts = []audit.Count{}
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Success: true,
		Message: "Webhook statistics retrieved successfully",
		Data: StatsData{
			Stats:  counts,
			Period: fmt.Sprintf("Last %d days", days),
			Total:  total,
		},
	})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, audit.ErrInvalidFilter) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("log store failure", "op", op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseIntDefault(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// clampInt bounds n to [lo, hi]; hi <= 0 means no upper bound.
func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}

// parseDate accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare date
// used as an upper bound covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Success: false, Message: message})
}
