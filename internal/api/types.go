package api

import "github.com/mattjoyce/deskhook/internal/audit"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Storage       string `json:"storage"`
}

// LogsResponse is returned by GET /logs/{userID}.
type LogsResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    LogsData `json:"data"`
}

type LogsData struct {
	Logs       []audit.Entry `json:"logs"`
	Pagination Pagination    `json:"pagination"`
}

type Pagination struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// StatsResponse is returned by GET /stats/{userID}.
type StatsResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Data    StatsData `json:"data"`
}

type StatsData struct {
	Stats  []audit.Count `json:"stats"`
	Period string        `json:"period"`
	Total  int           `json:"total"`
}
