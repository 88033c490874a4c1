package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID            int64      `json:"id" db:"id"`
	SiteID        string     `json:"site_id" db:"site_id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	PartsNew      int        `json:"parts_new" db:"parts_new"`
	PartsUpdated  int        `json:"parts_updated" db:"parts_updated"`
	Duplicates    int        `json:"duplicates" db:"duplicates"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

type SiteStats struct {
	SiteID        string     `json:"site_id" db:"site_id"`
	LastRunAt     *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus string     `json:"last_run_status" db:"last_run_status"`
	TotalParts    int        `json:"total_parts" db:"total_parts"`
	TotalRuns     int        `json:"total_runs" db:"total_runs"`
	SuccessRate   float64    `json:"success_rate" db:"success_rate"`
}
