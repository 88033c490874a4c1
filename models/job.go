package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type JobKind string

const (
	JobKindSiteScrape JobKind = "site_scrape"
	JobKindProduct    JobKind = "product"
	JobKindSearch     JobKind = "search"
	JobKindRecheck    JobKind = "recheck"
)

// ScrapeJob is one unit of queued work. Jobs survive process restarts in
// the queue backend; failed jobs retain their last error for inspection
// until the retention purge drops them.
type ScrapeJob struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Site        string          `json:"site"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Status      JobStatus       `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecheckPayload is the payload of a JobKindRecheck job.
type RecheckPayload struct {
	PartID   string `json:"part_id"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// ProductPayload is the payload of a JobKindProduct job.
type ProductPayload struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh"`
}

// SearchPayload is the payload of a JobKindSearch job.
type SearchPayload struct {
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	ForceRefresh bool   `json:"force_refresh"`
}
