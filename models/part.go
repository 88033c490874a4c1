package models

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalPart is the deduplicated, normalized part record owned by the
// catalog store. Created on first dedup pass, updated on re-scrapes of
// the same (source, source_id) pair, never deleted automatically.
type CanonicalPart struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Brand         string          `json:"brand" db:"brand"`
	PartNumber    string          `json:"part_number" db:"part_number"`
	Price         *float64        `json:"price" db:"price"`
	Category      string          `json:"category" db:"category"`
	Subcategory   string          `json:"subcategory" db:"subcategory"`
	Images        []string        `json:"images" db:"images"`
	Compatibility []Compatibility `json:"compatibility" db:"compatibility"`
	Source        string          `json:"source" db:"source"`
	SourceID      string          `json:"source_id" db:"source_id"`
	Availability  string          `json:"availability" db:"availability"`
	LastUpdated   time.Time       `json:"last_updated" db:"last_updated"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Compatibility is one vehicle fitment tuple on a canonical part.
type Compatibility struct {
	MakeYearRange string `json:"makeYearRange"`
	YearStart     int    `json:"yearStart"`
	YearEnd       int    `json:"yearEnd"`
	Make          string `json:"make"`
	Model         string `json:"model"`
	Submodel      string `json:"submodel,omitempty"`
	Engine        string `json:"engine,omitempty"`
}

// MarketplaceIntegration is a per-platform price snapshot for a part.
// Append-style: re-scrapes update the latest row in place unless the
// price moved, in which case a new snapshot is appended for history.
type MarketplaceIntegration struct {
	ID                 int64     `json:"id" db:"id"`
	PartID             uuid.UUID `json:"part_id" db:"part_id"`
	Platform           string    `json:"platform" db:"platform"`
	CurrentPrice       *float64  `json:"current_price" db:"current_price"`
	OriginalPrice      *float64  `json:"original_price" db:"original_price"`
	DiscountPercentage *float64  `json:"discount_percentage" db:"discount_percentage"`
	Availability       string    `json:"availability" db:"availability"`
	ExternalURL        string    `json:"external_url" db:"external_url"`
	LastCheckedAt      time.Time `json:"last_checked_at" db:"last_checked_at"`
}

// TrackedPart registers a part for recurring re-scrape.
type TrackedPart struct {
	PartID      uuid.UUID `json:"part_id" db:"part_id"`
	Platforms   []string  `json:"platforms" db:"platforms"`
	TargetPrice *float64  `json:"target_price" db:"target_price"`
	NotifyEmail string    `json:"notify_email" db:"notify_email"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
