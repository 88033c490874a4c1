package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"partscout/models"
)

// PriceStore is the snapshot and tracking surface behind the tracker.
// *storage.PostgresStore satisfies it.
type PriceStore interface {
	GetPartByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPart, error)
	GetPriceHistory(ctx context.Context, partID uuid.UUID, platform string, since time.Time) ([]models.MarketplaceIntegration, error)
	GetCurrentPrices(ctx context.Context, partID uuid.UUID) ([]models.MarketplaceIntegration, error)
	UpsertTrackedPart(ctx context.Context, t *models.TrackedPart) error
}

// PriceTracker answers price-history queries and registers parts for
// recurring re-scrape.
type PriceTracker struct {
	store PriceStore
}

func NewPriceTracker(store PriceStore) *PriceTracker {
	return &PriceTracker{store: store}
}

// HistoryQuery bounds a price-history lookup. Days <= 0 defaults to 30.
type HistoryQuery struct {
	Platform string
	Days     int
}

// GetPriceHistory returns snapshots within the trailing window, most
// recent first.
func (t *PriceTracker) GetPriceHistory(ctx context.Context, partID uuid.UUID, q HistoryQuery) ([]models.MarketplaceIntegration, error) {
	days := q.Days
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	snapshots, err := t.store.GetPriceHistory(ctx, partID, q.Platform, since)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	return snapshots, nil
}

// GetCurrentPrices returns the latest snapshot per platform, sorted
// ascending by current price; snapshots with no price sort last.
func (t *PriceTracker) GetCurrentPrices(ctx context.Context, partID uuid.UUID) ([]models.MarketplaceIntegration, error) {
	snapshots, err := t.store.GetCurrentPrices(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("current prices: %w", err)
	}
	SortByPrice(snapshots)
	return snapshots, nil
}

// SortByPrice orders snapshots cheapest first, priceless last.
func SortByPrice(snapshots []models.MarketplaceIntegration) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		pi, pj := snapshots[i].CurrentPrice, snapshots[j].CurrentPrice
		if pi == nil {
			return false
		}
		if pj == nil {
			return true
		}
		return *pi < *pj
	})
}

// TrackRequest registers a part for the recheck loop.
type TrackRequest struct {
	Platforms   []string
	TargetPrice *float64
	NotifyEmail string
}

// TrackPart is idempotent: re-registering a part replaces its platform
// list and keeps existing target/email when the request omits them.
func (t *PriceTracker) TrackPart(ctx context.Context, partID uuid.UUID, req TrackRequest) error {
	part, err := t.store.GetPartByID(ctx, partID)
	if err != nil {
		return fmt.Errorf("get part: %w", err)
	}
	if part == nil {
		return fmt.Errorf("part not found: %s", partID)
	}

	tracked := &models.TrackedPart{
		PartID:      partID,
		Platforms:   req.Platforms,
		TargetPrice: req.TargetPrice,
		NotifyEmail: req.NotifyEmail,
		CreatedAt:   time.Now(),
	}
	if len(tracked.Platforms) == 0 {
		tracked.Platforms = []string{part.Source}
	}

	if err := t.store.UpsertTrackedPart(ctx, tracked); err != nil {
		return fmt.Errorf("upsert tracked part: %w", err)
	}
	return nil
}
