package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"partscout/models"
	"partscout/storage"
)

// CatalogStore is the persistence surface of the processing pipeline.
// *storage.PostgresStore satisfies it.
type CatalogStore interface {
	InsertPart(ctx context.Context, p *models.CanonicalPart) error
	UpdatePart(ctx context.Context, p *models.CanonicalPart) error
	GetPartByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPart, error)
	EnqueuePartImage(ctx context.Context, partID uuid.UUID, originalURL string) error
	GetLatestIntegration(ctx context.Context, partID uuid.UUID, platform string) (*models.MarketplaceIntegration, error)
	InsertIntegration(ctx context.Context, m *models.MarketplaceIntegration) error
	TouchIntegration(ctx context.Context, m *models.MarketplaceIntegration) error
}

// PartService fans a normalized listing out to the catalog: dedup
// decision, part insert/update, price snapshot, image queueing, and the
// category cache.
type PartService struct {
	store CatalogStore
	cache *storage.RedisStore
	dedup *DedupService

	cacheTTL time.Duration
}

func NewPartService(store CatalogStore, cache *storage.RedisStore, dedup *DedupService, cacheTTL time.Duration) *PartService {
	return &PartService{
		store:    store,
		cache:    cache,
		dedup:    dedup,
		cacheTTL: cacheTTL,
	}
}

// GetPart fetches a catalog part by its id string.
func (s *PartService) GetPart(ctx context.Context, id string) (*models.CanonicalPart, error) {
	partID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid part id %q: %w", id, err)
	}
	part, err := s.store.GetPartByID(ctx, partID)
	if err != nil {
		return nil, err
	}
	if part == nil {
		return nil, fmt.Errorf("part %s not found", id)
	}
	return part, nil
}

// ProcessResult contains the outcome of processing one listing.
type ProcessResult struct {
	PartID       string
	IsNewPart    bool
	IsUpdated    bool
	IsDuplicate  bool
	PriceChanged bool
	ImagesQueued int
}

// ProcessListing normalizes a raw listing, runs the dedup decision, and
// persists the outcome. Idempotent: a second identical scrape updates
// the existing row instead of inserting another.
func (s *PartService) ProcessListing(ctx context.Context, raw *models.RawListing, source, baseURL string) (*ProcessResult, error) {
	result := &ProcessResult{}
	now := time.Now()

	part := NewNormalizer(source, baseURL).Normalize(raw)
	if part.Name == "" {
		return nil, fmt.Errorf("listing has no usable name (url=%s)", raw.URL)
	}

	decision, err := s.dedup.Check(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}

	switch {
	case decision.IsDuplicate && decision.Tier == "fuzzy":
		// A near-identical part from the same source family; skip the
		// insert entirely. Not an error.
		result.IsDuplicate = true
		result.PartID = decision.Existing.ID.String()
		return result, nil

	case decision.IsDuplicate:
		// Same (source, sourceId) or (source, partNumber) pair: this is
		// a re-scrape of a known part. Refresh its fields.
		existing := decision.Existing
		existing.Name = part.Name
		existing.Price = part.Price
		existing.Availability = part.Availability
		if len(part.Images) > 0 {
			existing.Images = part.Images
		}
		if len(part.Compatibility) > 0 {
			existing.Compatibility = part.Compatibility
		}
		existing.LastUpdated = now

		if err := s.store.UpdatePart(ctx, existing); err != nil {
			return nil, fmt.Errorf("update part: %w", err)
		}
		result.IsUpdated = true
		result.IsDuplicate = true
		result.PartID = existing.ID.String()
		part = existing

	default:
		if err := s.store.InsertPart(ctx, part); err != nil {
			return nil, fmt.Errorf("insert part: %w", err)
		}
		result.IsNewPart = true
		result.PartID = part.ID.String()

		for _, img := range part.Images {
			if err := s.store.EnqueuePartImage(ctx, part.ID, img); err != nil {
				log.Printf("Warning: failed to queue image %s: %v", img, err)
				continue
			}
			result.ImagesQueued++
		}
	}

	priceChanged, err := s.recordSnapshot(ctx, part, raw.URL, now)
	if err != nil {
		log.Printf("Warning: failed to record price snapshot for %s: %v", part.ID, err)
	}
	result.PriceChanged = priceChanged

	if s.cache != nil && part.Category != "" {
		if err := s.cache.CacheAddCategory(ctx, part.Category, part.ID.String(), s.cacheTTL); err != nil {
			log.Printf("Warning: failed to update category cache: %v", err)
		}
	}

	return result, nil
}

// recordSnapshot updates the latest marketplace snapshot in place, or
// appends a new row when the price moved so history is preserved.
func (s *PartService) recordSnapshot(ctx context.Context, part *models.CanonicalPart, externalURL string, now time.Time) (bool, error) {
	latest, err := s.store.GetLatestIntegration(ctx, part.ID, part.Source)
	if err != nil {
		return false, err
	}

	if latest == nil {
		snap := &models.MarketplaceIntegration{
			PartID:        part.ID,
			Platform:      part.Source,
			CurrentPrice:  part.Price,
			OriginalPrice: part.Price,
			Availability:  part.Availability,
			ExternalURL:   externalURL,
			LastCheckedAt: now,
		}
		return false, s.store.InsertIntegration(ctx, snap)
	}

	if samePrice(latest.CurrentPrice, part.Price) {
		latest.Availability = part.Availability
		latest.ExternalURL = externalURL
		latest.LastCheckedAt = now
		return false, s.store.TouchIntegration(ctx, latest)
	}

	snap := &models.MarketplaceIntegration{
		PartID:        part.ID,
		Platform:      part.Source,
		CurrentPrice:  part.Price,
		OriginalPrice: latest.OriginalPrice,
		Availability:  part.Availability,
		ExternalURL:   externalURL,
		LastCheckedAt: now,
	}
	if snap.OriginalPrice == nil {
		snap.OriginalPrice = part.Price
	}
	snap.DiscountPercentage = discountPct(snap.OriginalPrice, snap.CurrentPrice)

	return true, s.store.InsertIntegration(ctx, snap)
}

func samePrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func discountPct(original, current *float64) *float64 {
	if original == nil || current == nil || *original <= *current || *original == 0 {
		return nil
	}
	pct := (*original - *current) / *original * 100
	return &pct
}

// ProcessStats aggregates outcomes for one scrape run.
type ProcessStats struct {
	ListingsProcessed int
	PartsNew          int
	PartsUpdated      int
	Duplicates        int
	PriceChanges      int
	Errors            int
}

func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.ListingsProcessed++
	if r.IsNewPart {
		s.PartsNew++
	}
	if r.IsUpdated {
		s.PartsUpdated++
	}
	if r.IsDuplicate && !r.IsUpdated {
		s.Duplicates++
	}
	if r.PriceChanged {
		s.PriceChanges++
	}
}

func (s *ProcessStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"listings_processed": s.ListingsProcessed,
		"parts_new":          s.PartsNew,
		"parts_updated":      s.PartsUpdated,
		"duplicates":         s.Duplicates,
		"price_changes":      s.PriceChanges,
		"errors":             s.Errors,
	})
	return data
}
