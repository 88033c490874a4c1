package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"partscout/models"
)

func testPartService(store *fakeCatalogStore) *PartService {
	dedup := NewDedupService(store, testDedupConfig())
	return NewPartService(store, nil, dedup, time.Minute)
}

func TestProcessListing_RescrapeUpdatesInsteadOfDuplicating(t *testing.T) {
	store := newFakeCatalogStore()
	svc := testPartService(store)
	ctx := context.Background()

	raw := &models.RawListing{
		Title:      "Brake Pad Set Front",
		Brand:      "Bosch",
		PartNumber: "BP1234",
		PriceText:  "$49.99",
		URL:        "https://www.partstrain.com/p/bp1234",
		Images:     []string{"/img/bp1234.jpg"},
	}

	first, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com")
	if err != nil {
		t.Fatalf("first ProcessListing: %v", err)
	}
	if !first.IsNewPart {
		t.Fatal("first scrape should create a new part")
	}
	if first.ImagesQueued != 1 {
		t.Fatalf("ImagesQueued = %d, want 1", first.ImagesQueued)
	}

	second, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com")
	if err != nil {
		t.Fatalf("second ProcessListing: %v", err)
	}
	if second.IsNewPart {
		t.Fatal("re-scrape must not create a second part")
	}
	if !second.IsDuplicate || !second.IsUpdated {
		t.Fatalf("re-scrape result = %+v, want duplicate+updated", second)
	}
	if second.PartID != first.PartID {
		t.Fatalf("re-scrape resolved to part %s, want %s", second.PartID, first.PartID)
	}
	if len(store.parts) != 1 {
		t.Fatalf("catalog has %d parts, want 1", len(store.parts))
	}
}

func TestProcessListing_RescrapeRefreshesFields(t *testing.T) {
	store := newFakeCatalogStore()
	svc := testPartService(store)
	ctx := context.Background()

	raw := &models.RawListing{
		Title:      "Oil Filter",
		Brand:      "Mann",
		PartNumber: "W712",
		PriceText:  "$12.50",
		URL:        "https://www.partstrain.com/p/w712",
	}
	if _, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com"); err != nil {
		t.Fatalf("ProcessListing: %v", err)
	}

	raw.PriceText = "$9.99"
	raw.Availability = "In Stock"
	if _, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com"); err != nil {
		t.Fatalf("re-scrape: %v", err)
	}

	p := store.parts[0]
	if p.Price == nil || *p.Price != 9.99 {
		t.Fatalf("price not refreshed: %v", p.Price)
	}
	if p.Availability != "In Stock" {
		t.Fatalf("availability not refreshed: %q", p.Availability)
	}
}

func TestProcessListing_FuzzyDuplicateSkipsInsert(t *testing.T) {
	store := newFakeCatalogStore()
	svc := testPartService(store)
	ctx := context.Background()

	first := &models.RawListing{
		ID:        "ra-100",
		Title:     "Front Brake Rotor 320mm Vented",
		Brand:     "Brembo",
		PriceText: "$88.00",
		URL:       "https://www.rockauto.com/p/100",
	}
	if _, err := svc.ProcessListing(ctx, first, "rockauto", "https://www.rockauto.com"); err != nil {
		t.Fatalf("ProcessListing: %v", err)
	}

	// Same part under a different native id: no part number on either
	// side, near-identical name, same brand, price within 10%.
	near := &models.RawListing{
		ID:        "ra-200",
		Title:     "Front Brake Rotor 320mm Vented.",
		Brand:     "Brembo",
		PriceText: "$89.00",
		URL:       "https://www.rockauto.com/p/200",
	}
	result, err := svc.ProcessListing(ctx, near, "rockauto", "https://www.rockauto.com")
	if err != nil {
		t.Fatalf("ProcessListing near-duplicate: %v", err)
	}
	if !result.IsDuplicate || result.IsNewPart || result.IsUpdated {
		t.Fatalf("near-duplicate result = %+v, want silent skip", result)
	}
	if len(store.parts) != 1 {
		t.Fatalf("catalog has %d parts, want 1", len(store.parts))
	}
}

func TestProcessListing_PriceChangeAppendsHistory(t *testing.T) {
	store := newFakeCatalogStore()
	svc := testPartService(store)
	ctx := context.Background()

	raw := &models.RawListing{
		Title:      "Alternator 130A",
		Brand:      "Denso",
		PartNumber: "ALT-130",
		PriceText:  "$100.00",
		URL:        "https://www.partstrain.com/p/alt130",
	}
	if _, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com"); err != nil {
		t.Fatalf("ProcessListing: %v", err)
	}
	if len(store.integrations) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(store.integrations))
	}

	raw.PriceText = "$80.00"
	result, err := svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com")
	if err != nil {
		t.Fatalf("price-change scrape: %v", err)
	}
	if !result.PriceChanged {
		t.Fatal("price drop not reported")
	}
	if len(store.integrations) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(store.integrations))
	}

	latest := store.integrations[1]
	if latest.CurrentPrice == nil || *latest.CurrentPrice != 80 {
		t.Fatalf("latest current price = %v, want 80", latest.CurrentPrice)
	}
	if latest.OriginalPrice == nil || *latest.OriginalPrice != 100 {
		t.Fatalf("original price not carried: %v", latest.OriginalPrice)
	}
	if latest.DiscountPercentage == nil || *latest.DiscountPercentage != 20 {
		t.Fatalf("discount = %v, want 20", latest.DiscountPercentage)
	}

	// Same price again: the latest row is touched, not duplicated.
	result, err = svc.ProcessListing(ctx, raw, "partstrain", "https://www.partstrain.com")
	if err != nil {
		t.Fatalf("same-price scrape: %v", err)
	}
	if result.PriceChanged {
		t.Fatal("unchanged price reported as change")
	}
	if len(store.integrations) != 2 {
		t.Fatalf("got %d snapshots after touch, want 2", len(store.integrations))
	}
}

func TestPriceTracker_HistoryWindowAndOrdering(t *testing.T) {
	store := newFakeCatalogStore()
	tracker := NewPriceTracker(store)
	ctx := context.Background()

	partID := uuid.New()
	now := time.Now()
	for _, age := range []int{40, 10, 1} {
		price := float64(100 + age)
		store.integrations = append(store.integrations, models.MarketplaceIntegration{
			ID:            int64(age),
			PartID:        partID,
			Platform:      "partstrain",
			CurrentPrice:  &price,
			LastCheckedAt: now.AddDate(0, 0, -age),
		})
	}

	history, err := tracker.GetPriceHistory(ctx, partID, HistoryQuery{})
	if err != nil {
		t.Fatalf("GetPriceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("default window returned %d rows, want 2", len(history))
	}
	if !history[0].LastCheckedAt.After(history[1].LastCheckedAt) {
		t.Fatal("history not ordered most recent first")
	}

	wantSince := now.AddDate(0, 0, -30)
	if diff := store.lastHistorySince.Sub(wantSince); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("default window since = %v, want ~%v", store.lastHistorySince, wantSince)
	}

	history, err = tracker.GetPriceHistory(ctx, partID, HistoryQuery{Days: 5})
	if err != nil {
		t.Fatalf("GetPriceHistory(5d): %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("5-day window returned %d rows, want 1", len(history))
	}
}
