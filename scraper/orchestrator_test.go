package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"partscout/config"
	"partscout/httputil"
	"partscout/models"
	"partscout/services"
)

// fakeAdapter counts live invocations so tests can assert whether a
// call was served from cache or hit the site.
type fakeAdapter struct {
	id           string
	searchCalls  int
	productCalls int
}

func (a *fakeAdapter) ID() string            { return a.id }
func (a *fakeAdapter) RequiresBrowser() bool { return false }

func (a *fakeAdapter) Scrape(ctx context.Context) ([]models.RawListing, error) {
	return nil, nil
}

func (a *fakeAdapter) SearchProducts(ctx context.Context, query string, opts ScrapeOptions) ([]models.RawListing, error) {
	a.searchCalls++
	return []models.RawListing{
		{ID: "fk-1", Title: "Spark Plug " + query, PriceText: "$4.99", URL: "https://fake.example/p/1"},
	}, nil
}

func (a *fakeAdapter) ScrapeProduct(ctx context.Context, url string, opts ScrapeOptions) (*models.RawListing, error) {
	a.productCalls++
	return &models.RawListing{
		ID:         "fk-1",
		Title:      "Spark Plug Iridium",
		Brand:      "NGK",
		PartNumber: "SP-9001",
		PriceText:  "$4.99",
		URL:        url,
	}, nil
}

// mapCache is an in-memory ResponseCache.
type mapCache struct {
	entries map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *mapCache) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}

// memStore backs the part pipeline for orchestrator tests.
type memStore struct {
	parts        []*models.CanonicalPart
	integrations []models.MarketplaceIntegration
	nextID       int64
}

func (m *memStore) GetPartByPartNumber(ctx context.Context, source, partNumber string) (*models.CanonicalPart, error) {
	for _, p := range m.parts {
		if p.Source == source && p.PartNumber == partNumber {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetPartBySourceID(ctx context.Context, source, sourceID string) (*models.CanonicalPart, error) {
	for _, p := range m.parts {
		if p.Source == source && p.SourceID == sourceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetFuzzyCandidates(ctx context.Context, namePrefix, brand string, limit int) ([]*models.CanonicalPart, error) {
	return nil, nil
}

func (m *memStore) GetPartByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPart, error) {
	for _, p := range m.parts {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertPart(ctx context.Context, p *models.CanonicalPart) error {
	cp := *p
	m.parts = append(m.parts, &cp)
	return nil
}

func (m *memStore) UpdatePart(ctx context.Context, p *models.CanonicalPart) error {
	for i, existing := range m.parts {
		if existing.ID == p.ID {
			cp := *p
			m.parts[i] = &cp
		}
	}
	return nil
}

func (m *memStore) EnqueuePartImage(ctx context.Context, partID uuid.UUID, originalURL string) error {
	return nil
}

func (m *memStore) GetLatestIntegration(ctx context.Context, partID uuid.UUID, platform string) (*models.MarketplaceIntegration, error) {
	var latest *models.MarketplaceIntegration
	for i := range m.integrations {
		snap := &m.integrations[i]
		if snap.PartID == partID && snap.Platform == platform {
			if latest == nil || snap.ID > latest.ID {
				latest = snap
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) InsertIntegration(ctx context.Context, snap *models.MarketplaceIntegration) error {
	m.nextID++
	snap.ID = m.nextID
	m.integrations = append(m.integrations, *snap)
	return nil
}

func (m *memStore) TouchIntegration(ctx context.Context, snap *models.MarketplaceIntegration) error {
	for i := range m.integrations {
		if m.integrations[i].ID == snap.ID {
			m.integrations[i] = *snap
		}
	}
	return nil
}

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeAdapter, *mapCache) {
	t.Helper()

	cfg := &config.Config{
		Sites: map[string]*config.SiteConfig{
			"fakesite": {
				ID:        "fakesite",
				Name:      "Fake Site",
				BaseURL:   "https://fake.example",
				RateLimit: config.RateLimitConfig{Tokens: 100, Interval: time.Minute},
			},
		},
		Cache:   config.CacheConfig{TTL: time.Minute},
		Scraper: config.ScraperConfig{InterSiteDelay: time.Millisecond, RequestTimeout: time.Second},
		Dedup: config.DedupConfig{
			Threshold:        0.9,
			NameWeight:       0.3,
			BrandWeight:      0.2,
			PartNumberWeight: 0.3,
			PriceWeight:      0.2,
		},
	}

	store := &memStore{}
	dedup := services.NewDedupService(store, cfg.Dedup)
	parts := services.NewPartService(store, nil, dedup, cfg.Cache.TTL)
	cache := newMapCache()

	o := NewOrchestrator(cfg, nil, cache, parts, httputil.NewClients(&cfg.Scraper), nil)

	adapter := &fakeAdapter{id: "fakesite"}
	o.RegisterAdapter(adapter)
	return o, adapter, cache
}

func TestSearchProducts_SecondCallServedFromCache(t *testing.T) {
	o, adapter, _ := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.SearchProducts(ctx, "fakesite", "spark plug", ScrapeOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call reported FromCache")
	}

	second, err := o.SearchProducts(ctx, "fakesite", "spark plug", ScrapeOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchProducts cached: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second call within TTL should come from cache")
	}
	if adapter.searchCalls != 1 {
		t.Fatalf("adapter invoked %d times, want 1", adapter.searchCalls)
	}
	if len(second.Listings) != len(first.Listings) {
		t.Fatalf("cached result has %d listings, want %d", len(second.Listings), len(first.Listings))
	}
}

func TestSearchProducts_ForceRefreshBypassesCache(t *testing.T) {
	o, adapter, _ := testOrchestrator(t)
	ctx := context.Background()

	if _, err := o.SearchProducts(ctx, "fakesite", "spark plug", ScrapeOptions{}); err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	result, err := o.SearchProducts(ctx, "fakesite", "spark plug", ScrapeOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("SearchProducts force: %v", err)
	}
	if result.FromCache {
		t.Fatal("forced refresh must not serve from cache")
	}
	if adapter.searchCalls != 2 {
		t.Fatalf("adapter invoked %d times, want 2", adapter.searchCalls)
	}
}

func TestScrapeProduct_SecondCallServedFromCache(t *testing.T) {
	o, adapter, _ := testOrchestrator(t)
	ctx := context.Background()

	first, err := o.ScrapeProduct(ctx, "fakesite", "https://fake.example/p/1", ScrapeOptions{})
	if err != nil {
		t.Fatalf("ScrapeProduct: %v", err)
	}
	if first.FromCache || first.Part == nil {
		t.Fatalf("first call = %+v, want live part", first)
	}

	second, err := o.ScrapeProduct(ctx, "fakesite", "https://fake.example/p/1", ScrapeOptions{})
	if err != nil {
		t.Fatalf("ScrapeProduct cached: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second call within TTL should come from cache")
	}
	if second.Part.ID != first.Part.ID {
		t.Fatalf("cached part id = %s, want %s", second.Part.ID, first.Part.ID)
	}
	if adapter.productCalls != 1 {
		t.Fatalf("adapter invoked %d times, want 1", adapter.productCalls)
	}

	forced, err := o.ScrapeProduct(ctx, "fakesite", "https://fake.example/p/1", ScrapeOptions{ForceRefresh: true})
	if err != nil {
		t.Fatalf("ScrapeProduct force: %v", err)
	}
	if forced.FromCache {
		t.Fatal("forced refresh must not serve from cache")
	}
	if adapter.productCalls != 2 {
		t.Fatalf("adapter invoked %d times after force, want 2", adapter.productCalls)
	}
}

func TestSites_IncludesRuntimeRegisteredAdapter(t *testing.T) {
	o, _, _ := testOrchestrator(t)

	o.RegisterAdapter(&fakeAdapter{id: "runtime_only"})

	sites := o.Sites()
	found := map[string]bool{}
	for _, id := range sites {
		found[id] = true
	}
	if !found["fakesite"] || !found["runtime_only"] {
		t.Fatalf("Sites() = %v, want both fakesite and runtime_only", sites)
	}

	// The runtime site also gets a rate bucket, so requests go through.
	if _, err := o.SearchProducts(context.Background(), "runtime_only", "q", ScrapeOptions{}); err != nil {
		t.Fatalf("SearchProducts on runtime site: %v", err)
	}
}
