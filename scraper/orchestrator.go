package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"partscout/config"
	"partscout/httputil"
	"partscout/models"
	"partscout/services"
	"partscout/storage"
)

// ResponseCache stores serialized scrape responses keyed by
// storage.CacheKey. *storage.RedisStore satisfies it.
type ResponseCache interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SiteResult summarizes one completed site run.
type SiteResult struct {
	SiteID     string    `json:"siteId"`
	PartsCount int       `json:"partsCount"`
	Duration   float64   `json:"durationSeconds"`
	Timestamp  time.Time `json:"timestamp"`
}

// AllResult collects the outcome of a full sweep across sites. A sweep
// succeeds partially: one failing site does not abort the rest.
type AllResult struct {
	Succeeded  []SiteResult      `json:"succeeded"`
	Failed     map[string]string `json:"failed"`
	TotalParts int               `json:"totalParts"`
	Duration   float64           `json:"durationSeconds"`
}

// ProductResult wraps a single-product scrape with cache provenance.
type ProductResult struct {
	Part      *models.CanonicalPart `json:"part"`
	FromCache bool                  `json:"fromCache"`
}

// SearchResult wraps search output with cache provenance.
type SearchResult struct {
	Listings  []models.RawListing `json:"listings"`
	FromCache bool                `json:"fromCache"`
}

type Orchestrator struct {
	cfg      *config.Config
	ops      *storage.OpsStore
	cache    ResponseCache
	parts    *services.PartService
	session  *BrowserSession
	limiters *RateLimiterTable

	mu       sync.Mutex
	adapters map[string]Adapter
	paused   bool
}

func NewOrchestrator(
	cfg *config.Config,
	ops *storage.OpsStore,
	cache ResponseCache,
	parts *services.PartService,
	clients *httputil.Clients,
	session *BrowserSession,
) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		ops:      ops,
		cache:    cache,
		parts:    parts,
		session:  session,
		limiters: NewRateLimiterTable(cfg.Sites),
		adapters: make(map[string]Adapter),
	}

	for _, siteCfg := range cfg.Sites {
		o.RegisterAdapter(NewAdapter(siteCfg, clients, session))
	}

	return o
}

// RegisterAdapter installs an adapter under its site id. Registering
// the same id again replaces the previous adapter. Sites without a
// config file get a default-sized rate bucket.
func (o *Orchestrator) RegisterAdapter(a Adapter) {
	o.mu.Lock()
	o.adapters[a.ID()] = a
	o.mu.Unlock()

	if _, ok := o.cfg.Sites[a.ID()]; !ok {
		o.limiters.Add(a.ID(), config.RateLimitConfig{})
	}
}

func (o *Orchestrator) adapter(siteID string) (Adapter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.adapters[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, siteID)
	}
	return a, nil
}

// Sites lists every registered adapter, including ones installed at
// runtime for sites with no config file.
func (o *Orchestrator) Sites() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.adapters))
	for id := range o.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScrapeSite runs a full catalog sweep for one site and pushes every
// listing through the processing pipeline.
func (o *Orchestrator) ScrapeSite(ctx context.Context, siteID string) (*SiteResult, error) {
	if o.IsPaused() {
		return nil, fmt.Errorf("scraper is paused")
	}

	siteCfg, ok := o.cfg.Sites[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, siteID)
	}
	adapter, err := o.adapter(siteID)
	if err != nil {
		return nil, err
	}

	if err := o.limiters.Allow(siteID); err != nil {
		return nil, err
	}

	started := time.Now()
	run := &models.ScrapeRun{
		SiteID:    siteID,
		StartedAt: started,
		Status:    models.RunStatusRunning,
	}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = runID

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", siteCfg.Name), siteID)

	stats := &services.ProcessStats{}

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		run.PartsNew = stats.PartsNew
		run.PartsUpdated = stats.PartsUpdated
		run.Duplicates = stats.Duplicates
		run.ErrorsCount = stats.Errors
		if err := o.ops.UpdateRun(run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
		if err := o.ops.UpdateSiteStats(siteID); err != nil {
			log.Printf("Warning: failed to update stats for %s: %v", siteID, err)
		}
	}()

	listings, err := o.scrapeWithRecycle(ctx, adapter)
	if err != nil {
		run.Status = models.RunStatusFailed
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Scrape failed: %v", err), siteID)
		return nil, err
	}
	run.ListingsFound = len(listings)
	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Found %d listings", len(listings)), siteID)

	for i := range listings {
		result, err := o.parts.ProcessListing(ctx, &listings[i], siteID, siteCfg.BaseURL)
		if err != nil {
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("Process error for %q: %v", listings[i].Title, err), siteID)
			stats.Errors++
			continue
		}
		stats.Aggregate(result)
	}

	run.Status = models.RunStatusCompleted
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d found, %d new, %d updated, %d duplicates, %d price changes",
			run.ListingsFound, stats.PartsNew, stats.PartsUpdated, stats.Duplicates, stats.PriceChanges), siteID)

	return &SiteResult{
		SiteID:     siteID,
		PartsCount: stats.PartsNew + stats.PartsUpdated,
		Duration:   time.Since(started).Seconds(),
		Timestamp:  started,
	}, nil
}

// scrapeWithRecycle runs a catalog sweep and, if the browser died mid
// run, recycles the shared session and retries once.
func (o *Orchestrator) scrapeWithRecycle(ctx context.Context, adapter Adapter) ([]models.RawListing, error) {
	listings, err := adapter.Scrape(ctx)
	if err == nil || !errors.Is(err, ErrBrowserGone) {
		return listings, err
	}

	log.Printf("[%s] Warning: browser session lost, recycling", adapter.ID())
	o.session.Recycle()
	return adapter.Scrape(ctx)
}

// ScrapeAll sweeps every configured site sequentially with a fixed
// delay between sites.
func (o *Orchestrator) ScrapeAll(ctx context.Context) (*AllResult, error) {
	started := time.Now()
	result := &AllResult{Failed: make(map[string]string)}

	sites := o.Sites()
	for i, siteID := range sites {
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(o.cfg.Scraper.InterSiteDelay):
			}
		}

		siteResult, err := o.ScrapeSite(ctx, siteID)
		if err != nil {
			log.Printf("Error running site %s: %v", siteID, err)
			result.Failed[siteID] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, *siteResult)
		result.TotalParts += siteResult.PartsCount
	}

	result.Duration = time.Since(started).Seconds()
	return result, nil
}

// ScrapeProduct fetches one product page, serving from the response
// cache unless ForceRefresh is set.
func (o *Orchestrator) ScrapeProduct(ctx context.Context, siteID, productURL string, opts ScrapeOptions) (*ProductResult, error) {
	adapter, err := o.adapter(siteID)
	if err != nil {
		return nil, err
	}

	key := storage.CacheKey(siteID, productURL, "product")
	if !opts.ForceRefresh {
		if data, ok, err := o.cache.CacheGet(ctx, key); err != nil {
			log.Printf("Warning: cache get failed: %v", err)
		} else if ok {
			var part models.CanonicalPart
			if err := json.Unmarshal(data, &part); err == nil {
				return &ProductResult{Part: &part, FromCache: true}, nil
			}
		}
	}

	if err := o.limiters.Allow(siteID); err != nil {
		return nil, err
	}

	listing, err := adapter.ScrapeProduct(ctx, productURL, opts)
	if err != nil {
		return nil, err
	}
	if listing.URL == "" {
		listing.URL = productURL
	}

	baseURL := ""
	if siteCfg, ok := o.cfg.Sites[siteID]; ok {
		baseURL = siteCfg.BaseURL
	}
	processed, err := o.parts.ProcessListing(ctx, listing, siteID, baseURL)
	if err != nil {
		return nil, err
	}

	part, err := o.parts.GetPart(ctx, processed.PartID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(part); err == nil {
		if err := o.cache.CacheSet(ctx, key, data, o.cfg.Cache.TTL); err != nil {
			log.Printf("Warning: cache set failed: %v", err)
		}
	}

	return &ProductResult{Part: part}, nil
}

// SearchProducts runs a keyword search against one site. Results are
// returned raw, without running the persistence pipeline, and cached
// under the query.
func (o *Orchestrator) SearchProducts(ctx context.Context, siteID, query string, opts ScrapeOptions) (*SearchResult, error) {
	adapter, err := o.adapter(siteID)
	if err != nil {
		return nil, err
	}

	key := storage.CacheKey(siteID, query, fmt.Sprintf("search:limit=%d", opts.Limit))
	if !opts.ForceRefresh {
		if data, ok, err := o.cache.CacheGet(ctx, key); err != nil {
			log.Printf("Warning: cache get failed: %v", err)
		} else if ok {
			var listings []models.RawListing
			if err := json.Unmarshal(data, &listings); err == nil {
				return &SearchResult{Listings: listings, FromCache: true}, nil
			}
		}
	}

	if err := o.limiters.Allow(siteID); err != nil {
		return nil, err
	}

	listings, err := adapter.SearchProducts(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(listings); err == nil {
		if err := o.cache.CacheSet(ctx, key, data, o.cfg.Cache.TTL); err != nil {
			log.Printf("Warning: cache set failed: %v", err)
		}
	}

	return &SearchResult{Listings: listings}, nil
}

// ScrapeAcross searches several platforms for the same identifier (a
// part number or product name). Per-platform failures are collected,
// not fatal.
func (o *Orchestrator) ScrapeAcross(ctx context.Context, identifier string, platforms []string, opts ScrapeOptions) (map[string]*SearchResult, map[string]string) {
	if len(platforms) == 0 {
		platforms = o.Sites()
	}

	results := make(map[string]*SearchResult)
	failures := make(map[string]string)

	for _, platform := range platforms {
		res, err := o.SearchProducts(ctx, platform, identifier, opts)
		if err != nil {
			failures[platform] = err.Error()
			continue
		}
		results[platform] = res
	}

	return results, failures
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	log.Println("Scraper paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	log.Println("Scraper resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := o.ops.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err := o.ScrapeAll(ctx)
		return err
	case models.CmdScrapeSite:
		if params.Site != "" {
			_, err := o.ScrapeSite(ctx, params.Site)
			return err
		}
		_, err := o.ScrapeAll(ctx)
		return err
	case models.CmdPause:
		o.Pause()
	case models.CmdResume:
		o.Resume()
	}

	return nil
}

func (o *Orchestrator) Status() map[string]interface{} {
	return map[string]interface{}{
		"paused": o.IsPaused(),
		"sites":  o.Sites(),
	}
}

// Cleanup releases the shared browser session.
func (o *Orchestrator) Cleanup() {
	if o.session != nil {
		o.session.Close()
	}
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, siteID string) {
	log.Printf("[%s] %s: %s", level, siteID, message)
	if err := o.ops.Log(&runID, level, message, siteID); err != nil {
		log.Printf("Warning: log write failed: %v", err)
	}
}
