package scraper

import (
	"context"

	"partscout/config"
	"partscout/httputil"
	"partscout/models"
)

// ScrapeOptions tune a single product or search call.
type ScrapeOptions struct {
	Limit        int
	ForceRefresh bool
}

// Adapter is the uniform scrape contract every marketplace implements,
// whatever its extraction technique. Field names on the produced
// RawListings are identical across sites so normalization stays
// site-agnostic.
type Adapter interface {
	ID() string
	RequiresBrowser() bool

	// Scrape bulk-crawls the site across its configured facets.
	Scrape(ctx context.Context) ([]models.RawListing, error)

	// SearchProducts runs an on-demand keyword search, capped by
	// opts.Limit.
	SearchProducts(ctx context.Context, query string, opts ScrapeOptions) ([]models.RawListing, error)

	// ScrapeProduct extracts a single product page.
	ScrapeProduct(ctx context.Context, url string, opts ScrapeOptions) (*models.RawListing, error)
}

// NewAdapter dispatches on the configured handler kind.
func NewAdapter(cfg *config.SiteConfig, clients *httputil.Clients, session *BrowserSession) Adapter {
	switch cfg.Handler {
	case "browser":
		return NewRockAutoAdapter(cfg, session)
	case "api":
		return NewEbayMotorsAdapter(cfg, clients)
	default:
		return NewPartsTrainAdapter(cfg, clients)
	}
}
