package httputil

import (
	"net/http"
	"net/url"
	"time"

	"partscout/config"
)

// Clients separates traffic to scraped marketplaces from traffic to our
// own backends. The scraping client honors an optional proxy and never
// follows redirects, since a 301 from a product page usually means the
// listing is gone.
type Clients struct {
	Scraping *http.Client // proxied, for marketplace sites
	API      *http.Client // direct, for S3/own services
}

func NewClients(cfg *config.ScraperConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	scraping := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
