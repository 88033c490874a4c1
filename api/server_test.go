package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"partscout/config"
	"partscout/httputil"
	"partscout/scraper"
	"partscout/services"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Sites:   make(map[string]*config.SiteConfig),
		Cache:   config.CacheConfig{TTL: time.Minute},
		Scraper: config.ScraperConfig{RequestTimeout: time.Second},
		API:     config.APIConfig{Addr: ":0"},
	}
	orchestrator := scraper.NewOrchestrator(cfg, nil, nil, nil, httputil.NewClients(&cfg.Scraper), nil)
	return NewServer(cfg, orchestrator, services.NewPriceTracker(nil), nil, nil)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatus(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if paused, ok := body["paused"].(bool); !ok || paused {
		t.Fatalf("paused = %v, want false", body["paused"])
	}
	if _, ok := body["queue"]; ok {
		t.Fatal("queue section present without a running queue")
	}
}

func TestHandleFailedJobs_WithoutQueue(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/jobs/failed")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
}

func TestHandleCategoryParts_WithoutCache(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/categories/brakes/parts")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
}

func TestScrapeStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: rockauto", scraper.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("%w: nosite", scraper.ErrUnknownSite), http.StatusNotFound},
		{fmt.Errorf("connection reset"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := scrapeStatus(tc.err); got != tc.want {
			t.Fatalf("scrapeStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
