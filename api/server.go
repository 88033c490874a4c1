package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"partscout/config"
	"partscout/queue"
	"partscout/scraper"
	"partscout/services"
	"partscout/storage"
)

// Server exposes the scrape and price-tracking operations over HTTP.
type Server struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	tracker      *services.PriceTracker
	jobs         *queue.Queue
	cache        *storage.RedisStore
	httpServer   *http.Server
}

func NewServer(cfg *config.Config, orchestrator *scraper.Orchestrator, tracker *services.PriceTracker, jobs *queue.Queue, cache *storage.RedisStore) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		tracker:      tracker,
		jobs:         jobs,
		cache:        cache,
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/platforms", s.handlePlatforms).Methods("GET")
	r.HandleFunc("/jobs/failed", s.handleFailedJobs).Methods("GET")
	r.HandleFunc("/scrape/product", s.handleScrapeProduct).Methods("POST")
	r.HandleFunc("/scrape/search", s.handleSearch).Methods("POST")
	r.HandleFunc("/scrape/all", s.handleScrapeAcross).Methods("POST")
	r.HandleFunc("/parts/{id}/prices", s.handlePriceHistory).Methods("GET")
	r.HandleFunc("/parts/{id}/current", s.handleCurrentPrices).Methods("GET")
	r.HandleFunc("/parts/{id}/track", s.handleTrack).Methods("POST")
	r.HandleFunc("/categories/{category}/parts", s.handleCategoryParts).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // scrape endpoints run the scraper inline
	}

	return s
}

// Start runs the listener until Shutdown is called.
func (s *Server) Start() {
	log.Printf("API listening on %s", s.cfg.API.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("API server error: %v", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.orchestrator.Status()

	if s.jobs != nil {
		pending, delayed, err := s.jobs.Depth(r.Context())
		if err != nil {
			log.Printf("Warning: queue depth: %v", err)
		} else {
			status["queue"] = map[string]int64{
				"pending": pending,
				"delayed": delayed,
			}
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not running")
		return
	}

	limit := int64(50)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	failed, err := s.jobs.FailedJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(failed),
		"jobs":  failed,
	})
}

func (s *Server) handleCategoryParts(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not available")
		return
	}

	category := mux.Vars(r)["category"]
	partIDs, err := s.cache.CacheGetCategory(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"partIds":  partIDs,
	})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": s.orchestrator.Sites(),
	})
}

type scrapeProductRequest struct {
	Platform     string `json:"platform"`
	URL          string `json:"url"`
	ForceRefresh bool   `json:"forceRefresh"`
}

func (s *Server) handleScrapeProduct(w http.ResponseWriter, r *http.Request) {
	var req scrapeProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "platform and url are required")
		return
	}

	result, err := s.orchestrator.ScrapeProduct(r.Context(), req.Platform, req.URL,
		scraper.ScrapeOptions{ForceRefresh: req.ForceRefresh})
	if err != nil {
		writeError(w, scrapeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Platform     string `json:"platform"`
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	ForceRefresh bool   `json:"forceRefresh"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "platform and query are required")
		return
	}

	result, err := s.orchestrator.SearchProducts(r.Context(), req.Platform, req.Query,
		scraper.ScrapeOptions{Limit: req.Limit, ForceRefresh: req.ForceRefresh})
	if err != nil {
		writeError(w, scrapeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type scrapeAcrossRequest struct {
	Identifier string   `json:"identifier"`
	Platforms  []string `json:"platforms"`
	Limit      int      `json:"limit"`
}

func (s *Server) handleScrapeAcross(w http.ResponseWriter, r *http.Request) {
	var req scrapeAcrossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	results, failures := s.orchestrator.ScrapeAcross(r.Context(), req.Identifier, req.Platforms,
		scraper.ScrapeOptions{Limit: req.Limit})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"failures": failures,
	})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	partID, ok := partIDFromRequest(w, r)
	if !ok {
		return
	}

	query := services.HistoryQuery{
		Platform: r.URL.Query().Get("platform"),
	}
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		query.Days = days
	}

	history, err := s.tracker.GetPriceHistory(r.Context(), partID, query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partId":  partID.String(),
		"history": history,
	})
}

func (s *Server) handleCurrentPrices(w http.ResponseWriter, r *http.Request) {
	partID, ok := partIDFromRequest(w, r)
	if !ok {
		return
	}

	prices, err := s.tracker.GetCurrentPrices(r.Context(), partID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partId": partID.String(),
		"prices": prices,
	})
}

type trackRequest struct {
	Platforms   []string `json:"platforms"`
	TargetPrice *float64 `json:"targetPrice"`
	NotifyEmail string   `json:"notifyEmail"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	partID, ok := partIDFromRequest(w, r)
	if !ok {
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.tracker.TrackPart(r.Context(), partID, services.TrackRequest{
		Platforms:   req.Platforms,
		TargetPrice: req.TargetPrice,
		NotifyEmail: req.NotifyEmail,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tracking"})
}

func partIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	partID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid part id")
		return uuid.Nil, false
	}
	return partID, true
}

func scrapeStatus(err error) int {
	switch {
	case scraper.IsRateLimited(err):
		return http.StatusTooManyRequests
	case scraper.IsUnknownSite(err):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Warning: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
