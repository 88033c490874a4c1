package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partscout/api"
	"partscout/config"
	"partscout/httputil"
	"partscout/logging"
	"partscout/models"
	"partscout/queue"
	"partscout/scheduler"
	"partscout/scraper"
	"partscout/services"
	"partscout/storage"
	"partscout/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run a full scrape once and exit")
	scrapeSite = flag.String("site", "", "With -scrape, limit the run to one site")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting partscout...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s)", site.Name, id)
	}

	clients := httputil.NewClients(&cfg.Scraper)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()

	redisStore, err := storage.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisStore.Close()

	opsStore, err := storage.NewOpsStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open ops database: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.DBPath)

	dedup := services.NewDedupService(pgStore, cfg.Dedup)
	parts := services.NewPartService(pgStore, redisStore, dedup, cfg.Cache.TTL)
	tracker := services.NewPriceTracker(pgStore)
	log.Println("Services initialized")

	session := scraper.NewBrowserSession()
	orchestrator := scraper.NewOrchestrator(cfg, opsStore, redisStore, parts, clients, session)
	defer orchestrator.Cleanup()

	if ebayCfg, ok := cfg.Sites["ebay_motors"]; ok {
		if appID := os.Getenv("EBAY_APP_ID"); appID != "" {
			adapter := scraper.NewEbayMotorsAdapter(ebayCfg, clients)
			adapter.SetAppID(appID)
			orchestrator.RegisterAdapter(adapter)
		} else {
			log.Println("Warning: EBAY_APP_ID not set, ebay_motors searches will fail")
		}
	}

	if *scrapeNow {
		runOnce(ctx, orchestrator, *scrapeSite)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := queue.New(redisStore.Client(), cfg.Queue)
	jobs.OnCompleted = func(job *models.ScrapeJob, partsCount int) {
		log.Printf("Job %s (%s) completed: %d parts", job.ID, job.Kind, partsCount)
	}
	jobs.OnFailed = func(job *models.ScrapeJob) {
		log.Printf("Job %s (%s) failed permanently: %s", job.ID, job.Kind, job.LastError)
	}
	registerHandlers(jobs, orchestrator)
	queueDone := make(chan struct{})
	go func() {
		jobs.Run(ctx)
		close(queueDone)
	}()
	log.Printf("Job queue started with %d workers", cfg.Queue.Concurrency)

	sched := scheduler.New(cfg, orchestrator, jobs, opsStore, pgStore)

	var archiver *workers.ImageArchiver
	if cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to init S3 uploader: %v", err)
		}
		archiver = workers.NewImageArchiver(pgStore, uploader)
	} else {
		log.Println("No S3 bucket configured, images stay unarchived")
		archiver = workers.NewImageArchiver(pgStore, nil)
	}
	archiver.SetLogger(func(level models.LogLevel, source, message string) {
		if err := opsStore.Log(nil, level, message, source); err != nil {
			log.Printf("Warning: archiver log write failed: %v", err)
		}
	})
	go archiver.Run(ctx, 20, 2*time.Minute)
	sched.SetImageWorker(archiver)
	log.Println("Image archiver started")

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	server := api.NewServer(cfg, orchestrator, tracker, jobs, redisStore)
	go server.Start()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Force exit if the drain stalls on an in-flight page load or a
	// wedged connection.
	time.AfterFunc(45*time.Second, func() {
		log.Println("Shutdown timed out, forcing exit")
		os.Exit(1)
	})

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: API shutdown: %v", err)
	}

	cancel()

	// Let in-flight jobs settle before tearing down the stores the
	// handlers depend on.
	<-queueDone

	log.Println("Goodbye!")
}

func runOnce(ctx context.Context, orchestrator *scraper.Orchestrator, site string) {
	if site != "" {
		log.Printf("Running scrape for %s...", site)
		result, err := orchestrator.ScrapeSite(ctx, site)
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Printf("Scrape complete: %d parts in %.1fs", result.PartsCount, result.Duration)
		return
	}

	log.Println("Running full scrape...")
	result, err := orchestrator.ScrapeAll(ctx)
	if err != nil {
		log.Fatalf("Scrape failed: %v", err)
	}
	log.Printf("Scrape complete: %d parts across %d sites, %d failed",
		result.TotalParts, len(result.Succeeded), len(result.Failed))
	for site, msg := range result.Failed {
		log.Printf("  failed %s: %s", site, msg)
	}
}

// registerHandlers binds job kinds to orchestrator operations.
func registerHandlers(jobs *queue.Queue, orchestrator *scraper.Orchestrator) {
	jobs.Register(models.JobKindSiteScrape, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		result, err := orchestrator.ScrapeSite(ctx, job.Site)
		if err != nil {
			return 0, err
		}
		return result.PartsCount, nil
	})

	jobs.Register(models.JobKindProduct, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		var payload models.ProductPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return 0, fmt.Errorf("bad product payload: %w", err)
		}
		_, err := orchestrator.ScrapeProduct(ctx, job.Site, payload.URL,
			scraper.ScrapeOptions{ForceRefresh: payload.ForceRefresh})
		if err != nil {
			return 0, err
		}
		return 1, nil
	})

	jobs.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		var payload models.SearchPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return 0, fmt.Errorf("bad search payload: %w", err)
		}
		result, err := orchestrator.SearchProducts(ctx, job.Site, payload.Query,
			scraper.ScrapeOptions{Limit: payload.Limit, ForceRefresh: payload.ForceRefresh})
		if err != nil {
			return 0, err
		}
		return len(result.Listings), nil
	})

	jobs.Register(models.JobKindRecheck, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		var payload models.RecheckPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return 0, fmt.Errorf("bad recheck payload: %w", err)
		}
		// Rechecks always hit the live page so the snapshot is fresh.
		_, err := orchestrator.ScrapeProduct(ctx, payload.Platform, payload.URL,
			scraper.ScrapeOptions{ForceRefresh: true})
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
}
