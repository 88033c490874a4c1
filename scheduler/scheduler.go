package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"partscout/config"
	"partscout/models"
	"partscout/queue"
	"partscout/scraper"
	"partscout/storage"
)

// Triggerable allows background workers to be kicked manually.
type Triggerable interface {
	Trigger()
}

// Scheduler owns the cron table: one entry per site on its configured
// schedule, plus the tracked-part recheck sweep. Cron entries only
// enqueue jobs; the queue workers do the actual scraping.
type Scheduler struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	jobs         *queue.Queue
	ops          *storage.OpsStore
	catalog      *storage.PostgresStore
	cron         *cron.Cron
	stopCh       chan struct{}

	mu      sync.Mutex
	entries map[string]cron.EntryID

	imageWorker Triggerable
}

func New(
	cfg *config.Config,
	orchestrator *scraper.Orchestrator,
	jobs *queue.Queue,
	ops *storage.OpsStore,
	catalog *storage.PostgresStore,
) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		jobs:         jobs,
		ops:          ops,
		catalog:      catalog,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		entries:      make(map[string]cron.EntryID),
	}
}

// SetImageWorker registers the image archiver for manual triggering.
func (s *Scheduler) SetImageWorker(w Triggerable) {
	s.imageWorker = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	for siteID, siteCfg := range s.cfg.Sites {
		if siteCfg.Cron == "" {
			log.Printf("No schedule for %s, site runs on demand only", siteID)
			continue
		}
		if err := s.scheduleSite(ctx, siteID, siteCfg.Cron); err != nil {
			return err
		}
	}

	if s.cfg.Scheduler.RecheckCron != "" {
		if err := s.schedule("recheck", s.cfg.Scheduler.RecheckCron, func() {
			if err := s.enqueueRechecks(ctx); err != nil {
				log.Printf("Recheck sweep error: %v", err)
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// scheduleSite registers (or replaces) the cron entry that enqueues a
// full scrape of one site.
func (s *Scheduler) scheduleSite(ctx context.Context, siteID, spec string) error {
	log.Printf("Scheduling %s: %s", siteID, spec)
	return s.schedule("site:"+siteID, spec, func() {
		job := &models.ScrapeJob{
			Kind: models.JobKindSiteScrape,
			Site: siteID,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			log.Printf("Error enqueueing scheduled scrape for %s: %v", siteID, err)
		}
	})
}

// schedule adds a keyed cron entry. Re-registering a key removes the
// previous entry first, so schedules can be replaced at runtime.
func (s *Scheduler) schedule(key, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old)
	}

	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", spec, key, err)
	}
	s.entries[key] = id
	return nil
}

// enqueueRechecks finds tracked parts whose snapshots have gone stale
// and queues a recheck job per (part, platform) pair.
func (s *Scheduler) enqueueRechecks(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.Scheduler.RecheckInterval)
	targets, err := s.catalog.GetStaleTrackedTargets(ctx, cutoff, s.cfg.Scheduler.RecheckBatchSize)
	if err != nil {
		return fmt.Errorf("stale targets: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	log.Printf("Recheck sweep: %d stale targets", len(targets))
	for _, target := range targets {
		payload, err := json.Marshal(models.RecheckPayload{
			PartID:   target.PartID.String(),
			Platform: target.Platform,
			URL:      target.ExternalURL,
		})
		if err != nil {
			continue
		}
		job := &models.ScrapeJob{
			Kind:    models.JobKindRecheck,
			Site:    target.Platform,
			Payload: payload,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			log.Printf("Error enqueueing recheck for %s: %v", target.PartID, err)
		}
	}
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.ops.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdPause:
		s.jobs.Pause()
		return s.orchestrator.HandleCommand(ctx, cmd)
	case models.CmdResume:
		s.jobs.Resume()
		return s.orchestrator.HandleCommand(ctx, cmd)
	default:
		return s.orchestrator.HandleCommand(ctx, cmd)
	}
}

// TriggerSite bypasses the cron table and queues a site scrape now.
func (s *Scheduler) TriggerSite(ctx context.Context, siteID string) error {
	return s.jobs.Enqueue(ctx, &models.ScrapeJob{
		Kind: models.JobKindSiteScrape,
		Site: siteID,
	})
}
