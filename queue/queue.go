package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"partscout/config"
	"partscout/models"
)

const (
	keyPending    = "queue:pending"
	keyProcessing = "queue:processing"
	keyDelayed    = "queue:delayed"
	keyFailed     = "queue:failed"
)

// HandlerFunc executes one job and reports how many parts it touched.
type HandlerFunc func(ctx context.Context, job *models.ScrapeJob) (int, error)

// Queue is a Redis-backed job queue. Pending jobs sit in a list and are
// moved into a processing list while a worker runs them, so a crash
// mid-job leaves the entry behind for recovery on the next start.
// Retries and scheduled jobs wait in a delayed sorted set scored by
// their due time; exhausted jobs land in a failed set purged after a
// retention window.
type Queue struct {
	client *redis.Client
	cfg    config.QueueConfig

	mu       sync.Mutex
	handlers map[models.JobKind]HandlerFunc
	paused   bool

	// Optional observers, called after a job settles.
	OnCompleted func(job *models.ScrapeJob, partsCount int)
	OnFailed    func(job *models.ScrapeJob)

	wg sync.WaitGroup
}

func New(client *redis.Client, cfg config.QueueConfig) *Queue {
	return &Queue{
		client:   client,
		cfg:      cfg,
		handlers: make(map[models.JobKind]HandlerFunc),
	}
}

// Register installs the handler for a job kind. Later registrations
// replace earlier ones.
func (q *Queue) Register(kind models.JobKind, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = fn
}

func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

func (q *Queue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Enqueue queues a job for immediate pickup, or for delayed pickup when
// ScheduledAt is in the future. Fills in id, status and bookkeeping
// fields.
func (q *Queue) Enqueue(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.Status = models.JobStatusQueued

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if job.ScheduledAt.After(time.Now()) {
		return q.client.ZAdd(ctx, keyDelayed, redis.Z{
			Score:  float64(job.ScheduledAt.Unix()),
			Member: data,
		}).Err()
	}
	return q.client.LPush(ctx, keyPending, data).Err()
}

// Run starts the worker pool plus the delayed-job mover and the failed
// retention purge, and blocks until ctx is cancelled and all workers
// have drained. Jobs orphaned in the processing list by a previous
// crash are requeued first.
func (q *Queue) Run(ctx context.Context) {
	q.recoverProcessing(ctx)

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(2)
	go q.moveDelayed(ctx)
	go q.purgeFailed(ctx)

	q.wg.Wait()
}

// recoverProcessing moves entries stranded in the processing list back
// onto the pending list. Runs once at startup, before the worker pool;
// a single daemon owns the queue, so anything still in processing
// belongs to a dead run.
func (q *Queue) recoverProcessing(ctx context.Context) {
	recovered := 0
	for {
		_, err := q.client.LMove(ctx, keyProcessing, keyPending, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			log.Printf("Warning: recover processing list: %v", err)
			break
		}
		recovered++
	}
	if recovered > 0 {
		log.Printf("Requeued %d jobs orphaned by a previous run", recovered)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if q.isPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		raw, err := q.client.BLMove(ctx, keyPending, keyProcessing, "RIGHT", "LEFT", 5*time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Warning: queue worker %d: blmove: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		var job models.ScrapeJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Printf("Warning: queue worker %d: bad job payload: %v", id, err)
			q.settle(raw)
			continue
		}

		q.execute(ctx, &job)
		q.settle(raw)
	}
}

// settle drops a job from the processing list once it has completed,
// been requeued for retry, or landed in the failed set. Uses a fresh
// context so a job that finished during shutdown is still removed.
func (q *Queue) settle(raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.LRem(ctx, keyProcessing, 1, raw).Err(); err != nil {
		log.Printf("Warning: settle job: %v", err)
	}
}

func (q *Queue) execute(ctx context.Context, job *models.ScrapeJob) {
	q.mu.Lock()
	handler, ok := q.handlers[job.Kind]
	q.mu.Unlock()
	if !ok {
		log.Printf("Warning: no handler for job kind %q, dropping %s", job.Kind, job.ID)
		return
	}

	job.Status = models.JobStatusActive
	job.Attempts++

	partsCount, err := handler(ctx, job)
	if err == nil {
		job.Status = models.JobStatusCompleted
		if q.OnCompleted != nil {
			q.OnCompleted(job, partsCount)
		}
		return
	}

	job.LastError = err.Error()
	log.Printf("Warning: job %s (%s) attempt %d/%d failed: %v",
		job.ID, job.Kind, job.Attempts, job.MaxAttempts, err)

	if job.Attempts < job.MaxAttempts {
		job.Status = models.JobStatusQueued
		job.ScheduledAt = time.Now().Add(Backoff(q.cfg.BackoffBase, job.Attempts))
		if err := q.requeue(ctx, job); err != nil {
			log.Printf("Warning: requeue job %s: %v", job.ID, err)
		}
		return
	}

	job.Status = models.JobStatusFailed
	if err := q.fail(ctx, job); err != nil {
		log.Printf("Warning: record failed job %s: %v", job.ID, err)
	}
	if q.OnFailed != nil {
		q.OnFailed(job)
	}
}

// Backoff returns the exponential delay before the given retry:
// base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}

func (q *Queue) requeue(ctx context.Context, job *models.ScrapeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(job.ScheduledAt.Unix()),
		Member: data,
	}).Err()
}

func (q *Queue) fail(ctx context.Context, job *models.ScrapeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, keyFailed, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: data,
	}).Err()
}

// moveDelayed shifts due jobs from the delayed set onto the pending
// list once per second.
func (q *Queue) moveDelayed(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().Unix(), 10)
		jobs, err := q.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: delayed scan: %v", err)
			}
			continue
		}

		for _, raw := range jobs {
			pipe := q.client.TxPipeline()
			pipe.ZRem(ctx, keyDelayed, raw)
			pipe.LPush(ctx, keyPending, raw)
			if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Warning: promote delayed job: %v", err)
			}
		}
	}
}

// purgeFailed drops failed jobs older than the retention window.
func (q *Queue) purgeFailed(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-q.cfg.FailedRetention).Unix()
		removed, err := q.client.ZRemRangeByScore(ctx, keyFailed,
			"-inf", strconv.FormatInt(cutoff, 10)).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: failed purge: %v", err)
			}
			continue
		}
		if removed > 0 {
			log.Printf("Purged %d expired failed jobs", removed)
		}
	}
}

// FailedJobs lists retained failed jobs, newest first.
func (q *Queue) FailedJobs(ctx context.Context, limit int64) ([]models.ScrapeJob, error) {
	raws, err := q.client.ZRevRange(ctx, keyFailed, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]models.ScrapeJob, 0, len(raws))
	for _, raw := range raws {
		var job models.ScrapeJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth reports the pending and delayed backlog sizes.
func (q *Queue) Depth(ctx context.Context) (pending, delayed int64, err error) {
	pending, err = q.client.LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err = q.client.ZCard(ctx, keyDelayed).Result()
	return pending, delayed, err
}
