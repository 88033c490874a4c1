package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"partscout/config"
	"partscout/models"
)

func testQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := New(client, config.QueueConfig{
		Concurrency:     1,
		MaxAttempts:     2,
		BackoffBase:     time.Millisecond,
		FailedRetention: time.Hour,
	})
	return q, mr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	for _, tc := range cases {
		if got := Backoff(base, tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%v, %d) = %v, want %v", base, tc.attempt, got, tc.want)
		}
	}
}

func TestBackoff_ClampsBadAttempt(t *testing.T) {
	base := time.Second
	if got := Backoff(base, 0); got != base {
		t.Fatalf("Backoff(_, 0) = %v, want %v", got, base)
	}
	if got := Backoff(base, -3); got != base {
		t.Fatalf("Backoff(_, -3) = %v, want %v", got, base)
	}
}

func TestQueue_SettleRemovesProcessingEntry(t *testing.T) {
	q, mr := testQueue(t)

	done := make(chan string, 1)
	q.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		done <- job.ID
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &models.ScrapeJob{Kind: models.JobKindSearch, Site: "partstrain"}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	go q.Run(ctx)

	select {
	case id := <-done:
		if id != job.ID {
			t.Fatalf("handler got job %s, want %s", id, job.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	waitFor(t, 2*time.Second, func() bool {
		return mr.Exists(keyProcessing) == false && mr.Exists(keyPending) == false
	})
}

func TestQueue_RecoversOrphanedProcessingJobs(t *testing.T) {
	q, mr := testQueue(t)

	// A previous run died mid-job: the entry is still in the
	// processing list and nowhere else.
	orphan := &models.ScrapeJob{
		ID:          "orphan-1",
		Kind:        models.JobKindSearch,
		Site:        "partstrain",
		MaxAttempts: 2,
	}
	data, err := json.Marshal(orphan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := mr.Lpush(keyProcessing, string(data)); err != nil {
		t.Fatalf("seed processing list: %v", err)
	}

	done := make(chan string, 1)
	q.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		done <- job.ID
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case id := <-done:
		if id != "orphan-1" {
			t.Fatalf("recovered job %s, want orphan-1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned job was never re-executed")
	}
}

func TestQueue_FailedAttemptLandsInDelayedSet(t *testing.T) {
	q, mr := testQueue(t)
	// Push the retry far out so the delayed-set mover leaves it alone.
	q.cfg.BackoffBase = time.Hour

	q.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		return 0, errors.New("site unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, &models.ScrapeJob{Kind: models.JobKindSearch, Site: "partstrain"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	go q.Run(ctx)

	waitFor(t, 5*time.Second, func() bool {
		members, err := mr.ZMembers(keyDelayed)
		return err == nil && len(members) == 1
	})

	members, err := mr.ZMembers(keyDelayed)
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	var requeued models.ScrapeJob
	if err := json.Unmarshal([]byte(members[0]), &requeued); err != nil {
		t.Fatalf("unmarshal requeued job: %v", err)
	}
	if requeued.Attempts != 1 {
		t.Fatalf("requeued attempts = %d, want 1", requeued.Attempts)
	}
	if requeued.LastError == "" {
		t.Fatal("requeued job lost its last error")
	}

	waitFor(t, 2*time.Second, func() bool {
		return mr.Exists(keyProcessing) == false
	})
}

func TestQueue_ExhaustedJobVisibleViaFailedJobs(t *testing.T) {
	q, _ := testQueue(t)
	q.cfg.MaxAttempts = 1

	failed := make(chan struct{}, 1)
	q.OnFailed = func(job *models.ScrapeJob) { failed <- struct{}{} }
	q.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		return 0, errors.New("permanent failure")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, &models.ScrapeJob{Kind: models.JobKindSearch, Site: "partstrain"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	go q.Run(ctx)

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed permanently")
	}

	jobs, err := q.FailedJobs(ctx, 10)
	if err != nil {
		t.Fatalf("FailedJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d failed jobs, want 1", len(jobs))
	}
	if jobs[0].LastError != "permanent failure" {
		t.Fatalf("failed job error = %q", jobs[0].LastError)
	}
}

func TestQueue_DepthReportsBacklog(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, &models.ScrapeJob{Kind: models.JobKindSearch, Site: "partstrain"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, &models.ScrapeJob{
		Kind:        models.JobKindRecheck,
		Site:        "partstrain",
		ScheduledAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Enqueue delayed: %v", err)
	}

	pending, delayed, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if pending != 1 || delayed != 1 {
		t.Fatalf("Depth = (%d, %d), want (1, 1)", pending, delayed)
	}
}

func TestQueue_RunReturnsAfterCancel(t *testing.T) {
	q, _ := testQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})
	q.Register(models.JobKindSearch, func(ctx context.Context, job *models.ScrapeJob) (int, error) {
		close(started)
		<-release
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Enqueue(ctx, &models.ScrapeJob{Kind: models.JobKindSearch, Site: "partstrain"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not drain after cancel")
	}
}
