package workers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"partscout/models"
	"partscout/storage"
)

type fakeImageStore struct {
	pending  []storage.PartImage
	archived map[int64]string // id -> s3 key
	failed   map[int64]int
}

func newFakeImageStore(urls ...string) *fakeImageStore {
	f := &fakeImageStore{
		archived: make(map[int64]string),
		failed:   make(map[int64]int),
	}
	for i, u := range urls {
		f.pending = append(f.pending, storage.PartImage{
			ID:          int64(i + 1),
			PartID:      uuid.New(),
			OriginalURL: u,
			Status:      "pending",
		})
	}
	return f
}

func (f *fakeImageStore) GetPendingImages(ctx context.Context, limit int) ([]storage.PartImage, error) {
	var out []storage.PartImage
	for _, img := range f.pending {
		if _, done := f.archived[img.ID]; done {
			continue
		}
		if f.failed[img.ID] > 0 {
			continue
		}
		out = append(out, img)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeImageStore) MarkImageArchived(ctx context.Context, id int64, s3Key, contentHash string) error {
	f.archived[id] = s3Key
	return nil
}

func (f *fakeImageStore) MarkImageFailed(ctx context.Context, id int64) error {
	f.failed[id]++
	return nil
}

type fakeUploader struct {
	keys []string
}

func (u *fakeUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	u.keys = append(u.keys, key)
	return nil
}

func (u *fakeUploader) PublicURL(key string) string {
	return "https://cdn.example/" + key
}

type recordingLog struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLog) fn(level models.LogLevel, source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf("%s %s %s", level, source, message))
}

func TestImageArchiver_ArchivesPendingBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	store := newFakeImageStore(srv.URL+"/a.jpg", srv.URL+"/b.jpg")
	uploader := &fakeUploader{}
	rec := &recordingLog{}

	archiver := NewImageArchiver(store, uploader)
	archiver.SetLogger(rec.fn)
	archiver.processBatch(context.Background(), 10)

	if len(store.archived) != 2 {
		t.Fatalf("archived %d images, want 2", len(store.archived))
	}
	if len(uploader.keys) != 2 {
		t.Fatalf("uploaded %d objects, want 2", len(uploader.keys))
	}

	// Identical bytes hash to the same content-addressed key.
	if uploader.keys[0] != uploader.keys[1] {
		t.Fatalf("keys differ for identical content: %q vs %q", uploader.keys[0], uploader.keys[1])
	}
	if !strings.HasPrefix(uploader.keys[0], "images/") || !strings.HasSuffix(uploader.keys[0], ".jpg") {
		t.Fatalf("unexpected key shape: %q", uploader.keys[0])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.lines) != 1 {
		t.Fatalf("got %d log lines, want 1 batch summary", len(rec.lines))
	}
	if !strings.Contains(rec.lines[0], "Archived 2 images, 0 failed") {
		t.Fatalf("unexpected batch summary: %q", rec.lines[0])
	}
}

func TestImageArchiver_ReportsFailuresToLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := newFakeImageStore(srv.URL + "/missing.jpg")
	rec := &recordingLog{}

	archiver := NewImageArchiver(store, nil)
	archiver.SetLogger(rec.fn)
	archiver.processBatch(context.Background(), 10)

	if store.failed[1] != 1 {
		t.Fatalf("image not marked failed: %v", store.failed)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.lines) != 2 {
		t.Fatalf("got %d log lines, want failure + summary", len(rec.lines))
	}
	if !strings.Contains(rec.lines[0], "Archive failed") {
		t.Fatalf("missing failure line: %q", rec.lines[0])
	}
	if !strings.Contains(rec.lines[1], "Archived 0 images, 1 failed") {
		t.Fatalf("unexpected summary: %q", rec.lines[1])
	}
}
