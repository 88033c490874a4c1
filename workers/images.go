package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"partscout/models"
	"partscout/storage"
)

// S3Uploader uploads image bytes to S3-compatible storage.
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// ImageStore is the part-image work list the archiver drains.
// *storage.PostgresStore satisfies it.
type ImageStore interface {
	GetPendingImages(ctx context.Context, limit int) ([]storage.PartImage, error)
	MarkImageArchived(ctx context.Context, id int64, s3Key, contentHash string) error
	MarkImageFailed(ctx context.Context, id int64) error
}

// ImageArchiver downloads part images, hashes them, and uploads them to
// object storage. Content-addressed keys mean the same image referenced
// by several parts is stored once.
type ImageArchiver struct {
	store      ImageStore
	httpClient *http.Client
	uploader   S3Uploader
	triggerCh  chan struct{}
	log        LogFunc
}

func NewImageArchiver(store ImageStore, uploader S3Uploader) *ImageArchiver {
	return &ImageArchiver{
		store: store,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		uploader:  uploader,
		triggerCh: make(chan struct{}, 1),
		log:       NoOpLogger,
	}
}

// SetLogger routes batch outcomes into the scrape log alongside stdout.
func (w *ImageArchiver) SetLogger(fn LogFunc) {
	if fn != nil {
		w.log = fn
	}
}

// Trigger requests an immediate batch outside the ticker schedule.
func (w *ImageArchiver) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run processes pending images on a fixed interval until ctx is
// cancelled.
func (w *ImageArchiver) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Image archiver stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *ImageArchiver) processBatch(ctx context.Context, batchSize int) {
	images, err := w.store.GetPendingImages(ctx, batchSize)
	if err != nil {
		log.Printf("Image archiver: query error: %v", err)
		return
	}
	if len(images) == 0 {
		return
	}

	log.Printf("Image archiver: processing %d images", len(images))

	var archived, failed int
	for i := range images {
		img := &images[i]

		s3Key, contentHash, err := w.archive(ctx, img.OriginalURL)
		if err != nil {
			log.Printf("Image archiver: failed %s: %v", img.OriginalURL, err)
			w.log(models.LogLevelError, "images", fmt.Sprintf("Archive failed for %s: %v", img.OriginalURL, err))
			failed++
			if err := w.store.MarkImageFailed(ctx, img.ID); err != nil {
				log.Printf("Image archiver: mark failed error: %v", err)
			}
			continue
		}

		if err := w.store.MarkImageArchived(ctx, img.ID, s3Key, contentHash); err != nil {
			log.Printf("Image archiver: mark archived error: %v", err)
			failed++
			continue
		}
		archived++
		if w.uploader != nil {
			log.Printf("Image archiver: %s -> %s", img.OriginalURL, w.uploader.PublicURL(s3Key))
		}

		// Be gentle with the origin servers.
		time.Sleep(200 * time.Millisecond)
	}

	if archived > 0 || failed > 0 {
		log.Printf("Image archiver: archived %d, failed %d", archived, failed)
		w.log(models.LogLevelInfo, "images", fmt.Sprintf("Archived %d images, %d failed", archived, failed))
	}
}

// archive downloads one image and uploads it under a content-addressed
// key, returning the key and the content hash.
func (w *ImageArchiver) archive(ctx context.Context, originalURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", originalURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	ext := guessExtension(originalURL, resp.Header.Get("Content-Type"))
	s3Key := fmt.Sprintf("images/%s/%s%s", contentHash[:2], contentHash, ext)

	if w.uploader != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := w.uploader.Upload(ctx, s3Key, bytes.NewReader(data), contentType); err != nil {
			return "", "", fmt.Errorf("upload: %w", err)
		}
	}

	return s3Key, contentHash, nil
}

// guessExtension determines file extension from URL or content-type.
func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}
