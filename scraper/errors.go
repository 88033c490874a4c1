package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSite means no adapter is registered for the requested
	// site identifier.
	ErrUnknownSite = errors.New("unknown site")

	// ErrRateLimited means the site's token bucket is empty. The caller
	// should reschedule rather than block on the bucket refill.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBrowserGone means the shared browser session crashed or
	// disconnected. The orchestrator tears the session down; the next
	// browser job relaunches it lazily.
	ErrBrowserGone = errors.New("browser session lost")
)

// ExtractionError marks an expected page element as absent, usually a
// site layout change. The affected listing/page is skipped and logged;
// the batch continues.
type ExtractionError struct {
	Site    string
	URL     string
	Missing string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed on %s: missing %s (url=%s)", e.Site, e.Missing, e.URL)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsUnknownSite(err error) bool {
	return errors.Is(err, ErrUnknownSite)
}
