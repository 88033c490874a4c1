package scraper

import (
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// BrowserSession is the single shared browser for all browser-backed
// adapters. Launched lazily on the first adapter that needs it and
// reused across jobs; each job opens its own page, since concurrent use
// of one page handle is unsafe.
type BrowserSession struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserSession() *BrowserSession {
	return &BrowserSession{}
}

func (s *BrowserSession) ensure() error {
	if s.initialized {
		if s.browser.IsConnected() {
			return nil
		}
		// Browser crashed since last use; tear down and relaunch.
		s.teardown()
	}

	var err error
	s.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	s.browser, err = s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		s.pw.Stop()
		s.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}

	s.initialized = true
	return nil
}

// NewPage opens a fresh page in the shared session, launching the
// browser if needed.
func (s *BrowserSession) NewPage() (playwright.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(); err != nil {
		return nil, err
	}

	page, err := s.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: new page: %v", ErrBrowserGone, err)
	}
	return page, nil
}

// Recycle tears the session down after a crash so the next browser job
// relaunches it.
func (s *BrowserSession) Recycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
}

func (s *BrowserSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
}

func (s *BrowserSession) teardown() {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.pw != nil {
		s.pw.Stop()
		s.pw = nil
	}
	s.initialized = false
}
