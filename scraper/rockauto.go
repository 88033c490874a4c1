package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"partscout/config"
	"partscout/models"
)

// RockAutoAdapter drives a real browser page. The catalog sits behind
// aggressive bot detection, so plain HTTP fetches get blocked; rendered
// page content is pulled out and parsed with goquery so the extraction
// logic stays testable against fixtures.
type RockAutoAdapter struct {
	cfg     *config.SiteConfig
	session *BrowserSession
}

func NewRockAutoAdapter(cfg *config.SiteConfig, session *BrowserSession) *RockAutoAdapter {
	return &RockAutoAdapter{cfg: cfg, session: session}
}

func (a *RockAutoAdapter) ID() string            { return a.cfg.ID }
func (a *RockAutoAdapter) RequiresBrowser() bool { return true }

func (a *RockAutoAdapter) Scrape(ctx context.Context) ([]models.RawListing, error) {
	var allListings []models.RawListing

	for _, facet := range a.cfg.Facets {
		for year := facet.YearStart; year <= facet.YearEnd; year++ {
			select {
			case <-ctx.Done():
				return allListings, ctx.Err()
			default:
			}

			catalogURL := fmt.Sprintf("%s/en/catalog/%s,%d",
				a.cfg.BaseURL, strings.ToLower(facet.Make), year)

			listings, err := a.scrapeCatalogPage(ctx, catalogURL)
			if err != nil {
				log.Printf("[%s] Warning: %s %d failed: %v", a.cfg.ID, facet.Make, year, err)
				continue
			}
			allListings = append(allListings, listings...)
		}
	}

	return allListings, nil
}

func (a *RockAutoAdapter) SearchProducts(ctx context.Context, query string, opts ScrapeOptions) ([]models.RawListing, error) {
	searchURL := fmt.Sprintf("%s/en/partsearch/?partnum=%s", a.cfg.BaseURL, url.QueryEscape(query))

	content, err := a.renderPage(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	listings := a.parsePartRows(doc, searchURL)
	if opts.Limit > 0 && len(listings) > opts.Limit {
		listings = listings[:opts.Limit]
	}
	return listings, nil
}

func (a *RockAutoAdapter) ScrapeProduct(ctx context.Context, productURL string, opts ScrapeOptions) (*models.RawListing, error) {
	content, err := a.renderPage(ctx, productURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}

	listings := a.parsePartRows(doc, productURL)
	if len(listings) == 0 {
		return nil, &ExtractionError{Site: a.cfg.ID, URL: productURL, Missing: "part listing"}
	}
	return &listings[0], nil
}

func (a *RockAutoAdapter) scrapeCatalogPage(ctx context.Context, catalogURL string) ([]models.RawListing, error) {
	content, err := a.renderPage(ctx, catalogURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}

	return a.parsePartRows(doc, catalogURL), nil
}

// renderPage loads a URL in the shared browser session and returns the
// rendered HTML. A dead browser is reported as ErrBrowserGone so the
// orchestrator can recycle the session and retry.
func (a *RockAutoAdapter) renderPage(ctx context.Context, pageURL string) (string, error) {
	page, err := a.session.NewPage()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBrowserGone, err)
	}
	defer page.Close()

	_, err = page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	// Part tables render after the initial document load.
	page.WaitForTimeout(1500)

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("%w: read content: %v", ErrBrowserGone, err)
	}
	return content, nil
}

// parsePartRows extracts listings from the catalog part table. Each
// row carries the manufacturer, part number and price in fixed cells.
func (a *RockAutoAdapter) parsePartRows(doc *goquery.Document, pageURL string) []models.RawListing {
	var listings []models.RawListing

	doc.Find("tbody.listing-inner").Each(func(_ int, row *goquery.Selection) {
		listing := models.RawListing{
			Brand:      strings.TrimSpace(row.Find(".listing-final-manufacturer").Text()),
			PartNumber: strings.TrimSpace(row.Find(".listing-final-partnumber").Text()),
			Title:      strings.TrimSpace(row.Find(".span-link-underline-remover").First().Text()),
			PriceText:  strings.TrimSpace(row.Find(".listing-price").Text()),
			URL:        pageURL,
		}
		if listing.Title == "" {
			listing.Title = strings.TrimSpace(row.Find(".listing-text-row").First().Text())
		}
		if listing.Title == "" && listing.PartNumber == "" {
			return
		}

		if href, ok := row.Find("a.ra-btn-moreinfo").Attr("href"); ok {
			listing.URL = a.absoluteURL(href)
		}
		if src, ok := row.Find("img.listing-inline-image").Attr("src"); ok {
			listing.Images = append(listing.Images, a.absoluteURL(src))
		}
		if fitment := strings.TrimSpace(row.Find(".listing-footnote-text").Text()); fitment != "" {
			listing.Compatibility.Text = fitment
		}

		listing.Category = categoryFromCatalogURL(pageURL)

		listings = append(listings, listing)
	})

	return listings
}

func (a *RockAutoAdapter) absoluteURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return a.cfg.BaseURL + href
}

// categoryFromCatalogURL pulls the part group out of deep catalog URLs:
// /en/catalog/{make},{year},{model},{engine},{carcode},{group}.
func categoryFromCatalogURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 3 || segments[1] != "catalog" {
		return ""
	}
	fields := strings.Split(segments[2], ",")
	if len(fields) < 6 {
		return ""
	}
	return strings.ReplaceAll(fields[5], "+", " ")
}
