package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"partscout/config"
	"partscout/httputil"
	"partscout/models"
)

const partsTrainPageDelay = 2 * time.Second

// PartsTrainAdapter crawls a server-rendered catalog with plain HTTP
// and DOM selectors. No browser needed.
type PartsTrainAdapter struct {
	cfg    *config.SiteConfig
	client *http.Client
}

func NewPartsTrainAdapter(cfg *config.SiteConfig, clients *httputil.Clients) *PartsTrainAdapter {
	return &PartsTrainAdapter{cfg: cfg, client: clients.Scraping}
}

func (a *PartsTrainAdapter) ID() string            { return a.cfg.ID }
func (a *PartsTrainAdapter) RequiresBrowser() bool { return false }

func (a *PartsTrainAdapter) Scrape(ctx context.Context) ([]models.RawListing, error) {
	var allListings []models.RawListing

	for _, facet := range a.cfg.Facets {
		for year := facet.YearStart; year <= facet.YearEnd; year++ {
			listings, err := a.scrapeFacet(ctx, facet.Make, year)
			if err != nil {
				log.Printf("[%s] facet %s/%d failed: %v", a.cfg.ID, facet.Make, year, err)
				continue
			}
			allListings = append(allListings, listings...)
		}
	}

	return allListings, nil
}

func (a *PartsTrainAdapter) scrapeFacet(ctx context.Context, makeName string, year int) ([]models.RawListing, error) {
	var listings []models.RawListing

	for page := 1; ; page++ {
		pageURL := fmt.Sprintf("%s/catalog/%s/%d?page=%d",
			a.cfg.BaseURL, strings.ToLower(makeName), year, page)

		doc, err := a.fetch(ctx, pageURL)
		if err != nil {
			return listings, err
		}

		cards := a.parseListingCards(doc)
		if len(cards) == 0 {
			break
		}
		listings = append(listings, cards...)
		log.Printf("[%s] %s/%d page %d: %d listings", a.cfg.ID, makeName, year, page, len(cards))

		if !hasNextPage(doc) {
			break
		}
		time.Sleep(partsTrainPageDelay)
	}

	return listings, nil
}

func (a *PartsTrainAdapter) SearchProducts(ctx context.Context, query string, opts ScrapeOptions) ([]models.RawListing, error) {
	limit := opts.Limit
	if limit <= 0 || limit > a.cfg.MaxSearchLimit {
		limit = a.cfg.MaxSearchLimit
	}

	searchURL := fmt.Sprintf("%s/search?q=%s", a.cfg.BaseURL, url.QueryEscape(query))
	doc, err := a.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	listings := a.parseListingCards(doc)
	if len(listings) > limit {
		listings = listings[:limit]
	}
	return listings, nil
}

func (a *PartsTrainAdapter) ScrapeProduct(ctx context.Context, productURL string, opts ScrapeOptions) (*models.RawListing, error) {
	doc, err := a.fetch(ctx, productURL)
	if err != nil {
		return nil, err
	}
	return a.parseProductPage(doc, productURL)
}

func (a *PartsTrainAdapter) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// parseListingCards extracts product cards from a catalog or search
// results page. Cards missing a title are skipped.
func (a *PartsTrainAdapter) parseListingCards(doc *goquery.Document) []models.RawListing {
	var listings []models.RawListing

	doc.Find(".product-card").Each(func(i int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find(".product-title").Text())
		if title == "" {
			return
		}

		listing := models.RawListing{
			Title:        title,
			PriceText:    strings.TrimSpace(s.Find(".product-price").Text()),
			Brand:        strings.TrimSpace(s.Find(".product-brand").Text()),
			PartNumber:   strings.TrimSpace(s.Find(".product-sku").Text()),
			Availability: strings.TrimSpace(s.Find(".product-availability").Text()),
		}

		if href, ok := s.Find("a.product-link").Attr("href"); ok {
			listing.URL = absoluteURL(href, a.cfg.BaseURL)
		}
		if src, ok := s.Find("img.product-image").Attr("src"); ok && src != "" {
			listing.Images = append(listing.Images, src)
		}
		if compat := strings.TrimSpace(s.Find(".product-fitment").Text()); compat != "" {
			listing.Compatibility.Text = compat
		}

		listings = append(listings, listing)
	})

	return listings
}

// parseProductPage extracts a single product detail page.
func (a *PartsTrainAdapter) parseProductPage(doc *goquery.Document, pageURL string) (*models.RawListing, error) {
	title := strings.TrimSpace(doc.Find("#product-name").Text())
	if title == "" {
		return nil, &ExtractionError{Site: a.cfg.ID, URL: pageURL, Missing: "#product-name"}
	}

	listing := &models.RawListing{
		Title:        title,
		PriceText:    strings.TrimSpace(doc.Find("#product-price").Text()),
		Brand:        strings.TrimSpace(doc.Find("#product-brand").Text()),
		PartNumber:   strings.TrimSpace(doc.Find("#product-sku").Text()),
		Availability: strings.TrimSpace(doc.Find("#product-availability").Text()),
		URL:          pageURL,
	}

	crumbs := doc.Find(".breadcrumbs li")
	if crumbs.Length() >= 2 {
		listing.Category = strings.TrimSpace(crumbs.Eq(1).Text())
	}
	if crumbs.Length() >= 3 {
		listing.Subcategory = strings.TrimSpace(crumbs.Eq(2).Text())
	}

	doc.Find(".product-images img").Each(func(i int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			listing.Images = append(listing.Images, src)
		}
	})

	// Fitment is published either as a structured table or a blob of
	// text depending on the product template.
	rows := doc.Find("table.fitment tbody tr")
	if rows.Length() > 0 {
		rows.Each(func(i int, s *goquery.Selection) {
			cells := s.Find("td")
			if cells.Length() < 3 {
				return
			}
			entry := map[string]string{
				"year_start": strings.TrimSpace(cells.Eq(0).Text()),
				"make":       strings.TrimSpace(cells.Eq(1).Text()),
				"model":      strings.TrimSpace(cells.Eq(2).Text()),
			}
			if cells.Length() > 3 {
				entry["engine"] = strings.TrimSpace(cells.Eq(3).Text())
			}
			listing.Compatibility.Entries = append(listing.Compatibility.Entries, entry)
		})
	} else {
		listing.Compatibility.Text = strings.TrimSpace(doc.Find("#fitment-text").Text())
	}

	return listing, nil
}

func hasNextPage(doc *goquery.Document) bool {
	next := doc.Find("a.pagination-next")
	if next.Length() == 0 {
		return false
	}
	_, disabled := next.Attr("disabled")
	return !disabled
}

func absoluteURL(href, baseURL string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(baseURL, "/") + href
}
