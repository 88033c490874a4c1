package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"partscout/config"
	"partscout/httputil"
	"partscout/models"
)

const ebayEntriesPerPage = 100

// EbayMotorsAdapter talks to the eBay Finding API instead of scraping
// HTML. Listings arrive with native item ids, so no hash-derived
// source id is needed downstream.
type EbayMotorsAdapter struct {
	cfg    *config.SiteConfig
	client *http.Client
	appID  string
}

func NewEbayMotorsAdapter(cfg *config.SiteConfig, clients *httputil.Clients) *EbayMotorsAdapter {
	return &EbayMotorsAdapter{
		cfg:    cfg,
		client: clients.API,
	}
}

// SetAppID injects the Finding API application id (from env at wiring
// time).
func (a *EbayMotorsAdapter) SetAppID(appID string) {
	a.appID = appID
}

func (a *EbayMotorsAdapter) ID() string            { return a.cfg.ID }
func (a *EbayMotorsAdapter) RequiresBrowser() bool { return false }

func (a *EbayMotorsAdapter) Scrape(ctx context.Context) ([]models.RawListing, error) {
	var allListings []models.RawListing

	for _, facet := range a.cfg.Facets {
		query := fmt.Sprintf("%s oem auto parts", facet.Make)
		listings, err := a.SearchProducts(ctx, query, ScrapeOptions{Limit: a.cfg.MaxSearchLimit})
		if err != nil {
			log.Printf("[%s] facet %q failed: %v", a.cfg.ID, query, err)
			continue
		}
		allListings = append(allListings, listings...)
	}

	return allListings, nil
}

func (a *EbayMotorsAdapter) SearchProducts(ctx context.Context, query string, opts ScrapeOptions) ([]models.RawListing, error) {
	if a.appID == "" {
		return nil, fmt.Errorf("ebay app id not configured")
	}

	limit := opts.Limit
	if limit <= 0 || limit > a.cfg.MaxSearchLimit {
		limit = a.cfg.MaxSearchLimit
	}

	var listings []models.RawListing
	for page := 1; len(listings) < limit; page++ {
		pageListings, totalPages, err := a.fetchPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		listings = append(listings, pageListings...)
		if page >= totalPages || len(pageListings) == 0 {
			break
		}
	}

	if len(listings) > limit {
		listings = listings[:limit]
	}
	return listings, nil
}

// ScrapeProduct looks a single item up by its id, extracted from the
// item URL.
func (a *EbayMotorsAdapter) ScrapeProduct(ctx context.Context, productURL string, opts ScrapeOptions) (*models.RawListing, error) {
	itemID := itemIDFromURL(productURL)
	if itemID == "" {
		return nil, &ExtractionError{Site: a.cfg.ID, URL: productURL, Missing: "item id"}
	}

	listings, err := a.SearchProducts(ctx, itemID, ScrapeOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, &ExtractionError{Site: a.cfg.ID, URL: productURL, Missing: "item"}
	}
	return &listings[0], nil
}

func (a *EbayMotorsAdapter) fetchPage(ctx context.Context, query string, page int) ([]models.RawListing, int, error) {
	params := url.Values{}
	params.Set("OPERATION-NAME", "findItemsByKeywords")
	params.Set("SERVICE-VERSION", "1.13.0")
	params.Set("SECURITY-APPNAME", a.appID)
	params.Set("RESPONSE-DATA-FORMAT", "JSON")
	params.Set("keywords", query)
	params.Set("paginationInput.entriesPerPage", strconv.Itoa(ebayEntriesPerPage))
	params.Set("paginationInput.pageNumber", strconv.Itoa(page))

	endpoint := a.cfg.Endpoints["search"]
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("finding api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, 0, fmt.Errorf("finding api: status %d", resp.StatusCode)
	}

	return a.parseFindingResponse(body)
}

// Finding API JSON wraps every field in a single-element array.
type findingResponse struct {
	FindItemsByKeywordsResponse []struct {
		SearchResult []struct {
			Item []findingItem `json:"item"`
		} `json:"searchResult"`
		PaginationOutput []struct {
			TotalPages []string `json:"totalPages"`
		} `json:"paginationOutput"`
	} `json:"findItemsByKeywordsResponse"`
}

type findingItem struct {
	ItemID        []string `json:"itemId"`
	Title         []string `json:"title"`
	GalleryURL    []string `json:"galleryURL"`
	ViewItemURL   []string `json:"viewItemURL"`
	SellingStatus []struct {
		CurrentPrice []struct {
			Value string `json:"__value__"`
		} `json:"currentPrice"`
		SellingState []string `json:"sellingState"`
	} `json:"sellingStatus"`
	PrimaryCategory []struct {
		CategoryName []string `json:"categoryName"`
	} `json:"primaryCategory"`
}

func (a *EbayMotorsAdapter) parseFindingResponse(data []byte) ([]models.RawListing, int, error) {
	var resp findingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.FindItemsByKeywordsResponse) == 0 {
		return nil, 0, fmt.Errorf("empty finding response")
	}

	root := resp.FindItemsByKeywordsResponse[0]

	totalPages := 1
	if len(root.PaginationOutput) > 0 && len(root.PaginationOutput[0].TotalPages) > 0 {
		if n, err := strconv.Atoi(root.PaginationOutput[0].TotalPages[0]); err == nil {
			totalPages = n
		}
	}

	var listings []models.RawListing
	if len(root.SearchResult) == 0 {
		return listings, totalPages, nil
	}

	for _, item := range root.SearchResult[0].Item {
		listing := models.RawListing{
			ID:    first(item.ItemID),
			Title: first(item.Title),
			URL:   first(item.ViewItemURL),
		}
		if listing.Title == "" {
			continue
		}
		if img := first(item.GalleryURL); img != "" {
			listing.Images = append(listing.Images, img)
		}
		if len(item.SellingStatus) > 0 {
			status := item.SellingStatus[0]
			if len(status.CurrentPrice) > 0 {
				listing.PriceText = status.CurrentPrice[0].Value
			}
			listing.Availability = first(status.SellingState)
		}
		if len(item.PrimaryCategory) > 0 {
			listing.Category = first(item.PrimaryCategory[0].CategoryName)
		}

		raw, _ := json.Marshal(item)
		listing.Data = raw

		listings = append(listings, listing)
	}

	return listings, totalPages, nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func itemIDFromURL(productURL string) string {
	u, err := url.Parse(productURL)
	if err != nil {
		return ""
	}
	// Item URLs look like /itm/{id} or /itm/{title}/{id}; the id is the
	// trailing numeric segment.
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "itm" {
		return ""
	}
	last := segments[len(segments)-1]
	if last == "" || strings.Trim(last, "0123456789") != "" {
		return ""
	}
	return last
}
