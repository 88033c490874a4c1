package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"partscout/identity"
	"partscout/models"
)

var (
	multiSpaceRegex  = regexp.MustCompile(`\s+`)
	priceCharsRegex  = regexp.MustCompile(`[^0-9.,]`)
	compatRangeRegex = regexp.MustCompile(`^(\d{4})-?(\d{4})?\s+(.+)$`)
)

// Normalizer turns RawListings into CanonicalParts. All transformations
// are deterministic and never fail a whole listing; unparsable fields
// degrade to empty/nil.
type Normalizer struct {
	source  string
	baseURL string
}

func NewNormalizer(source, baseURL string) *Normalizer {
	return &Normalizer{source: source, baseURL: baseURL}
}

func (n *Normalizer) Normalize(raw *models.RawListing) *models.CanonicalPart {
	now := time.Now()

	name := CleanText(raw.Title)
	brand := CleanText(raw.Brand)
	partNumber := CleanText(raw.PartNumber)

	sourceID := raw.ID
	if sourceID == "" {
		sourceID = identity.SourceID(name, brand, partNumber)
	}

	images := make([]string, 0, len(raw.Images))
	for _, img := range raw.Images {
		if u := NormalizeImageURL(img, n.baseURL); u != "" {
			images = append(images, u)
		}
	}

	return &models.CanonicalPart{
		ID:            uuid.New(),
		Name:          name,
		Brand:         brand,
		PartNumber:    partNumber,
		Price:         ParsePrice(raw.PriceText),
		Category:      CleanText(raw.Category),
		Subcategory:   CleanText(raw.Subcategory),
		Images:        images,
		Compatibility: ParseCompatibility(raw.Compatibility),
		Source:        n.source,
		SourceID:      sourceID,
		Availability:  CleanText(raw.Availability),
		LastUpdated:   now,
		CreatedAt:     now,
	}
}

// CleanText trims, collapses internal whitespace, and strips non-ASCII
// bytes.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(b.String(), " "))
}

// ParsePrice extracts a decimal price from a display string like
// "$1,249.99". Returns nil when no parsable number remains; comma is
// treated as a thousands separator.
func ParsePrice(s string) *float64 {
	cleaned := priceCharsRegex.ReplaceAllString(s, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return nil
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &price
}

// ParseCompatibility accepts either the free-text form
// ("2010-2015 Honda Civic, 2012-2018 Toyota Camry") or a structured
// entry list with per-site field names. Entries that fail to parse are
// dropped individually.
func ParseCompatibility(raw models.RawCompatibility) []models.Compatibility {
	var compat []models.Compatibility

	if len(raw.Entries) > 0 {
		for _, entry := range raw.Entries {
			if c, ok := compatFromEntry(entry); ok {
				compat = append(compat, c)
			}
		}
		return compat
	}

	for _, chunk := range strings.Split(raw.Text, ",") {
		chunk = CleanText(chunk)
		if chunk == "" {
			continue
		}
		m := compatRangeRegex.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}

		yearStart, _ := strconv.Atoi(m[1])
		yearEnd := yearStart
		rangeText := m[1]
		if m[2] != "" {
			yearEnd, _ = strconv.Atoi(m[2])
			rangeText = m[1] + "-" + m[2]
		}

		fields := strings.Fields(m[3])
		if len(fields) == 0 {
			continue
		}
		c := models.Compatibility{
			MakeYearRange: rangeText,
			YearStart:     yearStart,
			YearEnd:       yearEnd,
			Make:          fields[0],
		}
		if len(fields) > 1 {
			c.Model = strings.Join(fields[1:], " ")
		}
		compat = append(compat, c)
	}

	return compat
}

// compatFromEntry maps a structured entry's site-specific field names
// (year_start, yearStart, ...) onto the canonical tuple.
func compatFromEntry(entry map[string]string) (models.Compatibility, bool) {
	var c models.Compatibility
	for key, val := range entry {
		switch normalizeFieldName(key) {
		case "yearstart":
			c.YearStart, _ = strconv.Atoi(val)
		case "yearend":
			c.YearEnd, _ = strconv.Atoi(val)
		case "makeyearrange":
			c.MakeYearRange = CleanText(val)
		case "make":
			c.Make = CleanText(val)
		case "model":
			c.Model = CleanText(val)
		case "submodel":
			c.Submodel = CleanText(val)
		case "engine":
			c.Engine = CleanText(val)
		}
	}
	if c.Make == "" {
		return c, false
	}
	if c.YearEnd == 0 {
		c.YearEnd = c.YearStart
	}
	if c.MakeYearRange == "" && c.YearStart > 0 {
		if c.YearEnd != c.YearStart {
			c.MakeYearRange = fmt.Sprintf("%d-%d", c.YearStart, c.YearEnd)
		} else {
			c.MakeYearRange = strconv.Itoa(c.YearStart)
		}
	}
	return c, true
}

func normalizeFieldName(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.ReplaceAll(key, "_", "")
}

// NormalizeImageURL resolves protocol-relative and root-relative image
// URLs against the site base; absolute URLs pass through unchanged.
func NormalizeImageURL(img, baseURL string) string {
	img = strings.TrimSpace(img)
	switch {
	case img == "":
		return ""
	case strings.HasPrefix(img, "//"):
		return "https:" + img
	case strings.HasPrefix(img, "/"):
		return strings.TrimSuffix(baseURL, "/") + img
	default:
		return img
	}
}
