package models

import "encoding/json"

// RawListing is the unnormalized output of a site adapter. It is
// discarded after the normalization pipeline has run.
type RawListing struct {
	ID            string           `json:"id"` // native product id, empty when the site has none
	Title         string           `json:"title"`
	PriceText     string           `json:"price_text"`
	Brand         string           `json:"brand"`
	PartNumber    string           `json:"part_number"`
	Category      string           `json:"category"`
	Subcategory   string           `json:"subcategory"`
	Images        []string         `json:"images"`
	Compatibility RawCompatibility `json:"compatibility"`
	Availability  string           `json:"availability"`
	URL           string           `json:"url"`
	Data          json.RawMessage  `json:"data"`
}

// RawCompatibility carries whichever form the site produced: a free-text
// blob ("2010-2015 Honda Civic, 2012-2018 Toyota Camry") or a structured
// list with per-site field names.
type RawCompatibility struct {
	Text    string              `json:"text"`
	Entries []map[string]string `json:"entries"`
}
