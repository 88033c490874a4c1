package services

import (
	"context"
	"math"
	"strings"

	"partscout/config"
	"partscout/models"
)

const (
	fuzzyCandidateLimit = 5
	fuzzyPrefixLen      = 20
)

// DedupStore is the catalog lookup surface the dedup tiers run against.
// *storage.PostgresStore satisfies it.
type DedupStore interface {
	GetPartByPartNumber(ctx context.Context, source, partNumber string) (*models.CanonicalPart, error)
	GetPartBySourceID(ctx context.Context, source, sourceID string) (*models.CanonicalPart, error)
	GetFuzzyCandidates(ctx context.Context, namePrefix, brand string, limit int) ([]*models.CanonicalPart, error)
}

// DedupService decides whether a normalized listing is already in the
// catalog. Three tiers, evaluated in order, short-circuiting on the
// first hit: exact part number, exact source id, then fuzzy scoring
// against a small candidate set.
type DedupService struct {
	store DedupStore
	cfg   config.DedupConfig
}

func NewDedupService(store DedupStore, cfg config.DedupConfig) *DedupService {
	return &DedupService{store: store, cfg: cfg}
}

// DedupResult reports the outcome of a duplicate check.
type DedupResult struct {
	IsDuplicate bool
	Existing    *models.CanonicalPart
	Tier        string // part_number, source_id, fuzzy
	Score       float64
}

func (s *DedupService) Check(ctx context.Context, part *models.CanonicalPart) (*DedupResult, error) {
	// Tier 1: exact part number within the same source.
	if part.PartNumber != "" {
		existing, err := s.store.GetPartByPartNumber(ctx, part.Source, part.PartNumber)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &DedupResult{IsDuplicate: true, Existing: existing, Tier: "part_number", Score: 1}, nil
		}
	}

	// Tier 2: exact source id within the same source.
	existing, err := s.store.GetPartBySourceID(ctx, part.Source, part.SourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DedupResult{IsDuplicate: true, Existing: existing, Tier: "source_id", Score: 1}, nil
	}

	// Tier 3: fuzzy match against candidates sharing a name prefix and
	// the exact brand.
	if part.Name == "" {
		return &DedupResult{}, nil
	}
	prefix := part.Name
	if len(prefix) > fuzzyPrefixLen {
		prefix = prefix[:fuzzyPrefixLen]
	}

	candidates, err := s.store.GetFuzzyCandidates(ctx, prefix, part.Brand, fuzzyCandidateLimit)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		score := Similarity(part, candidate, s.cfg)
		if score > s.cfg.Threshold {
			return &DedupResult{IsDuplicate: true, Existing: candidate, Tier: "fuzzy", Score: score}, nil
		}
	}

	return &DedupResult{}, nil
}

// Similarity computes the weighted similarity score between two parts.
// Price and part-number components only count toward the denominator
// when both operands carry a value.
func Similarity(a, b *models.CanonicalPart, cfg config.DedupConfig) float64 {
	score := cfg.NameWeight * NameSimilarity(a.Name, b.Name)
	total := cfg.NameWeight

	if strings.EqualFold(a.Brand, b.Brand) && a.Brand != "" {
		score += cfg.BrandWeight
	}
	total += cfg.BrandWeight

	if a.PartNumber != "" && b.PartNumber != "" {
		if strings.EqualFold(a.PartNumber, b.PartNumber) {
			score += cfg.PartNumberWeight
		}
		total += cfg.PartNumberWeight
	}

	if a.Price != nil && b.Price != nil {
		if priceProximate(*a.Price, *b.Price) {
			score += cfg.PriceWeight
		}
		total += cfg.PriceWeight
	}

	if total == 0 {
		return 0
	}
	return score / total
}

// priceProximate reports whether two prices are within 10% of the
// larger one.
func priceProximate(p1, p2 float64) bool {
	max := math.Max(p1, p2)
	if max == 0 {
		return true
	}
	return math.Abs(p1-p2)/max < 0.10
}

// NameSimilarity is 1 - levenshtein(a,b)/max(len(a),len(b)), case
// insensitive.
func NameSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(maxLen)
}

// Levenshtein computes edit distance with the classic dynamic
// programming table; insert, delete, and substitute all cost 1.
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(
				prev[j]+1,      // delete
				curr[j-1]+1,    // insert
				prev[j-1]+cost, // substitute
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
