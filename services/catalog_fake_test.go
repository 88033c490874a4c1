package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"partscout/models"
)

// fakeCatalogStore is an in-memory stand-in for the Postgres catalog,
// honoring the same lookup contracts the pipeline relies on.
type fakeCatalogStore struct {
	parts        []*models.CanonicalPart
	integrations []models.MarketplaceIntegration
	images       map[uuid.UUID][]string
	tracked      map[uuid.UUID]*models.TrackedPart

	lastHistorySince time.Time
	nextID           int64
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{
		images:  make(map[uuid.UUID][]string),
		tracked: make(map[uuid.UUID]*models.TrackedPart),
	}
}

func copyPart(p *models.CanonicalPart) *models.CanonicalPart {
	cp := *p
	return &cp
}

func (f *fakeCatalogStore) GetPartByPartNumber(ctx context.Context, source, partNumber string) (*models.CanonicalPart, error) {
	for _, p := range f.parts {
		if p.Source == source && strings.EqualFold(p.PartNumber, partNumber) {
			return copyPart(p), nil
		}
	}
	return nil, nil
}

func (f *fakeCatalogStore) GetPartBySourceID(ctx context.Context, source, sourceID string) (*models.CanonicalPart, error) {
	for _, p := range f.parts {
		if p.Source == source && p.SourceID == sourceID {
			return copyPart(p), nil
		}
	}
	return nil, nil
}

func (f *fakeCatalogStore) GetFuzzyCandidates(ctx context.Context, namePrefix, brand string, limit int) ([]*models.CanonicalPart, error) {
	var out []*models.CanonicalPart
	for _, p := range f.parts {
		if !strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(namePrefix)) {
			continue
		}
		if !strings.EqualFold(p.Brand, brand) {
			continue
		}
		out = append(out, copyPart(p))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCatalogStore) GetPartByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPart, error) {
	for _, p := range f.parts {
		if p.ID == id {
			return copyPart(p), nil
		}
	}
	return nil, nil
}

func (f *fakeCatalogStore) InsertPart(ctx context.Context, p *models.CanonicalPart) error {
	f.parts = append(f.parts, copyPart(p))
	return nil
}

func (f *fakeCatalogStore) UpdatePart(ctx context.Context, p *models.CanonicalPart) error {
	for i, existing := range f.parts {
		if existing.ID == p.ID {
			f.parts[i] = copyPart(p)
			return nil
		}
	}
	return nil
}

func (f *fakeCatalogStore) EnqueuePartImage(ctx context.Context, partID uuid.UUID, originalURL string) error {
	f.images[partID] = append(f.images[partID], originalURL)
	return nil
}

func (f *fakeCatalogStore) GetLatestIntegration(ctx context.Context, partID uuid.UUID, platform string) (*models.MarketplaceIntegration, error) {
	var latest *models.MarketplaceIntegration
	for i := range f.integrations {
		m := &f.integrations[i]
		if m.PartID != partID || m.Platform != platform {
			continue
		}
		if latest == nil || m.ID > latest.ID {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeCatalogStore) InsertIntegration(ctx context.Context, m *models.MarketplaceIntegration) error {
	f.nextID++
	m.ID = f.nextID
	f.integrations = append(f.integrations, *m)
	return nil
}

func (f *fakeCatalogStore) TouchIntegration(ctx context.Context, m *models.MarketplaceIntegration) error {
	for i := range f.integrations {
		if f.integrations[i].ID == m.ID {
			f.integrations[i] = *m
			return nil
		}
	}
	return nil
}

func (f *fakeCatalogStore) GetPriceHistory(ctx context.Context, partID uuid.UUID, platform string, since time.Time) ([]models.MarketplaceIntegration, error) {
	f.lastHistorySince = since

	var out []models.MarketplaceIntegration
	for _, m := range f.integrations {
		if m.PartID != partID || m.LastCheckedAt.Before(since) {
			continue
		}
		if platform != "" && m.Platform != platform {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastCheckedAt.After(out[j].LastCheckedAt)
	})
	return out, nil
}

func (f *fakeCatalogStore) GetCurrentPrices(ctx context.Context, partID uuid.UUID) ([]models.MarketplaceIntegration, error) {
	latest := make(map[string]*models.MarketplaceIntegration)
	for i := range f.integrations {
		m := &f.integrations[i]
		if m.PartID != partID {
			continue
		}
		if cur, ok := latest[m.Platform]; !ok || m.ID > cur.ID {
			latest[m.Platform] = m
		}
	}
	var out []models.MarketplaceIntegration
	for _, m := range latest {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeCatalogStore) UpsertTrackedPart(ctx context.Context, t *models.TrackedPart) error {
	f.tracked[t.PartID] = t
	return nil
}
