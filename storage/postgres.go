package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"partscout/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Parts
// =============================================================================

func (s *PostgresStore) InsertPart(ctx context.Context, p *models.CanonicalPart) error {
	images, _ := json.Marshal(p.Images)
	compat, _ := json.Marshal(p.Compatibility)

	query := `
		INSERT INTO parts (
			id, name, brand, part_number, price, category, subcategory,
			images, compatibility, source, source_id, availability,
			last_updated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Brand, p.PartNumber, p.Price, p.Category, p.Subcategory,
		images, compat, p.Source, p.SourceID, p.Availability,
		p.LastUpdated, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdatePart(ctx context.Context, p *models.CanonicalPart) error {
	images, _ := json.Marshal(p.Images)
	compat, _ := json.Marshal(p.Compatibility)

	query := `
		UPDATE parts SET
			name = $2,
			brand = COALESCE(NULLIF($3, ''), brand),
			part_number = COALESCE(NULLIF($4, ''), part_number),
			price = COALESCE($5, price),
			category = COALESCE(NULLIF($6, ''), category),
			subcategory = COALESCE(NULLIF($7, ''), subcategory),
			images = $8,
			compatibility = $9,
			availability = $10,
			last_updated = $11
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Brand, p.PartNumber, p.Price, p.Category, p.Subcategory,
		images, compat, p.Availability, p.LastUpdated,
	)
	return err
}

const partColumns = `id, name, brand, part_number, price, category, subcategory,
	images, compatibility, source, source_id, availability, last_updated, created_at`

func (s *PostgresStore) scanPart(row pgx.Row) (*models.CanonicalPart, error) {
	var p models.CanonicalPart
	var images, compat []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Brand, &p.PartNumber, &p.Price, &p.Category, &p.Subcategory,
		&images, &compat, &p.Source, &p.SourceID, &p.Availability, &p.LastUpdated, &p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(images, &p.Images)
	json.Unmarshal(compat, &p.Compatibility)
	return &p, nil
}

func (s *PostgresStore) GetPartByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPart, error) {
	query := `SELECT ` + partColumns + ` FROM parts WHERE id = $1`
	return s.scanPart(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetPartBySourceID(ctx context.Context, source, sourceID string) (*models.CanonicalPart, error) {
	query := `SELECT ` + partColumns + ` FROM parts WHERE source = $1 AND source_id = $2`
	return s.scanPart(s.pool.QueryRow(ctx, query, source, sourceID))
}

func (s *PostgresStore) GetPartByPartNumber(ctx context.Context, source, partNumber string) (*models.CanonicalPart, error) {
	if partNumber == "" {
		return nil, nil
	}
	query := `SELECT ` + partColumns + ` FROM parts WHERE source = $1 AND part_number = $2`
	return s.scanPart(s.pool.QueryRow(ctx, query, source, partNumber))
}

// GetFuzzyCandidates returns up to limit parts whose name contains the
// given prefix (case-insensitive) and whose brand matches exactly.
func (s *PostgresStore) GetFuzzyCandidates(ctx context.Context, namePrefix, brand string, limit int) ([]*models.CanonicalPart, error) {
	query := `
		SELECT ` + partColumns + `
		FROM parts
		WHERE name ILIKE '%' || $1 || '%' AND LOWER(brand) = LOWER($2)
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, namePrefix, brand, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*models.CanonicalPart
	for rows.Next() {
		p, err := s.scanPart(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, p)
	}
	return candidates, rows.Err()
}

// =============================================================================
// Marketplace integrations (price snapshots)
// =============================================================================

func (s *PostgresStore) GetLatestIntegration(ctx context.Context, partID uuid.UUID, platform string) (*models.MarketplaceIntegration, error) {
	query := `
		SELECT id, part_id, platform, current_price, original_price,
			discount_percentage, availability, external_url, last_checked_at
		FROM marketplace_integrations
		WHERE part_id = $1 AND platform = $2
		ORDER BY last_checked_at DESC
		LIMIT 1`

	var m models.MarketplaceIntegration
	err := s.pool.QueryRow(ctx, query, partID, platform).Scan(
		&m.ID, &m.PartID, &m.Platform, &m.CurrentPrice, &m.OriginalPrice,
		&m.DiscountPercentage, &m.Availability, &m.ExternalURL, &m.LastCheckedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) InsertIntegration(ctx context.Context, m *models.MarketplaceIntegration) error {
	query := `
		INSERT INTO marketplace_integrations (
			part_id, platform, current_price, original_price,
			discount_percentage, availability, external_url, last_checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		m.PartID, m.Platform, m.CurrentPrice, m.OriginalPrice,
		m.DiscountPercentage, m.Availability, m.ExternalURL, m.LastCheckedAt,
	).Scan(&m.ID)
}

func (s *PostgresStore) TouchIntegration(ctx context.Context, m *models.MarketplaceIntegration) error {
	query := `
		UPDATE marketplace_integrations SET
			availability = $2,
			external_url = COALESCE(NULLIF($3, ''), external_url),
			last_checked_at = $4
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, m.ID, m.Availability, m.ExternalURL, m.LastCheckedAt)
	return err
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, partID uuid.UUID, platform string, since time.Time) ([]models.MarketplaceIntegration, error) {
	query := `
		SELECT id, part_id, platform, current_price, original_price,
			discount_percentage, availability, external_url, last_checked_at
		FROM marketplace_integrations
		WHERE part_id = $1 AND last_checked_at >= $2`
	args := []interface{}{partID, since}

	if platform != "" {
		query += ` AND platform = $3`
		args = append(args, platform)
	}
	query += ` ORDER BY last_checked_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.MarketplaceIntegration
	for rows.Next() {
		var m models.MarketplaceIntegration
		if err := rows.Scan(
			&m.ID, &m.PartID, &m.Platform, &m.CurrentPrice, &m.OriginalPrice,
			&m.DiscountPercentage, &m.Availability, &m.ExternalURL, &m.LastCheckedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, m)
	}
	return snapshots, rows.Err()
}

// GetCurrentPrices returns the latest snapshot per platform, cheapest
// first.
func (s *PostgresStore) GetCurrentPrices(ctx context.Context, partID uuid.UUID) ([]models.MarketplaceIntegration, error) {
	query := `
		SELECT DISTINCT ON (platform)
			id, part_id, platform, current_price, original_price,
			discount_percentage, availability, external_url, last_checked_at
		FROM marketplace_integrations
		WHERE part_id = $1
		ORDER BY platform, last_checked_at DESC`

	rows, err := s.pool.Query(ctx, query, partID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.MarketplaceIntegration
	for rows.Next() {
		var m models.MarketplaceIntegration
		if err := rows.Scan(
			&m.ID, &m.PartID, &m.Platform, &m.CurrentPrice, &m.OriginalPrice,
			&m.DiscountPercentage, &m.Availability, &m.ExternalURL, &m.LastCheckedAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, m)
	}
	return snapshots, rows.Err()
}

// =============================================================================
// Tracked parts
// =============================================================================

func (s *PostgresStore) UpsertTrackedPart(ctx context.Context, t *models.TrackedPart) error {
	platforms, _ := json.Marshal(t.Platforms)

	query := `
		INSERT INTO tracked_parts (part_id, platforms, target_price, notify_email, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (part_id) DO UPDATE SET
			platforms = EXCLUDED.platforms,
			target_price = COALESCE(EXCLUDED.target_price, tracked_parts.target_price),
			notify_email = COALESCE(NULLIF(EXCLUDED.notify_email, ''), tracked_parts.notify_email)`

	_, err := s.pool.Exec(ctx, query, t.PartID, platforms, t.TargetPrice, t.NotifyEmail, t.CreatedAt)
	return err
}

// StaleTrackedTarget is one (part, platform, url) due for a recheck.
type StaleTrackedTarget struct {
	PartID      uuid.UUID
	Platform    string
	ExternalURL string
}

// GetStaleTrackedTargets selects tracked parts whose latest snapshot on
// a platform is older than cutoff, bounded to limit rows per call.
func (s *PostgresStore) GetStaleTrackedTargets(ctx context.Context, cutoff time.Time, limit int) ([]StaleTrackedTarget, error) {
	query := `
		SELECT DISTINCT ON (m.part_id, m.platform)
			m.part_id, m.platform, m.external_url
		FROM marketplace_integrations m
		JOIN tracked_parts t ON t.part_id = m.part_id
		WHERE m.last_checked_at < $1 AND m.external_url != ''
		ORDER BY m.part_id, m.platform, m.last_checked_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []StaleTrackedTarget
	for rows.Next() {
		var t StaleTrackedTarget
		if err := rows.Scan(&t.PartID, &t.Platform, &t.ExternalURL); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// =============================================================================
// Part images (archiver queue)
// =============================================================================

type PartImage struct {
	ID          int64
	PartID      uuid.UUID
	OriginalURL string
	S3Key       *string
	ContentHash string
	Status      string // pending, archived, failed
	Attempts    int
}

func (s *PostgresStore) EnqueuePartImage(ctx context.Context, partID uuid.UUID, originalURL string) error {
	query := `
		INSERT INTO part_images (part_id, original_url, status, attempts, created_at)
		VALUES ($1, $2, 'pending', 0, NOW())
		ON CONFLICT (part_id, original_url) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, partID, originalURL)
	return err
}

func (s *PostgresStore) GetPendingImages(ctx context.Context, limit int) ([]PartImage, error) {
	query := `
		SELECT id, part_id, original_url, s3_key, COALESCE(content_hash, ''), status, attempts
		FROM part_images
		WHERE status = 'pending' AND attempts < 3
		ORDER BY created_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []PartImage
	for rows.Next() {
		var img PartImage
		if err := rows.Scan(&img.ID, &img.PartID, &img.OriginalURL, &img.S3Key, &img.ContentHash, &img.Status, &img.Attempts); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) MarkImageArchived(ctx context.Context, id int64, s3Key, contentHash string) error {
	query := `UPDATE part_images SET status = 'archived', s3_key = $2, content_hash = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, s3Key, contentHash)
	return err
}

func (s *PostgresStore) MarkImageFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE part_images SET
			attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= 3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}
