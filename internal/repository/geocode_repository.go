package repository

import (
	"database/sql"
	"fmt"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// GeocodeRepository handles the persistent reverse-geocode cache table.
type GeocodeRepository struct {
	db *database.DB
}

// NewGeocodeRepository creates a new geocode repository
func NewGeocodeRepository(db *database.DB) *GeocodeRepository {
	return &GeocodeRepository{db: db}
}

// Get retrieves a cache entry by bucket key and touches its last-access
// time. Returns nil when absent.
func (r *GeocodeRepository) Get(bucketKey string, now int64) (*models.GeocodeCacheEntry, error) {
	query := `
		SELECT bucket_key, resolved_address, city, country, poi_type, cached_at, ttl_seconds, last_access
		FROM geocode_cache WHERE bucket_key = ?
	`

	e := &models.GeocodeCacheEntry{}
	err := r.db.QueryRow(query, bucketKey).Scan(
		&e.BucketKey, &e.ResolvedAddress, &e.City, &e.Country, &e.POIType,
		&e.CachedAt, &e.TTLSeconds, &e.LastAccess)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geocode entry: %w", err)
	}

	// LRU bookkeeping; last-write-wins is fine here.
	if _, err := r.db.Exec("UPDATE geocode_cache SET last_access = ? WHERE bucket_key = ?", now, bucketKey); err != nil {
		return nil, fmt.Errorf("failed to touch geocode entry: %w", err)
	}
	e.LastAccess = now

	return e, nil
}

// Put stores (or refreshes) a cache entry. Idempotent last-write-wins.
func (r *GeocodeRepository) Put(e *models.GeocodeCacheEntry) error {
	query := `
		INSERT INTO geocode_cache (bucket_key, resolved_address, city, country, poi_type, cached_at, ttl_seconds, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket_key) DO UPDATE SET
			resolved_address=excluded.resolved_address, city=excluded.city,
			country=excluded.country, poi_type=excluded.poi_type,
			cached_at=excluded.cached_at, ttl_seconds=excluded.ttl_seconds,
			last_access=excluded.last_access
	`

	_, err := r.db.Exec(query, e.BucketKey, e.ResolvedAddress, e.City, e.Country,
		e.POIType, e.CachedAt, e.TTLSeconds, e.LastAccess)
	if err != nil {
		return fmt.Errorf("failed to put geocode entry: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (r *GeocodeRepository) Delete(bucketKey string) error {
	if _, err := r.db.Exec("DELETE FROM geocode_cache WHERE bucket_key = ?", bucketKey); err != nil {
		return fmt.Errorf("failed to delete geocode entry: %w", err)
	}
	return nil
}

// EvictOverCapacity drops the least recently used entries beyond the
// capacity bound and returns the number evicted.
func (r *GeocodeRepository) EvictOverCapacity(capacity int) (int64, error) {
	query := `
		DELETE FROM geocode_cache WHERE bucket_key IN (
			SELECT bucket_key FROM geocode_cache
			ORDER BY last_access DESC
			LIMIT -1 OFFSET ?
		)
	`

	result, err := r.db.Exec(query, capacity)
	if err != nil {
		return 0, fmt.Errorf("failed to evict geocode entries: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of cached entries.
func (r *GeocodeRepository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM geocode_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count geocode entries: %w", err)
	}
	return n, nil
}
