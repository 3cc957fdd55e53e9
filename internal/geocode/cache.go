package geocode

import (
	"context"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

// Cache is the reverse-geocode cache: an in-memory TTL layer over the
// persistent table, keyed by coordinate bucket. Resolve never fails;
// when the provider is unreachable it returns a degraded PlaceInfo with
// coordinates only. Safe for concurrent readers; writes are
// last-write-wins and idempotent.
type Cache struct {
	cfg      config.GeocodeConfig
	repo     *repository.GeocodeRepository
	provider Provider
	hot      *gocache.Cache
	now      func() time.Time
}

// NewCache creates the cache. provider may be nil, in which case every
// miss degrades.
func NewCache(cfg config.GeocodeConfig, repo *repository.GeocodeRepository, provider Provider) *Cache {
	return &Cache{
		cfg:      cfg,
		repo:     repo,
		provider: provider,
		hot:      gocache.New(cfg.TTL, 10*time.Minute),
		now:      time.Now,
	}
}

// Resolve returns place information for a coordinate.
func (c *Cache) Resolve(ctx context.Context, lat, lon float64) models.PlaceInfo {
	key := BucketKey(lat, lon, c.cfg.BucketPrecision)

	if v, ok := c.hot.Get(key); ok {
		return v.(models.PlaceInfo)
	}

	now := c.now().Unix()
	entry, err := c.repo.Get(key, now)
	if err != nil {
		log.Printf("[GeocodeCache] Store read failed for %s: %v", key, err)
	}
	if entry != nil && !entry.Expired(now) {
		info := entryToInfo(lat, lon, entry)
		c.hot.SetDefault(key, info)
		return info
	}
	if entry != nil {
		// Expired by TTL; drop it and fall through to the provider.
		if err := c.repo.Delete(key); err != nil {
			log.Printf("[GeocodeCache] Eviction failed for %s: %v", key, err)
		}
	}

	info := c.lookup(ctx, lat, lon)
	if info.Degraded() {
		// Degraded results are not cached: a later resolve should retry
		// the provider.
		return info
	}

	c.hot.SetDefault(key, info)
	c.persist(key, info, now)
	return info
}

func (c *Cache) lookup(ctx context.Context, lat, lon float64) models.PlaceInfo {
	degraded := models.PlaceInfo{Latitude: lat, Longitude: lon}
	if c.provider == nil {
		return degraded
	}

	info, err := c.provider.ReverseGeocode(ctx, lat, lon)
	if err != nil || info == nil {
		if err != nil {
			log.Printf("[GeocodeCache] Provider failed for %.5f,%.5f: %v", lat, lon, err)
		}
		return degraded
	}

	return *info
}

func (c *Cache) persist(key string, info models.PlaceInfo, now int64) {
	address := ""
	if info.Address != nil {
		address = *info.Address
	}

	entry := &models.GeocodeCacheEntry{
		BucketKey:       key,
		ResolvedAddress: address,
		City:            info.City,
		Country:         info.Country,
		POIType:         info.POIType,
		CachedAt:        now,
		TTLSeconds:      int64(c.cfg.TTL.Seconds()),
		LastAccess:      now,
	}
	if err := c.repo.Put(entry); err != nil {
		log.Printf("[GeocodeCache] Store write failed for %s: %v", key, err)
		return
	}

	evicted, err := c.repo.EvictOverCapacity(c.cfg.Capacity)
	if err != nil {
		log.Printf("[GeocodeCache] Capacity eviction failed: %v", err)
	} else if evicted > 0 {
		log.Printf("[GeocodeCache] Evicted %d entries over capacity", evicted)
	}
}

func entryToInfo(lat, lon float64, e *models.GeocodeCacheEntry) models.PlaceInfo {
	info := models.PlaceInfo{
		Latitude:  lat,
		Longitude: lon,
		City:      e.City,
		Country:   e.Country,
		POIType:   e.POIType,
	}
	if e.ResolvedAddress != "" {
		addr := e.ResolvedAddress
		info.Address = &addr
	}
	return info
}
