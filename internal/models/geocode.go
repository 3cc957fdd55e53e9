package models

// PlaceInfo is the result of a reverse geocode lookup. A degraded result
// carries coordinates only (Address == nil); geocoding is an enrichment,
// never a correctness requirement.
type PlaceInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   *string `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	POIType   string  `json:"poiType,omitempty"`
}

// Degraded reports whether the lookup fell back to coordinates only.
func (p *PlaceInfo) Degraded() bool {
	return p.Address == nil
}

// GeocodeCacheEntry is a persisted reverse-geocode result keyed by a
// fixed-precision coordinate bucket. Evicted by TTL or LRU capacity.
type GeocodeCacheEntry struct {
	BucketKey       string `json:"bucketKey" db:"bucket_key"`
	ResolvedAddress string `json:"resolvedAddress" db:"resolved_address"`
	City            string `json:"city" db:"city"`
	Country         string `json:"country" db:"country"`
	POIType         string `json:"poiType" db:"poi_type"`
	CachedAt        int64  `json:"cachedAt" db:"cached_at"` // Unix timestamp
	TTLSeconds      int64  `json:"ttlSeconds" db:"ttl_seconds"`
	LastAccess      int64  `json:"lastAccess" db:"last_access"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *GeocodeCacheEntry) Expired(now int64) bool {
	return now > e.CachedAt+e.TTLSeconds
}
