package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration. Detection and sync tunables are
// configuration, not constants: the UI maps tracking-accuracy presets
// onto these values.
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string
	DeviceID  string

	// Remote sync service
	SyncRemoteURL  string
	SyncInterval   time.Duration
	SyncServerMode bool // also serve the /changes endpoints from this node

	Ingest    IngestConfig
	StayPoint StayPointConfig
	Trip      TripConfig
	Geocode   GeocodeConfig
	Backoff   BackoffConfig

	// Accepted samples older than this are pruned from the local store.
	SampleRetention time.Duration
}

// IngestConfig controls the sample filter.
type IngestConfig struct {
	MaxAccuracyMeters float64       // reject samples less accurate than this
	DebounceInterval  time.Duration // minimum temporal delta between accepted samples
	DebounceDistance  float64       // minimum spatial delta in meters
	QueueSize         int           // bounded ingest queue capacity
}

// StayPointConfig controls stay-point clustering.
type StayPointConfig struct {
	RadiusMeters   float64       // cluster radius around the running centroid
	MinDuration    time.Duration // minimum dwell time to commit a visit
	MaxGap         time.Duration // sample gap that closes an open candidate
	TripEndedAfter time.Duration // silence that forces a synthetic visit end
}

// TripConfig controls the trip state machine.
type TripConfig struct {
	MinStartConfidence   float64       // segment confidence needed to open a trip
	MinStartDistance     float64       // segment distance in meters needed to open a trip
	EndVisitDuration     time.Duration // visit length that closes a trip
	WaypointSegmentLimit time.Duration // segments shorter than this mark a visit as a waypoint
}

// GeocodeConfig controls the reverse geocode cache.
type GeocodeConfig struct {
	ProviderURL     string
	BucketPrecision int // decimal places for the coordinate bucket key
	TTL             time.Duration
	Capacity        int // LRU bound on persisted entries
	RequestTimeout  time.Duration
}

// BackoffConfig controls transient-failure retries during sync.
type BackoffConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:      envString("PORT", ":8080"),
		DBPath:    envString("DB_PATH", "./data/travelog.db"),
		JWTSecret: envString("JWT_SECRET", "change-me-in-production"),
		DeviceID:  envString("DEVICE_ID", "local"),

		SyncRemoteURL:  envString("SYNC_REMOTE_URL", ""),
		SyncInterval:   envDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncServerMode: envBool("SYNC_SERVER_MODE", false),

		Ingest: IngestConfig{
			MaxAccuracyMeters: envFloat("INGEST_MAX_ACCURACY_M", 100),
			DebounceInterval:  envDuration("INGEST_DEBOUNCE_INTERVAL", 5*time.Second),
			DebounceDistance:  envFloat("INGEST_DEBOUNCE_DISTANCE_M", 5),
			QueueSize:         envInt("INGEST_QUEUE_SIZE", 1024),
		},
		StayPoint: StayPointConfig{
			RadiusMeters:   envFloat("STAY_RADIUS_M", 50),
			MinDuration:    envDuration("STAY_MIN_DURATION", 5*time.Minute),
			MaxGap:         envDuration("STAY_MAX_GAP", 30*time.Minute),
			TripEndedAfter: envDuration("STAY_TRIP_ENDED_AFTER", 6*time.Hour),
		},
		Trip: TripConfig{
			MinStartConfidence:   envFloat("TRIP_MIN_START_CONFIDENCE", 0.5),
			MinStartDistance:     envFloat("TRIP_MIN_START_DISTANCE_M", 500),
			EndVisitDuration:     envDuration("TRIP_END_VISIT_DURATION", 2*time.Hour),
			WaypointSegmentLimit: envDuration("TRIP_WAYPOINT_SEGMENT_LIMIT", 10*time.Minute),
		},
		Geocode: GeocodeConfig{
			ProviderURL:     envString("GEOCODE_PROVIDER_URL", ""),
			BucketPrecision: envInt("GEOCODE_BUCKET_PRECISION", 5),
			TTL:             envDuration("GEOCODE_TTL", 30*24*time.Hour),
			Capacity:        envInt("GEOCODE_CAPACITY", 10000),
			RequestTimeout:  envDuration("GEOCODE_REQUEST_TIMEOUT", 5*time.Second),
		},
		Backoff: BackoffConfig{
			Base:        envDuration("SYNC_BACKOFF_BASE", time.Second),
			Cap:         envDuration("SYNC_BACKOFF_CAP", 60*time.Second),
			MaxAttempts: envInt("SYNC_BACKOFF_MAX_ATTEMPTS", 5),
		},

		SampleRetention: envDuration("SAMPLE_RETENTION", 90*24*time.Hour),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
