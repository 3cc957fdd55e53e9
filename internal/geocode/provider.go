package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/travelog/travelog-core/internal/models"
)

// Provider resolves a coordinate to place information. Implementations
// may fail or be unreachable; callers treat results as best-effort.
type Provider interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (*models.PlaceInfo, error)
}

// HTTPProvider calls an external reverse-geocoding HTTP endpoint that
// answers GET {base}?lat=..&lon=.. with a JSON body.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type providerResponse struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	POIType string `json:"poiType"`
}

// ReverseGeocode performs the lookup.
func (p *HTTPProvider) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.PlaceInfo, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode provider returned status %d", resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	info := &models.PlaceInfo{
		Latitude:  lat,
		Longitude: lon,
		City:      body.City,
		Country:   body.Country,
		POIType:   body.POIType,
	}
	if body.Address != "" {
		info.Address = &body.Address
	}

	return info, nil
}
