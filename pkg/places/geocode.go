package places

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"googlemaps.github.io/maps"
)

// GeocodeConfig configures a GeocodeRepository.
type GeocodeConfig struct {
	APIKey string `json:"api_key"`
	// BaseURL overrides the Maps API host.
	BaseURL    string        `json:"base_url,omitempty"`
	Language   string        `json:"language,omitempty"`
	MaxResults int           `json:"max_results"`
	Timeout    time.Duration `json:"timeout"`

	Executor livedata.Executor `json:"-"`
}

// DefaultGeocodeConfig returns the configuration used by the daemon.
func DefaultGeocodeConfig() *GeocodeConfig {
	return &GeocodeConfig{
		MaxResults: 3,
		Timeout:    10 * time.Second,
	}
}

// GeocodeRepository reverse geocodes samples with the Google Maps API.
type GeocodeRepository struct {
	client *maps.Client
	config *GeocodeConfig
	logger *logx.Logger
}

// NewGeocodeRepository creates a Maps client. An API key is required.
func NewGeocodeRepository(config *GeocodeConfig, logger *logx.Logger) (*GeocodeRepository, error) {
	if config == nil {
		config = DefaultGeocodeConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	if config.APIKey == "" {
		return nil, errors.New("google maps api key not configured")
	}

	options := []maps.ClientOption{maps.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, maps.WithBaseURL(config.BaseURL))
	}
	client, err := maps.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	return &GeocodeRepository{client: client, config: config, logger: logger}, nil
}

// Lookup reverse geocodes s.
func (r *GeocodeRepository) Lookup(ctx context.Context, s location.Sample) ([]Place, error) {
	results, err := r.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: s.Latitude, Lng: s.Longitude},
		Language: r.config.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reverse geocode %s: %w", s, err)
	}

	found := make([]Place, 0, len(results))
	for _, res := range results {
		at := location.Sample{
			Timestamp: s.Timestamp,
			Latitude:  res.Geometry.Location.Lat,
			Longitude: res.Geometry.Location.Lng,
			Provider:  s.Provider,
		}
		found = append(found, Place{
			ID:       res.PlaceID,
			Name:     placeName(res),
			Address:  res.FormattedAddress,
			Location: at,
			Distance: location.DistanceMeters(s, at),
		})
		if r.config.MaxResults > 0 && len(found) == r.config.MaxResults {
			break
		}
	}
	return found, nil
}

// Find implements Repository.
func (r *GeocodeRepository) Find(s location.Sample) livedata.Observable[Place] {
	return lookupAsync(r.Lookup, s, r.config.Timeout, r.config.Executor, r.logger, "geocode_places")
}

// the first address component is the most specific one
func placeName(res maps.GeocodingResult) string {
	if len(res.AddressComponents) > 0 && res.AddressComponents[0].LongName != "" {
		return res.AddressComponents[0].LongName
	}
	return res.FormattedAddress
}
