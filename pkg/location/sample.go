// Package location holds the location sample model, the policy that
// decides whether a new fix supersedes the current one, and the Source
// that turns a provider's callbacks into a start/stop service.
package location

import (
	"fmt"
	"time"
)

// Provider names used by the demo daemon and tests.
const (
	NetworkProvider = "network"
	GPSProvider     = "gps"
	FusedProvider   = "fused"
)

// Sample is a single location fix. It is passed by value and never
// modified after construction; absence is expressed with a nil *Sample.
type Sample struct {
	// Timestamp is the fix time in milliseconds since the Unix epoch.
	Timestamp int64   `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Accuracy is the radius of 68% confidence in meters. Lower is better.
	Accuracy float32 `json:"accuracy"`
	Provider string  `json:"provider"`
}

// NewSample builds a sample stamped at t.
func NewSample(t time.Time, lat, lon float64, accuracy float32, provider string) Sample {
	return Sample{
		Timestamp: t.UnixMilli(),
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  accuracy,
		Provider:  provider,
	}
}

// Time returns the fix time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// IsZero reports whether s carries no fix at all.
func (s Sample) IsZero() bool {
	return s == Sample{}
}

// String formats the coordinates as "[lat - lon]", or "[]" for the zero
// sample.
func (s Sample) String() string {
	if s.IsZero() {
		return "[]"
	}
	return fmt.Sprintf("[%v - %v]", s.Latitude, s.Longitude)
}
