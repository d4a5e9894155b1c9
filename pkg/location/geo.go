package location

import "math"

const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle distance between two fixes.
func DistanceMeters(a, b Sample) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	deltaLat := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// BoundingBox returns the lat/lon rectangle that contains every point
// within radius meters of s. Near the poles the longitude span is clamped
// to the whole globe.
func BoundingBox(s Sample, radius float64) (minLat, minLon, maxLat, maxLon float64) {
	dLat := radius / earthRadiusMeters * 180 / math.Pi
	minLat = math.Max(s.Latitude-dLat, -90)
	maxLat = math.Min(s.Latitude+dLat, 90)

	cosLat := math.Cos(s.Latitude * math.Pi / 180)
	if cosLat < 1e-6 || minLat == -90 || maxLat == 90 {
		return minLat, -180, maxLat, 180
	}
	dLon := dLat / cosLat
	return minLat, s.Longitude - dLon, maxLat, s.Longitude + dLon
}
