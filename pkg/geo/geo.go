// Package geo holds coordinate validation and great-circle helpers shared by
// the projector, the marker index and the location sources.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/1F47E/geo-overlay/pkg/models"
)

const (
	earthRadius = 6371.0 // km

	// MaxMercatorLat is the latitude at which Web Mercator becomes a square world.
	MaxMercatorLat = 85.05112878
)

var (
	ErrMissingLocation = errors.New("location is missing")
	ErrNotFinite       = errors.New("coordinate is not a finite number")
	ErrLatitudeRange   = errors.New("latitude out of range [-90, 90]")
	ErrLongitudeRange  = errors.New("longitude out of range [-180, 180]")
)

// Validate checks that loc is a usable geographic coordinate.
func Validate(loc *models.Location) error {
	if loc == nil {
		return ErrMissingLocation
	}
	if !finite(loc.Lat) || !finite(loc.Lon) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrNotFinite, loc.Lat, loc.Lon)
	}
	if loc.Lat < -90 || loc.Lat > 90 {
		return fmt.Errorf("%w: %v", ErrLatitudeRange, loc.Lat)
	}
	if loc.Lon < -180 || loc.Lon > 180 {
		return fmt.Errorf("%w: %v", ErrLongitudeRange, loc.Lon)
	}
	return nil
}

// Valid is the boolean form of Validate.
func Valid(loc *models.Location) bool {
	return Validate(loc) == nil
}

// ClampMercatorLat limits lat to the band Web Mercator can represent.
func ClampMercatorLat(lat float64) float64 {
	return math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
}

// WrapLon folds any longitude into [-180, 180).
func WrapLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// Distance calculates the Haversine distance between two points in kilometers
func Distance(a, b models.Location) float64 {
	lat1Rad := a.Lat * math.Pi / 180.0
	lon1Rad := a.Lon * math.Pi / 180.0
	lat2Rad := b.Lat * math.Pi / 180.0
	lon2Rad := b.Lon * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadius * c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
