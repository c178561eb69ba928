// Package geo holds the pure geometry used by discovery: geohash bucketing,
// great-circle distance and time-of-day windows.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

const (
	// DefaultPrecision yields cells of roughly 153m x 153m.
	DefaultPrecision = 7
	MinPrecision     = 1
	MaxPrecision     = 12
)

var (
	// ErrInvalidCoordinate signals a latitude/longitude outside WGS84 bounds.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidPrecision signals a geohash precision outside 1..12.
	ErrInvalidPrecision = errors.New("invalid geohash precision")
)

// ValidateCoordinate checks lat in [-90, 90] and lon in [-180, 180].
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoordinate, lon)
	}
	return nil
}

// Encode returns the bucket key of the given precision for (lat, lon).
func Encode(lat, lon float64, precision int) (string, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return "", err
	}
	if precision < MinPrecision || precision > MaxPrecision {
		return "", fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(precision)), nil
}

// Neighbors returns the center bucket followed by its adjacent buckets.
// Away from the poles this is 9 distinct keys; near a pole the library
// wraps some neighbors onto the same cell and duplicates are dropped.
func Neighbors(hash string) ([]string, error) {
	if err := geohash.Validate(hash); err != nil {
		return nil, fmt.Errorf("geo: neighbors of %q: %w", hash, err)
	}

	cells := make([]string, 0, 9)
	seen := make(map[string]struct{}, 9)
	add := func(cell string) {
		if _, ok := seen[cell]; ok {
			return
		}
		seen[cell] = struct{}{}
		cells = append(cells, cell)
	}

	add(hash)
	for _, n := range geohash.Neighbors(hash) {
		add(n)
	}
	return cells, nil
}

// Cells encodes (lat, lon) and returns its 9-cell neighborhood.
func Cells(lat, lon float64, precision int) ([]string, error) {
	center, err := Encode(lat, lon, precision)
	if err != nil {
		return nil, err
	}
	return Neighbors(center)
}

// CellSize returns the height and equatorial width of a cell in meters.
func CellSize(precision int) (heightMeters, widthMeters float64) {
	bits := 5 * precision
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	perDegree := EarthRadiusMeters * math.Pi / 180
	heightMeters = 180 / math.Exp2(float64(latBits)) * perDegree
	widthMeters = 360 / math.Exp2(float64(lonBits)) * perDegree
	return heightMeters, widthMeters
}

// MaxRadius is the largest radius the 9-cell neighborhood covers anywhere
// near the equator at this precision: the smaller cell side.
func MaxRadius(precision int) float64 {
	h, w := CellSize(precision)
	return math.Min(h, w)
}

// NeighborhoodCovers reports whether every point within radius of latitude
// lat falls in the 9 cells around it. Cells narrow toward the poles, so the
// width is taken at the highest latitude the circle reaches.
func NeighborhoodCovers(lat float64, precision int, radius float64) bool {
	if precision < MinPrecision || precision > MaxPrecision {
		return false
	}
	h, w := CellSize(precision)
	edge := math.Abs(lat) + radius/(EarthRadiusMeters*math.Pi/180)
	if edge >= 90 {
		return false
	}
	return radius <= h && radius <= w*math.Cos(edge*math.Pi/180)
}
