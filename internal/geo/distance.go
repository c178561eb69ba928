package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by the haversine formula.
const EarthRadiusMeters = 6371e3

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// BoundingBox is an axis-aligned lat/lon box.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround returns a box that contains every point within radius meters of
// (lat, lon). Longitude bounds widen to the full range when the box would
// cross the antimeridian or touch a pole. The box is padded by 0.1% so
// points on its edge are never lost to rounding.
func BoxAround(lat, lon, radius float64) BoundingBox {
	dLat := radius * 1.001 / EarthRadiusMeters * 180 / math.Pi

	box := BoundingBox{
		MinLat: math.Max(lat-dLat, -90),
		MaxLat: math.Min(lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}

	cosLat := math.Cos(lat * math.Pi / 180)
	if box.MaxLat < 90 && box.MinLat > -90 && cosLat > 1e-9 {
		dLon := dLat / cosLat
		if lon-dLon >= -180 && lon+dLon <= 180 {
			box.MinLon = lon - dLon
			box.MaxLon = lon + dLon
		}
	}
	return box
}

// Offset moves a point the given meters north and east. Used for building
// fixtures and test points.
func Offset(lat, lon, northMeters, eastMeters float64) (float64, float64) {
	dLat := northMeters / EarthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (EarthRadiusMeters * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat + dLat, lon + dLon
}
