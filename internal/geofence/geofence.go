// Package geofence decides whether a position lies inside circular safe zones.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distances
const EarthRadiusMeters = 6371000.0

// Zone is a circular safe zone. A zone missing its center or radius is
// malformed and always contains every point.
type Zone struct {
	RuleID       string
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64
}

// Valid reports whether the zone has a usable center and radius
func (z Zone) Valid() bool {
	if z.Latitude == nil || z.Longitude == nil || z.RadiusMeters == nil {
		return false
	}
	if math.IsNaN(*z.Latitude) || math.IsNaN(*z.Longitude) || math.IsNaN(*z.RadiusMeters) {
		return false
	}
	return *z.RadiusMeters >= 0
}

// Contains reports whether the point is within the zone, boundary inclusive
func (z Zone) Contains(lat, lon float64) bool {
	if !z.Valid() {
		return true
	}
	return DistanceMeters(lat, lon, *z.Latitude, *z.Longitude) <= *z.RadiusMeters
}

// DistanceMeters returns the haversine distance between two coordinates in degrees
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// IsInsideAnyActiveZone reports whether the point lies in at least one zone.
// An empty zone list never constrains the position.
func IsInsideAnyActiveZone(lat, lon float64, zones []Zone) bool {
	if len(zones) == 0 {
		return true
	}
	for _, z := range zones {
		if z.Contains(lat, lon) {
			return true
		}
	}
	return false
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
