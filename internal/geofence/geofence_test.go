package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestDistanceMeters(t *testing.T) {
	// 0.01 degrees of latitude is ~1111.95 m
	d := DistanceMeters(40.0, -8.0, 40.01, -8.0)
	assert.InDelta(t, 1111.95, d, 0.5)

	assert.Zero(t, DistanceMeters(40.0, -8.0, 40.0, -8.0))

	// symmetric
	assert.InDelta(t, DistanceMeters(38.7, -9.1, 41.1, -8.6), DistanceMeters(41.1, -8.6, 38.7, -9.1), 1e-6)
}

func TestIsInsideAnyActiveZone_Empty(t *testing.T) {
	points := [][2]float64{{0, 0}, {40.0, -8.0}, {-33.9, 151.2}, {89.9, 179.9}}
	for _, p := range points {
		assert.True(t, IsInsideAnyActiveZone(p[0], p[1], nil))
		assert.True(t, IsInsideAnyActiveZone(p[0], p[1], []Zone{}))
	}
}

func TestIsInsideAnyActiveZone_SingleZone(t *testing.T) {
	zone := Zone{RuleID: "home", Latitude: ptr(40.0), Longitude: ptr(-8.0), RadiusMeters: ptr(200)}

	tests := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"center", 40.0, -8.0},
		{"near", 40.001, -8.0},
		{"far north", 40.01, -8.0},
		{"far east", 40.0, -7.99},
		{"other hemisphere", -40.0, 8.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := DistanceMeters(tt.lat, tt.lon, 40.0, -8.0) <= 200
			assert.Equal(t, want, IsInsideAnyActiveZone(tt.lat, tt.lon, []Zone{zone}))
		})
	}
}

func TestIsInsideAnyActiveZone_BoundaryInclusive(t *testing.T) {
	d := DistanceMeters(40.001, -8.0, 40.0, -8.0)
	zone := Zone{Latitude: ptr(40.0), Longitude: ptr(-8.0), RadiusMeters: ptr(d)}
	assert.True(t, IsInsideAnyActiveZone(40.001, -8.0, []Zone{zone}))

	shrunk := Zone{Latitude: ptr(40.0), Longitude: ptr(-8.0), RadiusMeters: ptr(math.Nextafter(d, 0))}
	assert.False(t, IsInsideAnyActiveZone(40.001, -8.0, []Zone{shrunk}))
}

func TestIsInsideAnyActiveZone_Union(t *testing.T) {
	zones := []Zone{
		{RuleID: "home", Latitude: ptr(40.0), Longitude: ptr(-8.0), RadiusMeters: ptr(200)},
		{RuleID: "school", Latitude: ptr(40.01), Longitude: ptr(-8.0), RadiusMeters: ptr(100)},
	}
	assert.True(t, IsInsideAnyActiveZone(40.01, -8.0, zones))
	assert.True(t, IsInsideAnyActiveZone(40.0, -8.0, zones))
	assert.False(t, IsInsideAnyActiveZone(40.005, -8.0, zones))
}

func TestIsInsideAnyActiveZone_MalformedFailsOpen(t *testing.T) {
	far := [2]float64{41.0, -8.0}
	malformed := []Zone{
		{RuleID: "no-radius", Latitude: ptr(40.0), Longitude: ptr(-8.0)},
		{RuleID: "no-lat", Longitude: ptr(-8.0), RadiusMeters: ptr(10)},
		{RuleID: "no-lon", Latitude: ptr(40.0), RadiusMeters: ptr(10)},
		{RuleID: "nan", Latitude: ptr(math.NaN()), Longitude: ptr(-8.0), RadiusMeters: ptr(10)},
	}
	for _, z := range malformed {
		t.Run(z.RuleID, func(t *testing.T) {
			assert.False(t, z.Valid())
			assert.True(t, IsInsideAnyActiveZone(far[0], far[1], []Zone{z}))
		})
	}

	// a malformed zone keeps the whole list satisfied
	valid := Zone{Latitude: ptr(40.0), Longitude: ptr(-8.0), RadiusMeters: ptr(10)}
	assert.True(t, IsInsideAnyActiveZone(far[0], far[1], []Zone{valid, malformed[0]}))
}
