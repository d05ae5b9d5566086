package telescope

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquhor(t *testing.T) {
	// On the meridian south of the zenith.
	az, alt := equhor_rad(0, deg2rad(0), deg2rad(42))
	assert.InDelta(t, 180, rad2deg(az), 1e-9)
	assert.InDelta(t, 48, rad2deg(alt), 1e-9)

	// The celestial pole is due north at the latitude's altitude.
	az, alt = equhor_rad(deg2rad(30), deg2rad(90), deg2rad(42))
	assert.InDelta(t, 0, math.Remainder(rad2deg(az), 360), 1e-6)
	assert.InDelta(t, 42, rad2deg(alt), 1e-9)

	// West of the meridian the azimuth is past south.
	az, _ = equhor_rad(deg2rad(45), deg2rad(0), deg2rad(42))
	assert.Greater(t, rad2deg(az), 180.0)
}

func TestDomeAzimuthCentered(t *testing.T) {
	g := Geometry{Latitude: 42.36, Radius: 3}
	for _, ha := range []float64{-5, -1, 0.5, 3} {
		for _, dec := range []float64{-20, 0, 30, 60} {
			want, _ := equhor_rad(deg2rad(ha*15), deg2rad(dec), deg2rad(g.Latitude))
			for _, side := range []PierSide{PierEast, PierWest} {
				got, err := g.DomeAzimuth(ha, dec, side)
				require.NoError(t, err)
				assert.InDelta(t, 0, math.Remainder(got-rad2deg(want), 360), 1e-6, "ha=%v dec=%v", ha, dec)
			}
		}
	}
}

func TestDomeAzimuthOffset(t *testing.T) {
	g := Geometry{Latitude: 42.36, Radius: 3, DecOffset: 0.5}
	east, err := g.DomeAzimuth(0, 0, PierEast)
	require.NoError(t, err)
	west, err := g.DomeAzimuth(0, 0, PierWest)
	require.NoError(t, err)
	// Pointing due south, the tube on either side of the pier sees opposite
	// sides of south.
	assert.InDelta(t, 0, math.Remainder(east-180+(west-180), 360), 1e-6)
	assert.Greater(t, math.Abs(east-west), 1.0)

	_, err = g.DomeAzimuth(0, 0, PierUnknown)
	assert.Error(t, err)

	_, err = Geometry{Radius: 1, East: 2}.DomeAzimuth(0, 0, PierEast)
	assert.Error(t, err)
}

func TestGeometryTables(t *testing.T) {
	g := Geometry{Latitude: 42.36, Radius: 3, North: 0.2, DecOffset: 0.4}
	tables, err := g.Tables(DefaultGrid)
	require.NoError(t, err)
	assert.Len(t, tables.East.HA, 145)
	assert.Len(t, tables.East.Dec, 91)

	want, err := g.DomeAzimuth(1.05, 21, PierWest)
	require.NoError(t, err)
	got, ok := tables.West.Interpolate(1.05, 21)
	require.True(t, ok)
	assert.InDelta(t, 0, math.Remainder(got-want, 360), 0.5)

	_, err = Geometry{}.Tables(DefaultGrid)
	assert.Error(t, err)
}
