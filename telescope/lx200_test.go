package telescope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseSexagesimal(t *testing.T) {
	for _, test := range []struct {
		input string
		want  float64
	}{
		{"+45*30'00", 45.5},
		{"-05*12", -5.2},
		{"12:34:56", 12 + 34.0/60 + 56.0/3600},
		{"12:34.5", 12 + 34.5/60},
		{"+89ß59:24", 89.99},
		{"  07:00:00 ", 7},
		{"-00*30:00", -0.5},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseSexagesimal(test.input)
			require.NoError(t, err)
			assert.InDelta(t, test.want, got, 1e-9)
		})
	}
}

func TestParseSexagesimalErrors(t *testing.T) {
	for _, input := range []string{"", "+", "??", "1:2:3:4", "1..2:3"} {
		_, err := ParseSexagesimal(input)
		assert.Error(t, err, "%q", input)
	}
}

func TestFormatSexagesimal(t *testing.T) {
	assert.Equal(t, "+45*30:00", FormatSexagesimal(45.5, true, "*"))
	assert.Equal(t, "-05*12:00", FormatSexagesimal(-5.2, true, "*"))
	assert.Equal(t, "10:15:00", FormatSexagesimal(10.25, false, ":"))
}

func TestParsePierSide(t *testing.T) {
	for input, want := range map[string]PierSide{"E": PierEast, "west": PierWest, "East": PierEast, "W": PierWest} {
		got, err := ParsePierSide(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePierSide("X")
	assert.Error(t, err)
	_, err = ParsePierSide("")
	assert.Error(t, err)
}

func TestClientQueries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim := NewSimulator(zaptest.NewLogger(t).Sugar())
	sim.Point(-12.25, 5.5, PierEast)
	conn, err := sim.Dial()(ctx)
	require.NoError(t, err)
	c := NewClient(conn, time.Second)
	defer c.Close()

	dec, err := c.Declination()
	require.NoError(t, err)
	assert.InDelta(t, -12.25, dec, 1e-9)

	ra, err := c.RightAscension()
	require.NoError(t, err)
	assert.InDelta(t, 5.5, ra, 1e-9)

	side, err := c.PierSide()
	require.NoError(t, err)
	assert.Equal(t, PierEast, side)

	assert.Equal(t, []string{"GD", "GR", "pS"}, sim.Commands())
}

func TestClientTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim := NewSimulator(nil)
	sim.Mute(1)
	conn, err := sim.Dial()(ctx)
	require.NoError(t, err)
	c := NewClient(conn, 50*time.Millisecond)
	defer c.Close()

	_, err = c.Declination()
	require.Error(t, err)
	assert.True(t, isIOError(err))
}
