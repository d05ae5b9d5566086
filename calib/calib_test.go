package calib

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "n360": 3600, "hoffset": 12.5, "maxerr": 5, "nstart": 13, "nstop": 50,
  "t360": 40, "tpoll": 0.01, "tsafe": 0.2, "tshort": 0.02, "tstart": 0.25,
  "tstop": 0.25, "vmax": 100, "parkaz": 90, "domeaz": 10, "shuttime": 30,
  "ptable": [0, 0.05, 0.07, 0.09], "site": "w1xm"
}`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calib.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writeSample(t))
	require.NoError(t, err)
	assert.Equal(t, 3600, p.N360)
	assert.Equal(t, 50, p.NStop)
	assert.Equal(t, 12.5, p.HOffset)
	assert.Len(t, p.PTable, 4)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseMissingKey(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sample), &raw))
	delete(raw, "tsafe")
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = Parse(data)
	var mk *MissingKeyError
	require.True(t, errors.As(err, &mk))
	assert.Equal(t, "tsafe", mk.Key)
}

func TestParseInvalid(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sample), &raw))
	raw["n360"] = 0
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = Parse(data)
	assert.Error(t, err)
}

func TestSavePositionsRoundTrip(t *testing.T) {
	path := writeSample(t)
	require.NoError(t, SavePositions(path, 37.2, 181.5))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 37.2, p.DomeAz)
	assert.Equal(t, 181.5, p.ParkAz)
	assert.Equal(t, 3600, p.N360)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "w1xm", raw["site"])
}

func TestDistance(t *testing.T) {
	p := &Params{N360: 3600}
	for _, test := range []struct {
		cur, target, want int
	}{
		{0, 100, 100},
		{100, 0, -100},
		{3500, 100, 200},
		{100, 3500, -200},
		{0, 1800, 1800},
		{1800, 0, 1800},
		{0, 1801, -1799},
		{5, 5, 0},
	} {
		assert.Equal(t, test.want, p.Distance(test.cur, test.target), "%d -> %d", test.cur, test.target)
	}
}

func TestDistanceRange(t *testing.T) {
	p := &Params{N360: 360}
	for cur := 0; cur < p.N360; cur++ {
		for target := 0; target < p.N360; target++ {
			d := p.Distance(cur, target)
			require.True(t, d > -p.N180() && d <= p.N180(), "distance %d out of range", d)
			assert.Equal(t, target, p.Wrap(cur+d))
			// No shorter way round.
			other := d - p.N360
			if d <= 0 {
				other = d + p.N360
			}
			assert.LessOrEqual(t, abs(d), abs(other))
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestConversions(t *testing.T) {
	p := &Params{N360: 3600}
	assert.Equal(t, 372, p.DegToCounts(37.2))
	assert.Equal(t, 0, p.DegToCounts(360))
	assert.Equal(t, 3599, p.DegToCounts(-0.1))
	assert.InDelta(t, 37.2, p.CountsToDeg(372), 1e-9)
	assert.InDelta(t, 359.9, p.CountsToDeg(-1), 1e-9)
}

func TestPulseDuration(t *testing.T) {
	p := &Params{PTable: []float64{0, 0.05, 0.07, 0.09}, TShort: 0.06}
	assert.Equal(t, 60*time.Millisecond, p.PulseDuration(1))
	assert.Equal(t, 70*time.Millisecond, p.PulseDuration(-2))
	assert.Equal(t, 90*time.Millisecond, p.PulseDuration(40))
}
