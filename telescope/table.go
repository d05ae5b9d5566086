package telescope

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Table maps (hour angle, declination) to the dome azimuth in degrees. HA is
// in hours and Dec in degrees, both ascending; Az[i][j] belongs to HA[i],
// Dec[j].
type Table struct {
	HA  []float64   `yaml:"ha"`
	Dec []float64   `yaml:"dec"`
	Az  [][]float64 `yaml:"az"`
}

// Tables holds one Table per pier side.
type Tables struct {
	East *Table `yaml:"east"`
	West *Table `yaml:"west"`
}

// LoadTables reads precomputed tables from a YAML file.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading azimuth tables: %w", err)
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding azimuth tables: %w", err)
	}
	for side, tab := range map[string]*Table{"east": t.East, "west": t.West} {
		if tab == nil {
			return nil, fmt.Errorf("azimuth tables: %s table missing", side)
		}
		if err := tab.Validate(); err != nil {
			return nil, fmt.Errorf("azimuth tables: %s: %w", side, err)
		}
	}
	return &t, nil
}

// Validate checks the grid shape.
func (t *Table) Validate() error {
	if len(t.HA) < 2 || len(t.Dec) < 2 {
		return errors.New("need at least a 2x2 grid")
	}
	if !sort.Float64sAreSorted(t.HA) || !sort.Float64sAreSorted(t.Dec) {
		return errors.New("grid axes must be ascending")
	}
	if len(t.Az) != len(t.HA) {
		return fmt.Errorf("got %d rows, want %d", len(t.Az), len(t.HA))
	}
	for i, row := range t.Az {
		if len(row) != len(t.Dec) {
			return fmt.Errorf("row %d: got %d columns, want %d", i, len(row), len(t.Dec))
		}
	}
	return nil
}

// For returns the table for a pier side, or nil.
func (t *Tables) For(side PierSide) *Table {
	switch side {
	case PierEast:
		return t.East
	case PierWest:
		return t.West
	}
	return nil
}

// bracket returns i such that axis[i] <= x <= axis[i+1].
func bracket(axis []float64, x float64) (int, bool) {
	if x < axis[0] || x > axis[len(axis)-1] {
		return 0, false
	}
	i := sort.SearchFloat64s(axis, x)
	if i > 0 {
		i--
	}
	if i > len(axis)-2 {
		i = len(axis) - 2
	}
	return i, true
}

// Interpolate returns the bilinear interpolation of the dome azimuth at
// (ha, dec). Corner azimuths are unwrapped around the first corner so that
// cells straddling north interpolate the short way. ok is false outside the
// grid.
func (t *Table) Interpolate(ha, dec float64) (az float64, ok bool) {
	i, ok := bracket(t.HA, ha)
	if !ok {
		return 0, false
	}
	j, ok := bracket(t.Dec, dec)
	if !ok {
		return 0, false
	}
	ref := t.Az[i][j]
	unwrap := func(a float64) float64 {
		return ref + math.Remainder(a-ref, 360)
	}
	a00 := ref
	a01 := unwrap(t.Az[i][j+1])
	a10 := unwrap(t.Az[i+1][j])
	a11 := unwrap(t.Az[i+1][j+1])

	u := (ha - t.HA[i]) / (t.HA[i+1] - t.HA[i])
	v := (dec - t.Dec[j]) / (t.Dec[j+1] - t.Dec[j])
	az = (1-u)*(1-v)*a00 + (1-u)*v*a01 + u*(1-v)*a10 + u*v*a11
	return wrapDegrees(az), true
}

func wrapDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
