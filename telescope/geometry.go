package telescope

import (
	"errors"
	"math"
)

// Geometry describes where a German equatorial mount sits inside the dome.
// Lengths are in any consistent unit; offsets are of the intersection of the
// polar and declination axes from the dome center.
type Geometry struct {
	// Latitude of the site in degrees.
	Latitude float64 `yaml:"latitude"`
	// Radius of the dome.
	Radius float64 `yaml:"radius"`
	// East, North and Up offsets of the mount pivot.
	East  float64 `yaml:"east"`
	North float64 `yaml:"north"`
	Up    float64 `yaml:"up"`
	// DecOffset is the distance from the polar axis to the optical axis,
	// measured along the declination axis.
	DecOffset float64 `yaml:"dec_offset"`
}

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(sq)

	cq := math.Cos(q)
	if cq < 1e-12 {
		// Zenith; azimuth is undefined.
		return 0, q
	}
	cp := (sy - (sphi * sq)) / (cphi * cq)
	p := math.Acos(math.Max(-1, math.Min(1, cp)))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

type vec [3]float64 // east, north, up

func (a vec) add(b vec) vec { return vec{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }

func (a vec) scale(k float64) vec { return vec{a[0] * k, a[1] * k, a[2] * k} }

func (a vec) dot(b vec) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// direction returns the unit vector pointing at hour angle ha (hours) and
// declination dec (degrees).
func (g Geometry) direction(ha, dec float64) vec {
	az, alt := equhor_rad(deg2rad(ha*15), deg2rad(dec), deg2rad(g.Latitude))
	return vec{
		math.Cos(alt) * math.Sin(az),
		math.Cos(alt) * math.Cos(az),
		math.Sin(alt),
	}
}

// DomeAzimuth returns the azimuth in degrees of the point where the optical
// axis leaves the dome. The tube sits on the declination axis towards hour
// angle ha-6h when the mount is pier side East and ha+6h when West.
func (g Geometry) DomeAzimuth(ha, dec float64, side PierSide) (float64, error) {
	var arm float64
	switch side {
	case PierEast:
		arm = -6
	case PierWest:
		arm = 6
	default:
		return 0, errors.New("unknown pier side")
	}
	origin := vec{g.East, g.North, g.Up}
	if g.DecOffset != 0 {
		origin = origin.add(g.direction(ha+arm, 0).scale(g.DecOffset))
	}
	d := g.direction(ha, dec)
	// Solve |origin + t*d| = R for the positive root.
	b := origin.dot(d)
	c := origin.dot(origin) - g.Radius*g.Radius
	disc := b*b - c
	if disc < 0 || c > 0 {
		return 0, errors.New("telescope is outside the dome")
	}
	t := -b + math.Sqrt(disc)
	p := origin.add(d.scale(t))
	return wrapDegrees(rad2deg(math.Atan2(p[0], p[1]))), nil
}

// Grid is the sampling of a generated table.
type Grid struct {
	HAMin, HAMax, HAStep    float64
	DecMin, DecMax, DecStep float64
}

// DefaultGrid covers the whole sky in 10 minute by 2 degree cells.
var DefaultGrid = Grid{
	HAMin: -12, HAMax: 12, HAStep: 1.0 / 6,
	DecMin: -90, DecMax: 90, DecStep: 2,
}

func axis(min, max, step float64) []float64 {
	var out []float64
	n := int(math.Round((max - min) / step))
	for i := 0; i <= n; i++ {
		out = append(out, min+float64(i)*step)
	}
	return out
}

// Tables precomputes the per-pier-side azimuth tables over grid.
func (g Geometry) Tables(grid Grid) (*Tables, error) {
	if g.Radius <= 0 {
		return nil, errors.New("dome radius must be positive")
	}
	build := func(side PierSide) (*Table, error) {
		t := &Table{
			HA:  axis(grid.HAMin, grid.HAMax, grid.HAStep),
			Dec: axis(grid.DecMin, grid.DecMax, grid.DecStep),
		}
		for _, ha := range t.HA {
			row := make([]float64, len(t.Dec))
			for j, dec := range t.Dec {
				az, err := g.DomeAzimuth(ha, dec, side)
				if err != nil {
					return nil, err
				}
				row[j] = az
			}
			t.Az = append(t.Az, row)
		}
		return t, t.Validate()
	}
	east, err := build(PierEast)
	if err != nil {
		return nil, err
	}
	west, err := build(PierWest)
	if err != nil {
		return nil, err
	}
	return &Tables{East: east, West: west}, nil
}
