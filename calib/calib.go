// Package calib holds the dome motion constants produced by the calibration
// procedure.
package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Params are the static motion constants. Only DomeAz and ParkAz are ever
// written back to storage.
type Params struct {
	// N360 is the number of encoder counts in a full revolution.
	N360 int `json:"n360"`
	// HOffset is the azimuth of the home switch, in degrees.
	HOffset float64 `json:"hoffset"`
	// MaxErr, NStart and NStop are in encoder counts.
	MaxErr int `json:"maxerr"`
	NStart int `json:"nstart"`
	NStop  int `json:"nstop"`

	// Time constants, in seconds.
	T360     float64 `json:"t360"`
	TPoll    float64 `json:"tpoll"`
	TSafe    float64 `json:"tsafe"`
	TShort   float64 `json:"tshort"`
	TStart   float64 `json:"tstart"`
	TStop    float64 `json:"tstop"`
	ShutTime float64 `json:"shuttime"`

	// VMax is the full rotation speed in counts/second.
	VMax float64 `json:"vmax"`

	// PTable is the pulse duration in seconds needed to cover a distance
	// of i counts.
	PTable []float64 `json:"ptable"`

	// ParkAz and DomeAz are in degrees.
	ParkAz float64 `json:"parkaz"`
	DomeAz float64 `json:"domeaz"`
}

// Keys lists every field a calibration file must carry.
var Keys = []string{
	"n360", "hoffset", "maxerr", "nstart", "nstop", "t360", "tpoll", "tsafe",
	"tshort", "tstart", "tstop", "vmax", "parkaz", "domeaz", "shuttime", "ptable",
}

// MissingKeyError reports a calibration file without one of Keys.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("calibration parameter %q not set", e.Key)
}

// Parse decodes and validates a calibration record.
func Parse(data []byte) (*Params, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding calibration: %w", err)
	}
	for _, k := range Keys {
		if _, ok := raw[k]; !ok {
			return nil, &MissingKeyError{Key: k}
		}
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding calibration: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the values that the control loop divides by or indexes with.
func (p *Params) Validate() error {
	switch {
	case p.N360 <= 0:
		return fmt.Errorf("n360 must be positive, got %d", p.N360)
	case p.TPoll <= 0:
		return fmt.Errorf("tpoll must be positive, got %v", p.TPoll)
	case p.TSafe <= 0:
		return fmt.Errorf("tsafe must be positive, got %v", p.TSafe)
	case p.MaxErr < 0 || p.NStop < p.MaxErr:
		return fmt.Errorf("need 0 <= maxerr <= nstop, got maxerr=%d nstop=%d", p.MaxErr, p.NStop)
	case p.NStart < 0:
		return fmt.Errorf("nstart must not be negative, got %d", p.NStart)
	case len(p.PTable) == 0:
		return errors.New("ptable is empty")
	}
	return nil
}

// Load reads the calibration file at path. A missing file is an error: the
// dome cannot be driven without its constants.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration: %w", err)
	}
	return Parse(data)
}

// SavePositions rewrites domeaz and parkaz in the calibration file at path,
// leaving every other key as found.
func SavePositions(path string, domeAz, parkAz float64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading calibration: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding calibration: %w", err)
	}
	for k, v := range map[string]float64{"domeaz": domeAz, "parkaz": parkAz} {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw[k] = b
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calib-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// N180 is half a revolution in counts.
func (p *Params) N180() int {
	return p.N360 / 2
}

// Wrap reduces n into [0, n360).
func (p *Params) Wrap(n int) int {
	n %= p.N360
	if n < 0 {
		n += p.N360
	}
	return n
}

// DegToCounts converts an azimuth in degrees to encoder counts in [0, n360).
func (p *Params) DegToCounts(deg float64) int {
	return p.Wrap(int(math.Round(deg * float64(p.N360) / 360)))
}

// CountsToDeg converts encoder counts to an azimuth in [0, 360).
func (p *Params) CountsToDeg(n int) float64 {
	return float64(p.Wrap(n)) * 360 / float64(p.N360)
}

// Distance returns the signed shortest move from cur to target, in
// (-n180, n180]. Positive is clockwise.
func (p *Params) Distance(cur, target int) int {
	d := p.Wrap(target) - p.Wrap(cur)
	n180 := p.N180()
	if d > n180 {
		d -= p.N360
	} else if d <= -n180 {
		d += p.N360
	}
	return d
}

// PulseDuration looks up the pulse needed to cover n counts.
func (p *Params) PulseDuration(n int) time.Duration {
	if n < 0 {
		n = -n
	}
	if n >= len(p.PTable) {
		n = len(p.PTable) - 1
	}
	s := p.PTable[n]
	if s < p.TShort {
		s = p.TShort
	}
	return Seconds(s)
}

// Seconds converts a calibration time constant to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
