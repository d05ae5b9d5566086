package config

import (
	"errors"
	"fmt"

	"github.com/w1xm/dome_interface/dio"
)

func countSet(vals ...bool) int {
	n := 0
	for _, v := range vals {
		if v {
			n++
		}
	}
	return n
}

// Validate checks the configuration. It does not modify it.
func Validate(cfg *Config) error {
	if cfg.Calibration == "" {
		return errors.New("calibration: path required")
	}

	if len(cfg.Switches) > dio.Relays {
		return fmt.Errorf("switches: %d names given, the board has %d relays", len(cfg.Switches), dio.Relays)
	}
	for i, name := range cfg.Switches {
		for j := 0; j < len(name); j++ {
			if name[j] > 0x7F {
				return fmt.Errorf("switches[%d]: name must contain ASCII characters only", i)
			}
		}
	}

	b := cfg.Board
	if n := countSet(b.Simulate, b.Port != "", b.Address != "", b.URL != ""); n != 1 {
		return fmt.Errorf("board: exactly one of simulate, port, address and url must be set, got %d", n)
	}
	if b.Baud < 0 || b.TimeoutMs < 0 {
		return errors.New("board: baud and timeout_ms must not be negative")
	}

	if t := cfg.Telescope; t != nil {
		if n := countSet(t.Simulate, t.Port != "", t.Address != ""); n != 1 {
			return fmt.Errorf("telescope: exactly one of simulate, port and address must be set, got %d", n)
		}
		if n := countSet(t.Tables != "", t.Geometry != nil); n != 1 {
			return errors.New("telescope: exactly one of tables and geometry must be set")
		}
		if g := t.Geometry; g != nil {
			if g.Radius <= 0 {
				return errors.New("telescope.geometry: radius must be positive")
			}
			if g.Latitude < -90 || g.Latitude > 90 {
				return fmt.Errorf("telescope.geometry: latitude %v out of range", g.Latitude)
			}
		}
		if t.Longitude < -180 || t.Longitude > 180 {
			return fmt.Errorf("telescope: longitude %v out of range", t.Longitude)
		}
		if t.IntervalMs < 0 || t.TimeoutMs < 0 || t.Baud < 0 {
			return errors.New("telescope: baud, interval_ms and timeout_ms must not be negative")
		}
	}
	return nil
}
