// Package config reads the domed server configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/w1xm/dome_interface/dio"
	"github.com/w1xm/dome_interface/telescope"
)

type Config struct {
	// Listen is the HTTP address of the Alpaca API.
	Listen string `yaml:"listen"`
	// Discovery enables the Alpaca UDP discovery responder.
	Discovery bool `yaml:"discovery"`
	// Rotctld is the optional address of a hamlib rotctld listener.
	Rotctld string `yaml:"rotctld"`

	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	// Calibration is the path of the JSON calibration file.
	Calibration string   `yaml:"calibration"`
	Switches    []string `yaml:"switches"`

	Board     BoardConfig      `yaml:"board"`
	Telescope *TelescopeConfig `yaml:"telescope"`
}

// ---- BOARD ----

// BoardConfig selects the digital I/O board. Exactly one of Simulate, Port,
// Address and URL is set.
type BoardConfig struct {
	Simulate  bool   `yaml:"simulate"`
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	Address   string `yaml:"address"`
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	SlaveID   uint8  `yaml:"slave_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- TELESCOPE ----

// TelescopeConfig enables slaving. Exactly one of Simulate, Port and Address
// is set, and exactly one of Tables and Geometry.
type TelescopeConfig struct {
	Simulate bool   `yaml:"simulate"`
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	Address  string `yaml:"address"`

	IntervalMs int `yaml:"interval_ms"`
	TimeoutMs  int `yaml:"timeout_ms"`

	// Longitude in degrees, east positive.
	Longitude float64 `yaml:"longitude"`
	// Tables is the path of precomputed azimuth tables.
	Tables   string              `yaml:"tables"`
	Geometry *telescope.Geometry `yaml:"geometry"`
}

// Load reads a YAML configuration file. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}
	return &cfg, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DioConfig converts the board section for dio.Open.
func (b BoardConfig) DioConfig() dio.Config {
	return dio.Config{
		Simulate: b.Simulate,
		Port:     b.Port,
		Baud:     b.Baud,
		Address:  b.Address,
		URL:      b.URL,
		Password: b.Password,
		SlaveID:  b.SlaveID,
		Timeout:  millis(b.TimeoutMs),
	}
}

// Interval is the time between telescope reads.
func (t *TelescopeConfig) Interval() time.Duration { return millis(t.IntervalMs) }

// Timeout bounds each telescope query.
func (t *TelescopeConfig) Timeout() time.Duration { return millis(t.TimeoutMs) }

// LoadTables returns the azimuth tables, read from Tables or generated from
// Geometry.
func (t *TelescopeConfig) LoadTables() (*telescope.Tables, error) {
	if t.Tables != "" {
		return telescope.LoadTables(t.Tables)
	}
	return t.Geometry.Tables(telescope.DefaultGrid)
}
