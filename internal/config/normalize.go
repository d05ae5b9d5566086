package config

const (
	DefaultListen = ":11111"
	DefaultName   = "W1XM Dome"
)

// Normalize fills in defaults. It must be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	b := &cfg.Board
	if b.Baud == 0 {
		b.Baud = 9600
	}
	if b.SlaveID == 0 {
		b.SlaveID = 1
	}
	if b.TimeoutMs == 0 {
		b.TimeoutMs = 1000
	}

	if t := cfg.Telescope; t != nil {
		if t.Baud == 0 {
			t.Baud = 9600
		}
		if t.IntervalMs == 0 {
			t.IntervalMs = 300
		}
		if t.TimeoutMs == 0 {
			t.TimeoutMs = 500
		}
	}
}
