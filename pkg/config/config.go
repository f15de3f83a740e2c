// Package config loads the daemon's adapter/codec/timeout configuration
// from an INI file, the same format and library (gopkg.in/ini.v1) the
// object-dictionary parser uses for EDS files.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Adapter holds one [adapter.hciN] section's settings.
type Adapter struct {
	Name     string
	Wideband bool // enable mSBC / DEFER_SETUP support
}

// Config is the parsed daemon configuration: adapters, their codec
// capabilities, and the three transport timeouts. This is the only
// configuration surface the transport engine reads; everything else comes
// through its Go API.
type Config struct {
	Adapters      []Adapter
	DrainTimeout  int // ms, overrides sco.DrainTimeoutMs if > 0
	LingerTimeout int
	CloseTimeout  int
}

// defaults mirrors the constants in pkg/sco/state.go; a zero value in the
// file means "use the engine's built-in default".
var defaults = Config{
	DrainTimeout:  250,
	LingerTimeout: 1000,
	CloseTimeout:  600,
}

// Load reads and parses path into a Config. Unknown keys are ignored, the
// same way an EDS parser tolerates unknown sections rather than failing
// the whole load.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := defaults
	if sec := f.Section("timeouts"); sec != nil {
		if v := sec.Key("drain_ms").MustInt(0); v > 0 {
			cfg.DrainTimeout = v
		}
		if v := sec.Key("linger_ms").MustInt(0); v > 0 {
			cfg.LingerTimeout = v
		}
		if v := sec.Key("close_ms").MustInt(0); v > 0 {
			cfg.CloseTimeout = v
		}
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if len(name) <= len("adapter.") || name[:len("adapter.")] != "adapter." {
			continue
		}
		cfg.Adapters = append(cfg.Adapters, Adapter{
			Name:     name[len("adapter."):],
			Wideband: sec.Key("wideband").MustBool(false),
		})
	}

	return &cfg, nil
}
