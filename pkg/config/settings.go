// Plotter settings schema
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

// Settings is the parsed contents of a plotdrive settings file.
// Zero values mean "not set"; command-line flags override these and
// hardware model defaults fill the rest.
//
// File layout:
//
//	[connection]
//	port: /dev/ttyACM0        # or tcp:host:port
//	monitor: :9730
//
//	[plot]
//	model: 8
//	handling: 1
//	copies: 1
//	page_delay: 15            # seconds between copies
//
//	[pen]
//	pos_up: 60                # percent
//	pos_down: 30
//	rate_raise: 75
//	rate_lower: 50
type Settings struct {
	Port    string
	Monitor string

	Model     int
	Handling  int
	Copies    int
	PageDelay int

	PosUp     int
	PosDown   int
	RateRaise int
	RateLower int
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() Settings {
	return Settings{
		Model:     8,
		Handling:  1,
		Copies:    1,
		PageDelay: 15,
		PosUp:     60,
		PosDown:   30,
		RateRaise: 75,
		RateLower: 50,
	}
}

// LoadSettings reads a settings file, applying file values over the
// defaults. Unknown options are reported as an error so typos do not
// silently fall back to defaults.
func LoadSettings(path string) (Settings, error) {
	cfg, err := Load(path)
	if err != nil {
		return Settings{}, err
	}
	return parseSettings(cfg)
}

// LoadSettingsString parses settings from a string.
func LoadSettingsString(data string) (Settings, error) {
	cfg, err := LoadString(data)
	if err != nil {
		return Settings{}, err
	}
	return parseSettings(cfg)
}

func parseSettings(cfg *Config) (Settings, error) {
	s := DefaultSettings()

	if sec := cfg.GetSectionOptional("connection"); sec != nil {
		var err error
		if s.Port, err = sec.Get("port", s.Port); err != nil {
			return Settings{}, err
		}
		if s.Monitor, err = sec.Get("monitor", s.Monitor); err != nil {
			return Settings{}, err
		}
	}

	if sec := cfg.GetSectionOptional("plot"); sec != nil {
		for _, opt := range []struct {
			name string
			dst  *int
		}{
			{"model", &s.Model},
			{"handling", &s.Handling},
			{"copies", &s.Copies},
			{"page_delay", &s.PageDelay},
		} {
			v, err := sec.GetInt(opt.name, *opt.dst)
			if err != nil {
				return Settings{}, err
			}
			*opt.dst = v
		}
	}

	if sec := cfg.GetSectionOptional("pen"); sec != nil {
		lo, hi := 0, 100
		for _, opt := range []struct {
			name string
			dst  *int
		}{
			{"pos_up", &s.PosUp},
			{"pos_down", &s.PosDown},
			{"rate_raise", &s.RateRaise},
			{"rate_lower", &s.RateLower},
		} {
			v, err := sec.GetIntWithBounds(opt.name, &lo, &hi, *opt.dst)
			if err != nil {
				return Settings{}, err
			}
			*opt.dst = v
		}
	}

	if err := cfg.CheckUnusedSections(); err != nil {
		return Settings{}, err
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
