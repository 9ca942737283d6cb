// Package config loads and minimally validates the exchange's JSON
// configuration. It checks only the structural invariants needed to fail
// fast with a useful error before the event loop starts; deeper checks
// such as hostname resolution belong to the deployment tooling.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Engine struct {
	MarketDataFile   string  `json:"MarketDataFile"`
	MarketOpenDelay  float64 `json:"MarketOpenDelay"`
	MatchEventsFile  string  `json:"MatchEventsFile"`
	ScoreBoardFile   string  `json:"ScoreBoardFile"`
	Speed            float64 `json:"Speed"`
	TickInterval     float64 `json:"TickInterval"`
}

type Execution struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

type Fees struct {
	Maker float64 `json:"Maker"`
	Taker float64 `json:"Taker"`
}

type Information struct {
	MulticastAddress string `json:"MulticastAddress"`
	Interface        string `json:"Interface"`
	Port             int    `json:"Port"`
}

type Instrument struct {
	EtfClamp float64 `json:"EtfClamp"`
	TickSize float64 `json:"TickSize"`
}

type Limits struct {
	ActiveOrderCountLimit    int     `json:"ActiveOrderCountLimit"`
	ActiveVolumeLimit        int     `json:"ActiveVolumeLimit"`
	MessageFrequencyInterval float64 `json:"MessageFrequencyInterval"`
	MessageFrequencyLimit    int     `json:"MessageFrequencyLimit"`
	PositionLimit            int     `json:"PositionLimit"`
}

type Hud struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// Config is the top-level JSON object.
type Config struct {
	Engine      Engine            `json:"Engine"`
	Execution   Execution         `json:"Execution"`
	Fees        Fees              `json:"Fees"`
	Information Information       `json:"Information"`
	Instrument  Instrument        `json:"Instrument"`
	Limits      Limits            `json:"Limits"`
	Traders     map[string]string `json:"Traders"`
	Hud         *Hud              `json:"Hud,omitempty"`
}

// Load reads and decodes a configuration file, then runs the minimal
// structural validation every caller needs regardless of deployment
// (missing keys would otherwise surface as confusing nil/zero-value bugs
// deep inside the matching engine).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Execution.Host == "" || c.Execution.Port == 0 {
		return fmt.Errorf("Execution.Host and Execution.Port are required")
	}
	if c.Information.MulticastAddress == "" || c.Information.Port == 0 {
		return fmt.Errorf("Information.MulticastAddress and Information.Port are required")
	}
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("Instrument.TickSize must be positive")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("Engine.TickInterval must be positive")
	}
	if c.Engine.Speed <= 0 {
		return fmt.Errorf("Engine.Speed must be positive")
	}
	if len(c.Traders) == 0 {
		return fmt.Errorf("Traders must list at least one team")
	}
	if c.Limits.MessageFrequencyLimit <= 0 {
		return fmt.Errorf("Limits.MessageFrequencyLimit must be positive")
	}
	return nil
}
