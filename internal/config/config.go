package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the root of the TOML configuration file.
type Config struct {
	Logger      LogConf         // Logger - logger settings.
	Engine      EngineConf      // Engine - tick and universe settings.
	GrandMaster GrandMasterConf `toml:"grandmaster"` // GrandMaster - initial grand master.
	ArtNet      []ArtNetConf    `toml:"artnet"`      // ArtNet - one entry per network line.
	MQTT        MQTTConf        // MQTT - optional MQTT bridge.
}

// LogConf holds the logger settings.
type LogConf struct {
	Level   string `toml:"log-level"` // Level - logging level.
	NoColor bool   `toml:"no-color"`  // NoColor - disable ANSI colours.
}

// EngineConf holds the master timer settings.
type EngineConf struct {
	TickMS    uint32 `toml:"tick-ms"`   // TickMS - fixed tick in milliseconds.
	Universes uint32 `toml:"universes"` // Universes - number of universes created at startup.
}

// GrandMasterConf holds the initial grand master state.
type GrandMasterConf struct {
	Value       uint8  `toml:"value"`        // Value - 0..255.
	ValueMode   string `toml:"value-mode"`   // ValueMode - "reduce" or "limit".
	ChannelMode string `toml:"channel-mode"` // ChannelMode - "intensity" or "all".
}

// ArtNetConf describes one Art-Net network line.
type ArtNetConf struct {
	IP        string               `toml:"ip"`       // IP - local interface address; empty = autodetect.
	CIDR      string               `toml:"cidr"`     // CIDR - range used for autodetection.
	Universes []ArtNetUniverseConf `toml:"universe"` // Universes - local universe mappings.
}

// ArtNetUniverseConf binds a local universe to a line.
type ArtNetUniverseConf struct {
	Universe       uint32 `toml:"universe"`        // Universe - local universe id.
	Type           string `toml:"type"`            // Type - "output", "input" or "both".
	OutputAddress  string `toml:"output-address"`  // OutputAddress - full or partial IP; empty = broadcast.
	OutputUniverse *int   `toml:"output-universe"` // OutputUniverse - Art-Net universe; nil = same as Universe.
	Mode           string `toml:"mode"`            // Mode - "Full" or "Partial".
}

// MQTTConf holds the MQTT bridge settings.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - start the bridge.
	ClientID string `toml:"clientID"` // ClientID - client name.
	Host     string `toml:"server"`   // Host - broker address.
	Port     string `toml:"port"`     // Port - broker port.
	User     string `toml:"user"`     // User - broker login.
	Password string `toml:"password"` // Password - broker password.
	Qos      byte   `toml:"qos"`      // Qos - quality of service.
	Prefix   string `toml:"prefix"`   // Prefix - topic prefix.
}

const (
	DefaultTickMS    = 25
	DefaultUniverses = 4
)

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		Engine: EngineConf{
			TickMS:    DefaultTickMS,
			Universes: DefaultUniverses,
		},
		GrandMaster: GrandMasterConf{
			Value:       255,
			ValueMode:   "reduce",
			ChannelMode: "intensity",
		},
		MQTT: MQTTConf{
			ClientID: "lightcore",
			Port:     "1883",
			Prefix:   "lightcore",
		},
	}
}

// NewConfig reads the TOML file at path on top of the defaults.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.TickMS == 0 {
		return fmt.Errorf("engine: tick-ms must be positive")
	}
	switch c.GrandMaster.ValueMode {
	case "reduce", "limit":
	default:
		return fmt.Errorf("grandmaster: unknown value-mode %q", c.GrandMaster.ValueMode)
	}
	switch c.GrandMaster.ChannelMode {
	case "intensity", "all":
	default:
		return fmt.Errorf("grandmaster: unknown channel-mode %q", c.GrandMaster.ChannelMode)
	}
	for i, line := range c.ArtNet {
		for _, u := range line.Universes {
			switch u.Type {
			case "output", "input", "both":
			default:
				return fmt.Errorf("artnet[%d]: universe %d: unknown type %q", i, u.Universe, u.Type)
			}
			if u.OutputUniverse != nil && (*u.OutputUniverse < 0 || *u.OutputUniverse > 0x7FFF) {
				return fmt.Errorf("artnet[%d]: universe %d: output-universe out of range", i, u.Universe)
			}
		}
	}
	return nil
}
