package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(writeConf(t, `[logger]
log-level = "debug"
`))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, uint32(DefaultTickMS), cfg.Engine.TickMS)
	require.Equal(t, uint32(DefaultUniverses), cfg.Engine.Universes)
	require.Equal(t, uint8(255), cfg.GrandMaster.Value)
	require.Equal(t, "reduce", cfg.GrandMaster.ValueMode)
	require.Empty(t, cfg.ArtNet)
}

func TestNewConfigArtNetLines(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(writeConf(t, `
[engine]
tick-ms = 20
universes = 2

[[artnet]]
ip = "10.0.0.5"

  [[artnet.universe]]
  universe = 0
  type = "output"
  output-address = "20"
  output-universe = 7
  mode = "Partial"

  [[artnet.universe]]
  universe = 1
  type = "input"
`))
	require.NoError(t, err)
	require.Equal(t, uint32(20), cfg.Engine.TickMS)
	require.Len(t, cfg.ArtNet, 1)
	line := cfg.ArtNet[0]
	require.Equal(t, "10.0.0.5", line.IP)
	require.Len(t, line.Universes, 2)
	require.NotNil(t, line.Universes[0].OutputUniverse)
	require.Equal(t, 7, *line.Universes[0].OutputUniverse)
	require.Equal(t, "Partial", line.Universes[0].Mode)
	require.Nil(t, line.Universes[1].OutputUniverse)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bad := 0x8000
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero tick", func(c *Config) { c.Engine.TickMS = 0 }},
		{"value mode", func(c *Config) { c.GrandMaster.ValueMode = "dim" }},
		{"channel mode", func(c *Config) { c.GrandMaster.ChannelMode = "colour" }},
		{"universe type", func(c *Config) {
			c.ArtNet = []ArtNetConf{{Universes: []ArtNetUniverseConf{{Type: "sideways"}}}}
		}},
		{"output universe", func(c *Config) {
			c.ArtNet = []ArtNetConf{{Universes: []ArtNetUniverseConf{{Type: "output", OutputUniverse: &bad}}}}
		}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestNewConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
