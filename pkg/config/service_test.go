package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "speedwire_emeter.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speedwire_emeter.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[packet]
include_frequency = false

[source]
mode = "csv"
csv_path = "/tmp/feed.csv"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ModeCSV, cfg.Source.Mode)
	assert.Equal(t, 600, cfg.PacketSize())
	assert.Equal(t, uint16(349), cfg.Device.SusyID)
	assert.Equal(t, time.Second, cfg.Interval())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speedwire_emeter.toml")
	require.NoError(t, os.WriteFile(path, []byte("[packet]\nsize_bytes = 600\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "packet.size_bytes")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"packet smaller than one element", func(c *Config) { c.Packet.Size = 40 }, speedwire.ErrPacketTooSmall},
		{"packet size off layout", func(c *Config) { c.Packet.Size = 600 }, ErrInvalidConfig},
		{"explicit matching size", func(c *Config) { c.Packet.Size = 608 }, nil},
		{"extended without frequency", func(c *Config) {
			c.Packet.ExtendedHeader = true
			c.Packet.IncludeFrequency = false
		}, speedwire.ErrExtendedFrequency},
		{"firmware too long", func(c *Config) { c.Device.FirmwareVersion = "firmware-2.03" }, obis.ErrTextTooLong},
		{"bad strategy", func(c *Config) { c.Transport.Strategy = "broadcast" }, ErrInvalidConfig},
		{"multicast to a unicast peer", func(c *Config) {
			c.Transport.Strategy = StrategyMulticast
			c.Transport.Destination = "192.168.1.20:9522"
		}, ErrInvalidConfig},
		{"unicast peer", func(c *Config) { c.Transport.Destination = "192.168.1.20:9522" }, nil},
		{"hostname destination", func(c *Config) { c.Transport.Destination = "meter.local:9522" }, ErrInvalidConfig},
		{"zero interval", func(c *Config) { c.Source.IntervalMs = 0 }, ErrInvalidConfig},
		{"unknown mode", func(c *Config) { c.Source.Mode = "bluetooth" }, ErrInvalidConfig},
		{"mqtt without topic", func(c *Config) {
			c.Source.Mode = ModeMQTT
			c.Source.MQTTBroker = "localhost"
		}, ErrInvalidConfig},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	cfg.Source.Mode = "bluetooth"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "log_format")
	assert.ErrorContains(t, err, "source.mode")
}

func TestFirmwareFollowsPacketLayout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "2.03.4.R", cfg.Firmware())

	cfg.Packet.IncludeFrequency = false
	assert.Equal(t, "2.0.18.R", cfg.Firmware())
	require.NoError(t, cfg.Validate())

	cfg.Device.FirmwareVersion = "2.03.4.R"
	assert.Equal(t, "2.03.4.R", cfg.Firmware())
}

func TestUsesInterface(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.UsesInterface("eth0"))

	cfg.Transport.Interfaces = []string{"wlan0"}
	assert.False(t, cfg.UsesInterface("eth0"))
	assert.True(t, cfg.UsesInterface("wlan0"))
}
