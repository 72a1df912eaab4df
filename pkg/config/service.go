package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/logging"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/pathing"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: logging.FormatText,
		Device: DeviceConfig{
			SusyID:       349,
			SerialNumber: 1901567274,
		},
		Packet: PacketConfig{
			IncludeFrequency: true,
		},
		Transport: TransportConfig{
			Strategy:     StrategyUnicast,
			Destination:  net.JoinHostPort(speedwire.MulticastGroup, strconv.Itoa(speedwire.Port)),
			MulticastTTL: 1,
			Interfaces:   []string{},
		},
		Source: SourceConfig{
			Mode:         ModeStatic,
			IntervalMs:   1000,
			CSVPath:      "-",
			SerialDevice: "/dev/ttyUSB0",
			Baudrate:     115200,
			MQTTPort:     1883,
			MQTTClientID: "speedwire-emeter",
			ModbusPort:   502,
			ReplayDBPath: pathing.GetMeterDbPath(),
		},
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = pathing.GetConfigPath()
	}

	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := pathing.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
		cfgFile, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return nil, fmt.Errorf("write default config %s: %w", path, err)
		}
		return cfg, nil
	}

	// Load existing config over the defaults
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		invalid("%v", err)
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		invalid("log_format %q (allowed: text, json)", c.LogFormat)
	}

	if err := obis.ValidateText(obis.SoftwareVersionChannel, c.Firmware()); err != nil {
		errs = append(errs, fmt.Errorf("device.firmware_version: %w", err))
	}

	variant := c.Variant()
	if err := variant.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("packet: %w", err))
	} else if c.Packet.Size != 0 {
		if c.Packet.Size < variant.MinimumSize() {
			errs = append(errs, fmt.Errorf("packet.size %d: %w (minimum %d)", c.Packet.Size, speedwire.ErrPacketTooSmall, variant.MinimumSize()))
		} else if c.Packet.Size != variant.DefaultSize() {
			invalid("packet.size %d does not fit the channel layout, which needs %d", c.Packet.Size, variant.DefaultSize())
		}
	}

	switch c.Transport.Strategy {
	case StrategyUnicast, StrategyMulticast:
	default:
		invalid("transport.strategy %q (allowed: unicast, multicast)", c.Transport.Strategy)
	}
	if dst, err := c.DestinationAddr(); err != nil {
		invalid("transport.destination %q: %v", c.Transport.Destination, err)
	} else if c.Transport.Strategy == StrategyMulticast && !dst.IP.IsMulticast() {
		invalid("transport.destination %s is not a multicast group, required by strategy multicast", dst)
	}
	if c.Transport.MulticastTTL < 1 || c.Transport.MulticastTTL > 255 {
		invalid("transport.multicast_ttl %d (allowed: 1-255)", c.Transport.MulticastTTL)
	}

	s := c.Source
	if s.IntervalMs <= 0 {
		invalid("source.interval_ms must be positive, got %d", s.IntervalMs)
	}
	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			invalid("source.%s is required for mode %q", key, s.Mode)
		}
	}
	switch s.Mode {
	case ModeStatic:
	case ModeCSV:
		required("csv_path", s.CSVPath)
	case ModeSerial, ModeP1:
		required("serial_device", s.SerialDevice)
		if s.Baudrate == 0 {
			invalid("source.baudrate is required for mode %q", s.Mode)
		}
	case ModeWebsocket:
		required("websocket_host", s.WebsocketHost)
	case ModeMQTT:
		required("mqtt_broker", s.MQTTBroker)
		required("mqtt_topic", s.MQTTTopic)
		if s.MQTTPort <= 0 {
			invalid("source.mqtt_port %d", s.MQTTPort)
		}
	case ModeModbus:
		required("modbus_host", s.ModbusHost)
		if s.ModbusPort <= 0 {
			invalid("source.modbus_port %d", s.ModbusPort)
		}
	case ModeReplay:
		required("replay_db_path", s.ReplayDBPath)
	default:
		invalid("source.mode %q (allowed: %s)", s.Mode, strings.Join(Modes(), ", "))
	}

	return errors.Join(errs...)
}

func Modes() []string {
	return []string{ModeStatic, ModeCSV, ModeSerial, ModeP1, ModeWebsocket, ModeMQTT, ModeModbus, ModeReplay}
}

// Level is the configured log level, info if it does not parse.
func (c *Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

func (c *Config) Variant() speedwire.Variant {
	return speedwire.Variant{
		IncludeFrequency: c.Packet.IncludeFrequency,
		Extended:         c.Packet.ExtendedHeader,
	}
}

// Firmware is the configured version text, or the one matching the packet
// layout when unset.
func (c *Config) Firmware() string {
	if c.Device.FirmwareVersion != "" {
		return c.Device.FirmwareVersion
	}
	return emeter.DefaultFirmware(c.Packet.IncludeFrequency)
}

// PacketSize is the configured size or the one the layout needs.
func (c *Config) PacketSize() int {
	if c.Packet.Size != 0 {
		return c.Packet.Size
	}
	return c.Variant().DefaultSize()
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Source.IntervalMs) * time.Millisecond
}

func (c *Config) DestinationAddr() (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(c.Transport.Destination)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%q is not an IPv4 address", host)
	}
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
}

// UsesInterface reports whether packets go out on the named interface.
func (c *Config) UsesInterface(name string) bool {
	return len(c.Transport.Interfaces) == 0 || slices.Contains(c.Transport.Interfaces, name)
}
