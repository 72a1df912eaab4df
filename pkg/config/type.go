package config

import "errors"

var ErrInvalidConfig = errors.New("invalid configuration")

// Source modes
const (
	ModeStatic    = "static"
	ModeCSV       = "csv"
	ModeSerial    = "serial"
	ModeP1        = "p1"
	ModeWebsocket = "websocket"
	ModeMQTT      = "mqtt"
	ModeModbus    = "modbus"
	ModeReplay    = "replay"
)

// Transport strategies
const (
	StrategyUnicast   = "unicast"
	StrategyMulticast = "multicast"
)

type Config struct {
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
	Device    DeviceConfig    `toml:"device"`
	Packet    PacketConfig    `toml:"packet"`
	Transport TransportConfig `toml:"transport"`
	Source    SourceConfig    `toml:"source"`
	Status    StatusConfig    `toml:"status"`
}

type DeviceConfig struct {
	SusyID          uint16 `toml:"susy_id"`
	SerialNumber    uint32 `toml:"serial_number"`
	// Empty reports 2.03.4.R with the frequency channel, 2.0.18.R without
	FirmwareVersion string `toml:"firmware_version"`
}

type PacketConfig struct {
	IncludeFrequency bool `toml:"include_frequency"`
	ExtendedHeader   bool `toml:"extended_header"`
	// 0 derives the size from the channel layout
	Size int `toml:"size"`
}

type TransportConfig struct {
	Strategy     string `toml:"strategy"`
	Destination  string `toml:"destination"`
	MulticastTTL int    `toml:"multicast_ttl"`
	// Interface names to send on, empty for every up, non-loopback IPv4 interface.
	Interfaces []string `toml:"interfaces"`
}

type SourceConfig struct {
	Mode       string `toml:"mode"`
	IntervalMs int    `toml:"interval_ms"`

	// "-" reads standard input
	CSVPath string `toml:"csv_path"`

	SerialDevice string `toml:"serial_device"`
	Baudrate     uint   `toml:"baudrate"`

	// host:port of an interpreter API
	WebsocketHost string `toml:"websocket_host"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTPort     int    `toml:"mqtt_port"`
	MQTTTopic    string `toml:"mqtt_topic"`
	MQTTClientID string `toml:"mqtt_client_id"`

	ModbusHost string `toml:"modbus_host"`
	ModbusPort int    `toml:"modbus_port"`

	ReplayDBPath string `toml:"replay_db_path"`
}

type StatusConfig struct {
	// Empty disables the HTTP status API
	ListenAddress string `toml:"listen_address"`
}
