package pathing

import (
	"os"
	"path/filepath"
)

func GetConfigDir() string {
	return "/etc/speedwire_emeter"
}

func GetDataDir() string {
	return "/var/lib/speedwire_emeter"
}

func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "speedwire_emeter.toml")
}

// GetMeterDbPath is where recorded meter readings are replayed from by default.
func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "esm-meter.db")
}

// EnsureDir creates dir and its parents if they do not exist yet.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
