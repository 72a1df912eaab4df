package solarinverter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
)

var (
	ErrModbusNotConfigured = errors.New("modbus not configured")
	ErrModbusReadFailed    = errors.New("modbus read failed")
	ErrHostUnreachable     = errors.New("host did not answer ping")
)

// Active power register of the inverter, signed 32 bit watts.
const activePowerRegister = 32080

var (
	maxRetries  = 3
	retryDelay  = 2 * time.Second
	settleDelay = 2 * time.Second
	cacheFor    = 10 * time.Second
)

// Inverter reads the live AC output of a solar inverter over Modbus TCP.
type Inverter struct {
	host   string
	port   int
	logger *slog.Logger

	mu            sync.Mutex
	lastReadWatt  int32
	lastReadTime  time.Time
	skipPing      bool
	readRegisters func(ctx context.Context) ([]byte, error)
}

func New(host string, port int, logger *slog.Logger) *Inverter {
	inv := &Inverter{
		host:   host,
		port:   port,
		logger: logger.With("inverter", net.JoinHostPort(host, strconv.Itoa(port))),
	}
	inv.readRegisters = inv.readActivePower
	return inv
}

// IsConfigured reports whether an inverter address is set. The feature is
// optional, so empty values are acceptable.
func (i *Inverter) IsConfigured() bool {
	return i.host != "" && i.port != 0
}

// ReadPower returns the current output in watts. Results are cached for a
// few seconds to avoid spamming the inverter.
func (i *Inverter) ReadPower(ctx context.Context) (int32, error) {
	if !i.IsConfigured() {
		return 0, ErrModbusNotConfigured
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if time.Since(i.lastReadTime) < cacheFor {
		return i.lastReadWatt, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		if !i.skipPing {
			if ok, _, err := Ping(i.host); !ok {
				lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, err)
				continue
			}
		}

		result, err := i.readRegisters(ctx)
		if err != nil {
			lastErr = fmt.Errorf("read power failed on attempt %d: %w", attempt+1, err)
			i.logger.Debug("modbus read failed", "error", err, "attempt", attempt+1)
			continue
		}
		if len(result) < 4 {
			lastErr = fmt.Errorf("short register read on attempt %d: %d bytes", attempt+1, len(result))
			continue
		}

		power := int32(result[0])<<24 | int32(result[1])<<16 | int32(result[2])<<8 | int32(result[3])
		i.lastReadWatt = power
		i.lastReadTime = time.Now()
		return power, nil
	}

	return 0, errors.Join(ErrModbusReadFailed, lastErr)
}

func (i *Inverter) readActivePower(ctx context.Context) ([]byte, error) {
	handler := modbus.NewTCPClientHandler(net.JoinHostPort(i.host, strconv.Itoa(i.port)))
	handler.Timeout = 10 * time.Second
	handler.SlaveId = 0

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer handler.Close()

	// The inverter drops reads issued right after connecting.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(settleDelay):
	}

	client := modbus.NewClient(handler)
	return client.ReadHoldingRegisters(activePowerRegister, 2)
}

// Ping sends a single unprivileged echo request and reports the round trip.
func Ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}
	return false, 0, ErrHostUnreachable
}
