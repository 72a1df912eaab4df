package port_reader

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/speedwire_emeter/pkg/interpreter"
	"github.com/jacobsa/go-serial/serial"
	"github.com/sigurn/crc16"
)

// Tolerance before a run of read errors is reported.
const maxConsecutiveErrors = 10

var readErrorBackoff = time.Second

// CRC16/ARC as used by DSMR P1 telegrams.
var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// NewP1Reader prepares a reader for the P1 port on a serial device. Call
// Connect before reading.
func NewP1Reader(port string, baudrate uint, logger *slog.Logger) *P1Reader {
	reader := &P1Reader{
		port:     port,
		baudrate: baudrate,
		logger:   logger.With("port", port),
	}
	reader.compilePatterns()
	return reader
}

// NewP1ReaderFrom reads telegrams from an already open stream.
func NewP1ReaderFrom(r io.ReadCloser, logger *slog.Logger) *P1Reader {
	reader := &P1Reader{
		port:       "stream",
		logger:     logger,
		serialPort: r,
		lines:      bufio.NewReader(r),
	}
	reader.compilePatterns()
	return reader
}

func (p *P1Reader) compilePatterns() {
	p.obisPatterns = map[string]*regexp.Regexp{
		"current_consumption":     regexp.MustCompile(`1-0:1\.7\.0\((\d+\.\d+)\*kW\)`),
		"current_production":      regexp.MustCompile(`1-0:2\.7\.0\((\d+\.\d+)\*kW\)`),
		"l1_consumption":          regexp.MustCompile(`1-0:21\.7\.0\((\d+\.\d+)\*kW\)`),
		"l2_consumption":          regexp.MustCompile(`1-0:41\.7\.0\((\d+\.\d+)\*kW\)`),
		"l3_consumption":          regexp.MustCompile(`1-0:61\.7\.0\((\d+\.\d+)\*kW\)`),
		"l1_production":           regexp.MustCompile(`1-0:22\.7\.0\((\d+\.\d+)\*kW\)`),
		"l2_production":           regexp.MustCompile(`1-0:42\.7\.0\((\d+\.\d+)\*kW\)`),
		"l3_production":           regexp.MustCompile(`1-0:62\.7\.0\((\d+\.\d+)\*kW\)`),
		"total_consumption_day":   regexp.MustCompile(`1-0:1\.8\.1\((\d+\.\d+)\*kWh\)`),
		"total_consumption_night": regexp.MustCompile(`1-0:1\.8\.2\((\d+\.\d+)\*kWh\)`),
		"total_production_day":    regexp.MustCompile(`1-0:2\.8\.1\((\d+\.\d+)\*kWh\)`),
		"total_production_night":  regexp.MustCompile(`1-0:2\.8\.2\((\d+\.\d+)\*kWh\)`),
		"l1_voltage":              regexp.MustCompile(`1-0:32\.7\.0\((\d+\.\d+)\*V\)`),
		"l2_voltage":              regexp.MustCompile(`1-0:52\.7\.0\((\d+\.\d+)\*V\)`),
		"l3_voltage":              regexp.MustCompile(`1-0:72\.7\.0\((\d+\.\d+)\*V\)`),
		"l1_current":              regexp.MustCompile(`1-0:31\.7\.0\((\d+\.\d+)\*A\)`),
		"l2_current":              regexp.MustCompile(`1-0:51\.7\.0\((\d+\.\d+)\*A\)`),
		"l3_current":              regexp.MustCompile(`1-0:71\.7\.0\((\d+\.\d+)\*A\)`),
		"switch_electricity":      regexp.MustCompile(`0-0:96\.3\.10\((\d+)\)`),
		"switch_gas":              regexp.MustCompile(`0-1:24\.4\.0\((\d+)\)`),
		"gas_consumption":         regexp.MustCompile(`0-1:24\.2\.3\(\d{12}[WS]\)\((\d+\.\d+)\*m3\)`),
	}

	p.specialPatterns = map[string]*regexp.Regexp{
		"timestamp":                regexp.MustCompile(`0-0:1\.0\.0\((\d{12}[WS])\)`),
		"current_tariff":           regexp.MustCompile(`0-0:96\.14\.0\((\d{4})\)`),
		"meter_serial_electricity": regexp.MustCompile(`0-0:96\.1\.1\(([A-F0-9]+)\)`),
		"meter_serial_gas":         regexp.MustCompile(`0-1:96\.1\.1\(([A-F0-9]+)\)`),
	}
}

// Run reads telegrams until ctx is done, the stream ends or too many
// consecutive reads fail. handleReading is called on the reading goroutine.
func (p *P1Reader) Run(ctx context.Context, handleReading func(reading *interpreter.RawMeterReading)) error {
	if p.serialPort == nil {
		if err := p.Connect(); err != nil {
			return err
		}
	}

	// A blocked serial read only returns once the port is closed.
	stop := context.AfterFunc(ctx, func() { p.Close() })
	defer stop()
	defer p.Close()

	consecutiveErrors := 0
	var errs []error
	for consecutiveErrors < maxConsecutiveErrors {
		telegram, err := p.ReadTelegram()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			consecutiveErrors++
			errs = append(errs, err)
			p.logger.Warn("error reading telegram", "error", err, "attempt", consecutiveErrors, "max", maxConsecutiveErrors)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		reading, err := p.ParseTelegram(telegram)
		if err != nil {
			consecutiveErrors++
			errs = append(errs, err)
			p.logger.Warn("skipping telegram", "error", err, "attempt", consecutiveErrors, "max", maxConsecutiveErrors)
			continue
		}

		p.readingMutex.Lock()
		p.latestReading = reading
		p.readingMutex.Unlock()

		handleReading(reading)
		consecutiveErrors = 0
		errs = nil
	}

	return fmt.Errorf("too many consecutive errors on %s: %w", p.port, errors.Join(errs...))
}

func (p *P1Reader) GetLatestReading() *interpreter.RawMeterReading {
	p.readingMutex.RLock()
	defer p.readingMutex.RUnlock()
	return p.latestReading
}

// Connect opens the serial device.
func (p *P1Reader) Connect() error {
	options := serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	p.serialPort = port
	p.lines = bufio.NewReader(port)
	p.logger.Info("connected to P1 port")
	return nil
}

func (p *P1Reader) Close() error {
	if p.serialPort == nil {
		return nil
	}
	return p.serialPort.Close()
}

// ReadTelegram returns the next complete telegram, from the / header line
// through the ! checksum line.
func (p *P1Reader) ReadTelegram() (string, error) {
	if p.lines == nil {
		return "", ErrNotConnected
	}

	var buffer strings.Builder
	var inTelegram bool
	for {
		line, err := p.lines.ReadString('\n')
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(strings.TrimSpace(line), "!") {
				return buffer.String(), nil
			}
		}
	}
}

// ValidateCRC checks the CRC16/ARC over everything up to and including the
// ! against the four hex digits after it.
func ValidateCRC(telegram string) bool {
	data, given, found := strings.Cut(telegram, "!")
	if !found || len(given) < 4 {
		return false
	}

	calc := crc16.Checksum([]byte(data+"!"), crcTable)
	return strings.EqualFold(given[:4], fmt.Sprintf("%04X", calc))
}

// ParseTelegram decodes a telegram with a valid checksum. Fields missing
// from the telegram stay zero.
func (p *P1Reader) ParseTelegram(telegram string) (*interpreter.RawMeterReading, error) {
	if !ValidateCRC(telegram) {
		return nil, ErrInvalidCRC
	}

	reading := &interpreter.RawMeterReading{
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if match := p.specialPatterns["timestamp"].FindStringSubmatch(telegram); match != nil {
		if t, err := time.Parse("060102150405", match[1][:12]); err == nil {
			reading.Timestamp = t.Format(time.RFC3339)
		}
	}

	obisMap := map[string]func(float64){
		"current_consumption":     func(v float64) { reading.CurrentConsumptionKW = v },
		"current_production":      func(v float64) { reading.CurrentProductionKW = v },
		"l1_consumption":          func(v float64) { reading.L1ConsumptionKW = v },
		"l2_consumption":          func(v float64) { reading.L2ConsumptionKW = v },
		"l3_consumption":          func(v float64) { reading.L3ConsumptionKW = v },
		"l1_production":           func(v float64) { reading.L1ProductionKW = v },
		"l2_production":           func(v float64) { reading.L2ProductionKW = v },
		"l3_production":           func(v float64) { reading.L3ProductionKW = v },
		"total_consumption_day":   func(v float64) { reading.TotalConsumptionDayKWH = v },
		"total_consumption_night": func(v float64) { reading.TotalConsumptionNightKWH = v },
		"total_production_day":    func(v float64) { reading.TotalProductionDayKWH = v },
		"total_production_night":  func(v float64) { reading.TotalProductionNightKWH = v },
		"l1_voltage":              func(v float64) { reading.L1VoltageV = v },
		"l2_voltage":              func(v float64) { reading.L2VoltageV = v },
		"l3_voltage":              func(v float64) { reading.L3VoltageV = v },
		"l1_current":              func(v float64) { reading.L1CurrentA = v },
		"l2_current":              func(v float64) { reading.L2CurrentA = v },
		"l3_current":              func(v float64) { reading.L3CurrentA = v },
		"gas_consumption":         func(v float64) { reading.GasConsumptionM3 = v },
	}

	for field, setter := range obisMap {
		if match := p.obisPatterns[field].FindStringSubmatch(telegram); match != nil {
			if value, err := strconv.ParseFloat(match[1], 64); err == nil {
				setter(value)
			}
		}
	}

	intMap := map[string]func(int){
		"switch_electricity": func(v int) { reading.SwitchElectricity = v },
		"switch_gas":         func(v int) { reading.SwitchGas = v },
	}

	for field, setter := range intMap {
		if match := p.obisPatterns[field].FindStringSubmatch(telegram); match != nil {
			if value, err := strconv.Atoi(match[1]); err == nil {
				setter(value)
			}
		}
	}

	// Tariff is sent as 0001 or 0002
	if match := p.specialPatterns["current_tariff"].FindStringSubmatch(telegram); match != nil {
		if value, err := strconv.Atoi(match[1]); err == nil {
			reading.CurrentTariff = value % 10
		}
	}

	reading.MeterSerialElectricity = p.hexSerial("meter_serial_electricity", telegram)
	reading.MeterSerialGas = p.hexSerial("meter_serial_gas", telegram)

	return reading, nil
}

func (p *P1Reader) hexSerial(pattern, telegram string) string {
	match := p.specialPatterns[pattern].FindStringSubmatch(telegram)
	if match == nil {
		return ""
	}
	if decoded, err := hex.DecodeString(match[1]); err == nil {
		return string(decoded)
	}
	return match[1]
}
