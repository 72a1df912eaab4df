package port_reader

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/NotCoffee418/speedwire_emeter/pkg/interpreter"
)

var (
	ErrInvalidCRC   = errors.New("invalid telegram crc")
	ErrNotConnected = errors.New("serial port not connected")
)

type P1Reader struct {
	port     string
	baudrate uint
	logger   *slog.Logger

	serialPort    io.ReadCloser
	lines         *bufio.Reader
	latestReading *interpreter.RawMeterReading
	readingMutex  sync.RWMutex

	// Pre-compiled regex patterns
	obisPatterns    map[string]*regexp.Regexp
	specialPatterns map[string]*regexp.Regexp
}
