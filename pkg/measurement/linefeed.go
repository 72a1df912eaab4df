package measurement

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"github.com/NotCoffee418/speedwire_emeter/pkg/esmutils"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

// LineFieldCount is the number of values on a live feed line: active power
// import and export (W), active energy import and export (Wh), voltage
// L1-L3 (V) and current L1-L3 (A).
const LineFieldCount = 10

// MaxLineLength bounds a live feed line. Longer lines are skipped as
// malformed.
const MaxLineLength = 4096

// ParseLine turns one live feed line into a complete snapshot. Channels the
// feed does not carry come from the layout's baseline, never from an
// earlier line.
func ParseLine(layout Layout, line string) (obis.Snapshot, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) == LineFieldCount+1 && strings.TrimSpace(fields[LineFieldCount]) == "" {
		fields = fields[:LineFieldCount]
	}
	if len(fields) != LineFieldCount {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedLine, LineFieldCount, len(fields))
	}

	var values [LineFieldCount]float64
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: field %d %q is not a number", ErrMalformedLine, i+1, field)
		}
		values[i] = v
	}

	snap := layout.Baseline()
	snap.Set(obis.PositiveActivePower(obis.Total), values[0])
	snap.Set(obis.NegativeActivePower(obis.Total), values[1])
	snap.Set(obis.PositiveActiveEnergy(obis.Total), esmutils.WhToKwh(values[2]))
	snap.Set(obis.NegativeActiveEnergy(obis.Total), esmutils.WhToKwh(values[3]))
	for i, l := range obis.Phases {
		snap.Set(obis.VoltageOf(l), values[4+i])
		snap.Set(obis.CurrentOf(l), values[7+i])
	}
	return snap, nil
}

// feedLine is a queued line, or the reason it could not be read.
type feedLine struct {
	text string
	err  error
}

// LineFeed parses lines pushed by a reader goroutine or a message handler.
type LineFeed struct {
	layout Layout
	lines  chan feedLine
	stop   chan struct{}

	// err is the terminal error, valid once done is closed
	done chan struct{}
	err  error

	closer    io.Closer
	closeOnce sync.Once
}

func newLineFeed(layout Layout, closer io.Closer) *LineFeed {
	return &LineFeed{
		layout: layout,
		lines:  make(chan feedLine, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		closer: closer,
	}
}

// NewLineFeed reads newline separated lines from r until it ends. closer,
// if set, is closed by Close.
func NewLineFeed(layout Layout, r io.Reader, closer io.Closer) *LineFeed {
	f := newLineFeed(layout, closer)
	go f.readLines(r)
	return f
}

// OpenCSV reads the feed from a file, or standard input for "-".
func OpenCSV(layout Layout, path string) (*LineFeed, error) {
	if path == "-" {
		return NewLineFeed(layout, os.Stdin, nil), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return NewLineFeed(layout, file, file), nil
}

// OpenSerialFeed reads the feed from a serial device.
func OpenSerialFeed(layout Layout, device string, baudrate uint) (*LineFeed, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        device,
		BaudRate:        baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open serial port: %w", ErrSourceUnavailable, err)
	}
	return NewLineFeed(layout, port, port), nil
}

func (f *LineFeed) readLines(r io.Reader) {
	reader := bufio.NewReaderSize(r, MaxLineLength)
	for {
		line, err := nextLine(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			f.finish(err)
			return
		}
		if line.err == nil && strings.TrimSpace(line.text) == "" {
			continue
		}
		if !f.push(line) {
			f.finish(nil)
			return
		}
	}
}

// nextLine reads one line without its terminator. A line that does not fit
// the reader's buffer is consumed to its end and reported as malformed.
func nextLine(r *bufio.Reader) (feedLine, error) {
	chunk, isPrefix, err := r.ReadLine()
	if err != nil {
		return feedLine{}, err
	}
	if !isPrefix {
		return feedLine{text: string(chunk)}, nil
	}

	size := len(chunk)
	for isPrefix && err == nil {
		chunk, isPrefix, err = r.ReadLine()
		size += len(chunk)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return feedLine{}, err
	}
	return feedLine{err: fmt.Errorf("%w: line of %d bytes exceeds %d", ErrMalformedLine, size, MaxLineLength)}, nil
}

// push blocks until the line is queued or the feed is closed.
func (f *LineFeed) push(line feedLine) bool {
	select {
	case f.lines <- line:
		return true
	case <-f.stop:
		return false
	}
}

// offer queues the line unless the consumer is behind.
func (f *LineFeed) offer(line string) bool {
	select {
	case f.lines <- feedLine{text: line}:
		return true
	default:
		return false
	}
}

// finish ends the feed once queued lines are consumed; nil means io.EOF.
func (f *LineFeed) finish(err error) {
	if err == nil {
		err = io.EOF
	}
	f.err = err
	close(f.done)
}

func (f *LineFeed) Next(ctx context.Context) (obis.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case line := <-f.lines:
		return f.parse(line)
	case <-f.done:
		select {
		case line := <-f.lines:
			return f.parse(line)
		default:
			return nil, f.err
		}
	}
}

func (f *LineFeed) parse(line feedLine) (obis.Snapshot, error) {
	if line.err != nil {
		return nil, line.err
	}
	return ParseLine(f.layout, line.text)
}

func (f *LineFeed) SelfPaced() bool { return true }

func (f *LineFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stop)
		if f.closer != nil {
			err = f.closer.Close()
		}
	})
	return err
}
