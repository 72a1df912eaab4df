package measurement

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/NotCoffee418/speedwire_emeter/pkg/interpreter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/port_reader"
)

// ReadingFeed converts meter readings produced on a background goroutine.
// Only the newest reading is kept when the consumer falls behind.
type ReadingFeed struct {
	layout   Layout
	readings chan *interpreter.RawMeterReading
	cancel   context.CancelFunc

	// err is the terminal error, valid once done is closed
	done chan struct{}
	err  error
}

type readingProducer func(ctx context.Context, deliver func(*interpreter.RawMeterReading)) error

func startReadingFeed(ctx context.Context, layout Layout, produce readingProducer) *ReadingFeed {
	ctx, cancel := context.WithCancel(ctx)
	f := &ReadingFeed{
		layout:   layout,
		readings: make(chan *interpreter.RawMeterReading, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		err := produce(ctx, f.deliver)
		if err == nil {
			err = io.EOF
		}
		f.err = err
		close(f.done)
	}()
	return f
}

func (f *ReadingFeed) deliver(r *interpreter.RawMeterReading) {
	select {
	case f.readings <- r:
	default:
		// Replace the stale reading; this goroutine is the only sender.
		select {
		case <-f.readings:
		default:
		}
		f.readings <- r
	}
}

func (f *ReadingFeed) Next(ctx context.Context) (obis.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.readings:
		return FromRawReading(f.layout, r), nil
	case <-f.done:
		select {
		case r := <-f.readings:
			return FromRawReading(f.layout, r), nil
		default:
			return nil, f.err
		}
	}
}

func (f *ReadingFeed) SelfPaced() bool { return true }

func (f *ReadingFeed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

// OpenP1 reads DSMR telegrams from the smart meter's P1 port.
func OpenP1(ctx context.Context, layout Layout, device string, baudrate uint, logger *slog.Logger) (*ReadingFeed, error) {
	reader := port_reader.NewP1Reader(device, baudrate, logger)
	if err := reader.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return startReadingFeed(ctx, layout, reader.Run), nil
}

// OpenWebsocket follows the live readings of an interpreter API.
func OpenWebsocket(ctx context.Context, layout Layout, host string, logger *slog.Logger) *ReadingFeed {
	return startReadingFeed(ctx, layout, func(ctx context.Context, deliver func(*interpreter.RawMeterReading)) error {
		if err := interpreter.StartListener(ctx, host, logger, deliver); err != nil {
			return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return nil
	})
}
