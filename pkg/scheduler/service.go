// Package scheduler runs the transmission loop: read a snapshot, assemble
// the packet and send it out on every local address.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/localhost"
	"github.com/NotCoffee418/speedwire_emeter/pkg/measurement"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

type Scheduler struct {
	assembler *emeter.Assembler
	source    measurement.Source
	addresses localhost.Lister
	sockets   Sockets
	interval  time.Duration
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time

	cycles uint64
}

func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Assembler == nil:
		return nil, errors.New("scheduler: no assembler")
	case opts.Source == nil:
		return nil, errors.New("scheduler: no measurement source")
	case opts.Addresses == nil:
		return nil, errors.New("scheduler: no address lister")
	case opts.Sockets == nil:
		return nil, errors.New("scheduler: no socket factory")
	}

	s := &Scheduler{
		assembler: opts.Assembler,
		source:    opts.Source,
		addresses: opts.Addresses,
		sockets:   opts.Sockets,
		interval:  opts.Interval,
		logger:    opts.Logger,
		observer:  opts.Observer,
		now:       opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run repeats Cycle until ctx is cancelled, the source is exhausted, or a
// cycle fails in a way that would corrupt the packet. Only the latter is
// returned as an error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("transmission loop started",
		"interval", s.interval,
		"self_paced", s.source.SelfPaced(),
		"packet_size", len(s.assembler.Bytes()))

	for {
		err := s.Cycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCycleSkipped):
			s.logger.Warn("skipping cycle", "error", err)
		case errors.Is(err, io.EOF):
			s.logger.Info("measurement source exhausted", "cycles", s.cycles)
			return nil
		case ctx.Err() != nil:
			s.logger.Info("transmission loop stopped", "cycles", s.cycles)
			return nil
		default:
			s.logger.Error("transmission loop aborted", "error", err)
			return err
		}

		if s.source.SelfPaced() && !errors.Is(err, measurement.ErrSourceUnavailable) {
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Info("transmission loop stopped", "cycles", s.cycles)
			return nil
		case <-time.After(s.interval):
		}
	}
}

// Cycle reads one snapshot and sends one packet. Recoverable problems are
// returned wrapped in ErrCycleSkipped; send failures on single interfaces
// are only logged.
func (s *Scheduler) Cycle(ctx context.Context) error {
	started := time.Now()

	snap, err := s.source.Next(ctx)
	if err != nil {
		if recoverable(err) {
			return s.skip(started, err)
		}
		return err
	}

	at := s.now()
	if err := s.assembler.Assemble(snap, at); err != nil {
		if errors.Is(err, obis.ErrValueOutOfRange) {
			return s.skip(started, err)
		}
		return fmt.Errorf("assemble: %w", err)
	}
	if err := s.assembler.Verify(); err != nil {
		return err
	}

	addrs, err := s.addresses.Addresses()
	if err != nil {
		return s.skip(started, err)
	}

	packet := s.assembler.Bytes()
	report := Report{At: at, Snapshot: snap}
	for _, addr := range addrs {
		if err := s.send(addr, packet); err != nil {
			report.Failed++
			s.logger.Warn("send failed", "address", addr.String(), "error", err)
			continue
		}
		report.Sent++
	}
	s.cycles++
	s.logger.Debug("packet sent", "cycle", s.cycles, "interfaces", report.Sent, "failed", report.Failed)

	report.Duration = time.Since(started)
	s.observe(report)
	return nil
}

func (s *Scheduler) send(addr localhost.Address, packet []byte) error {
	sock, err := s.sockets.Socket(addr)
	if err != nil {
		return err
	}
	n, err := sock.Send(packet)
	if err != nil {
		s.sockets.Discard(addr)
		return err
	}
	if n != len(packet) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(packet))
	}
	return nil
}

func (s *Scheduler) skip(started time.Time, err error) error {
	s.observe(Report{At: s.now(), Skipped: err, Duration: time.Since(started)})
	return fmt.Errorf("%w: %w", ErrCycleSkipped, err)
}

func (s *Scheduler) observe(r Report) {
	if s.observer != nil {
		s.observer.CycleDone(r)
	}
}

func recoverable(err error) bool {
	return errors.Is(err, measurement.ErrMalformedLine) ||
		errors.Is(err, measurement.ErrSourceUnavailable) ||
		errors.Is(err, obis.ErrValueOutOfRange)
}
