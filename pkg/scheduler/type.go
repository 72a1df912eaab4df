package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/localhost"
	"github.com/NotCoffee418/speedwire_emeter/pkg/measurement"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/transport"
)

// ErrCycleSkipped marks a cycle that sent nothing but does not stop the loop.
var ErrCycleSkipped = errors.New("cycle skipped")

const DefaultInterval = time.Second

// Sockets opens the per address sockets. *transport.Factory satisfies it.
type Sockets interface {
	Socket(addr localhost.Address) (transport.Socket, error)
	Discard(addr localhost.Address)
}

// Observer is told about the outcome of every cycle.
type Observer interface {
	CycleDone(r Report)
}

// Report summarises one cycle. Snapshot is nil for skipped cycles.
type Report struct {
	At       time.Time
	Snapshot obis.Snapshot
	Sent     int
	Failed   int
	Skipped  error
	Duration time.Duration
}

type Options struct {
	Assembler *emeter.Assembler
	Source    measurement.Source
	Addresses localhost.Lister
	Sockets   Sockets
	// 0 uses DefaultInterval
	Interval time.Duration
	Logger   *slog.Logger
	Observer Observer
	// nil uses time.Now
	Now func() time.Time
}
