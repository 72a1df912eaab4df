// Package measurement produces the snapshots the emeter packet is built from.
package measurement

import (
	"context"
	"errors"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

var (
	ErrMalformedLine     = errors.New("malformed measurement line")
	ErrSourceUnavailable = errors.New("measurement source unavailable")
	ErrUnsupportedSource = errors.New("unsupported measurement source")
)

const (
	// Live feeds carry no power factor; a purely resistive load is assumed.
	DefaultPowerFactor = 1.0
	NominalFrequency   = 50.0
)

// Source yields one snapshot per transmission cycle.
type Source interface {
	// Next blocks until a snapshot is available. It returns io.EOF once the
	// input is exhausted and an error wrapping ErrMalformedLine for input
	// that was rejected; the caller may keep calling Next after the latter.
	Next(ctx context.Context) (obis.Snapshot, error)
	// SelfPaced is true when Next already waits for new data, so the caller
	// must not add its own delay.
	SelfPaced() bool
	Close() error
}

// Layout describes the snapshots a source has to produce.
type Layout struct {
	Channels         []obis.Descriptor
	Firmware         string
	IncludeFrequency bool
}

func NewLayout(firmware string, includeFrequency bool) Layout {
	return Layout{
		Channels:         obis.EmeterChannels(includeFrequency),
		Firmware:         firmware,
		IncludeFrequency: includeFrequency,
	}
}

// Baseline is a complete snapshot for a meter that measures nothing: every
// numeric channel zero except power factor and frequency.
func (l Layout) Baseline() obis.Snapshot {
	snap := obis.NewSnapshot()
	for _, d := range l.Channels {
		switch {
		case d.Kind == obis.Text:
			snap.SetText(d, l.Firmware)
		case d.Quantity == obis.PowerFactor:
			snap.Set(d, DefaultPowerFactor)
		case d.Quantity == obis.Frequency:
			snap.Set(d, NominalFrequency)
		default:
			snap.Set(d, 0)
		}
	}
	return snap
}
