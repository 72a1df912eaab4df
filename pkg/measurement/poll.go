package measurement

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/NotCoffee418/speedwire_emeter/pkg/esmutils"
	"github.com/NotCoffee418/speedwire_emeter/pkg/meterdb"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

type powerReader interface {
	ReadPower(ctx context.Context) (int32, error)
}

// InverterSource reports a solar inverter's output as power fed into the
// grid. It is polled once per cycle.
type InverterSource struct {
	layout   Layout
	inverter powerReader
}

func NewInverterSource(layout Layout, inverter powerReader) *InverterSource {
	return &InverterSource{layout: layout, inverter: inverter}
}

func (s *InverterSource) Next(ctx context.Context) (obis.Snapshot, error) {
	watt, err := s.inverter.ReadPower(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	snap := s.layout.Baseline()
	if watt > 0 {
		snap.Set(obis.NegativeActivePower(obis.Total), float64(watt))
	} else {
		// Night consumption of the inverter itself
		snap.Set(obis.PositiveActivePower(obis.Total), float64(-watt))
	}
	return snap, nil
}

func (s *InverterSource) SelfPaced() bool { return false }

func (s *InverterSource) Close() error { return nil }

// ReplaySource plays back readings recorded in a meter database, one
// recorded timestamp per cycle.
type ReplaySource struct {
	layout Layout
	db     *meterdb.MeterDB
	last   int64
}

func OpenReplay(ctx context.Context, layout Layout, path string) (*ReplaySource, error) {
	db, err := meterdb.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return NewReplaySource(layout, db), nil
}

func NewReplaySource(layout Layout, db *meterdb.MeterDB) *ReplaySource {
	return &ReplaySource{layout: layout, db: db, last: math.MinInt64}
}

func (s *ReplaySource) Next(ctx context.Context) (obis.Snapshot, error) {
	readings, err := s.db.NextLivePowerReadings(ctx, s.last)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if len(readings) == 0 {
		return nil, io.EOF
	}
	s.last = readings[0].Timestamp

	var importW, exportW float64
	for _, r := range readings {
		if r.ReadingType.IsProduction() {
			exportW += float64(r.Watt)
		} else {
			importW += float64(r.Watt)
		}
	}

	snap := s.layout.Baseline()
	snap.Set(obis.PositiveActivePower(obis.Total), importW)
	snap.Set(obis.NegativeActivePower(obis.Total), exportW)

	totals, ok, err := s.db.TotalPowerReadingAt(ctx, s.last)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if ok {
		snap.Set(obis.PositiveActiveEnergy(obis.Total), esmutils.WhToKwh(float64(totals.ImportWh())))
		snap.Set(obis.NegativeActiveEnergy(obis.Total), esmutils.WhToKwh(float64(totals.ExportWh())))
	}
	return snap, nil
}

func (s *ReplaySource) SelfPaced() bool { return false }

func (s *ReplaySource) Close() error { return s.db.Close() }

