package measurement

import (
	"context"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

// StaticSource returns the same snapshot on every call.
type StaticSource struct {
	snap obis.Snapshot
}

func NewStaticSource(snap obis.Snapshot) *StaticSource {
	return &StaticSource{snap: snap.Clone()}
}

func (s *StaticSource) Next(ctx context.Context) (obis.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snap, nil
}

func (s *StaticSource) SelfPaced() bool { return false }

func (s *StaticSource) Close() error { return nil }
