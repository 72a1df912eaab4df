package emeter

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

const firmware = "2.03.4.R"

var fixedTime = time.UnixMilli(1700000000123)

func readGolden(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name+".hex"))
	require.NoError(t, err)
	b, err := hex.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
	require.NoError(t, err)
	return b
}

func TestAssembleGolden(t *testing.T) {
	tests := []struct {
		golden  string
		variant speedwire.Variant
	}{
		{"default_600", speedwire.Variant{}},
		{"default_608", speedwire.Variant{IncludeFrequency: true}},
		{"default_610", speedwire.Variant{IncludeFrequency: true, Extended: true}},
	}

	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			a, err := NewAssembler(Options{Variant: tt.variant, Identity: DefaultIdentity})
			require.NoError(t, err)

			snap := DefaultScenario(firmware, tt.variant.IncludeFrequency)
			require.NoError(t, a.Assemble(snap, fixedTime))
			require.NoError(t, a.Verify())

			assert.Equal(t, hex.EncodeToString(readGolden(t, tt.golden)), hex.EncodeToString(a.Bytes()))
		})
	}
}

func TestAssembleScenarioTotalPower(t *testing.T) {
	a, err := NewAssembler(Options{Variant: speedwire.Variant{IncludeFrequency: true}, Identity: DefaultIdentity})
	require.NoError(t, err)
	require.NoError(t, a.Assemble(DefaultScenario(firmware, true), fixedTime))

	p, err := a.Dump()
	require.NoError(t, err)
	require.Len(t, p.Elements, len(obis.EmeterChannels(true)))

	first := p.Elements[0]
	assert.Equal(t, obis.PositiveActivePower(obis.Total).Code, first.Code)
	assert.Equal(t, "1216", first.Raw)

	last := p.Elements[len(p.Elements)-1]
	assert.Equal(t, firmware, last.Text)

	assert.Equal(t, DefaultIdentity, p.Identity)
	assert.Equal(t, fixedTime, p.Time(fixedTime.Add(time.Minute)))
}

func TestAssembleConstantLength(t *testing.T) {
	a, err := NewAssembler(Options{Variant: speedwire.Variant{IncludeFrequency: true}, Identity: DefaultIdentity})
	require.NoError(t, err)

	snap := DefaultScenario(firmware, true)
	now := time.UnixMilli(1<<32 - 500)
	for i := 0; i < 50; i++ {
		snap.Set(obis.PositiveActivePower(obis.L2), float64(i)*123.4)
		snap.Set(obis.PositiveActiveEnergy(obis.Total), 1320.34+float64(i))
		require.NoError(t, a.Assemble(snap, now))
		require.NoError(t, a.Verify())
		assert.Len(t, a.Bytes(), 608)
		now = now.Add(time.Second)
	}
}

func TestAssembleIncompleteSnapshot(t *testing.T) {
	a, err := NewAssembler(Options{Variant: speedwire.Variant{}, Identity: DefaultIdentity})
	require.NoError(t, err)

	snap := DefaultScenario(firmware, false)
	delete(snap, obis.VoltageOf(obis.L3).Code)

	err = a.Assemble(snap, fixedTime)
	assert.ErrorIs(t, err, obis.ErrIncompleteSnapshot)
	assert.ErrorContains(t, err, "VoltageL3")
	assert.ErrorIs(t, a.Verify(), ErrOffsetMismatch)
}

func TestNewAssemblerLayoutMismatch(t *testing.T) {
	_, err := NewAssembler(Options{Variant: speedwire.Variant{IncludeFrequency: true}, Size: 600})
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = NewAssembler(Options{Variant: speedwire.Variant{}, Size: 40})
	assert.ErrorIs(t, err, speedwire.ErrPacketTooSmall)
}

func TestNewAssemblerCustomChannels(t *testing.T) {
	channels := []obis.Descriptor{obis.PositiveActivePower(obis.Total), obis.PositiveActiveEnergy(obis.Total)}
	size := speedwire.HeaderOverhead(1) + 10 + obis.PayloadWidth(channels)

	a, err := NewAssembler(Options{Size: size, Channels: channels, Identity: DefaultIdentity})
	require.NoError(t, err)

	snap := obis.NewSnapshot()
	snap.Set(channels[0], 1.5)
	snap.Set(channels[1], 2)
	require.NoError(t, a.Assemble(snap, fixedTime))
	require.NoError(t, a.Verify())

	p, err := Decode(a.Bytes())
	require.NoError(t, err)
	require.Len(t, p.Elements, 2)
	assert.Equal(t, "1.5", p.Elements[0].Converted)
	assert.Equal(t, "2.0000", p.Elements[1].Converted)
}
