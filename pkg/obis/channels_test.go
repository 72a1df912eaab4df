package obis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmeterChannelOrder(t *testing.T) {
	channels := EmeterChannels(true)
	require.Len(t, channels, 12+1+1+3*15+1)

	codes := make([]string, 0, 16)
	for _, d := range channels[:16] {
		codes = append(codes, d.Code.String())
	}
	assert.Equal(t, []string{
		"0:1.4.0", "0:1.8.0", "0:2.4.0", "0:2.8.0",
		"0:3.4.0", "0:3.8.0", "0:4.4.0", "0:4.8.0",
		"0:9.4.0", "0:9.8.0", "0:10.4.0", "0:10.8.0",
		"0:13.4.0", "0:14.4.0",
		"0:21.4.0", "0:21.8.0",
	}, codes)

	last := channels[len(channels)-4:]
	assert.Equal(t, "CurrentL3", last[0].Name)
	assert.Equal(t, "VoltageL3", last[1].Name)
	assert.Equal(t, "PowerFactorL3", last[2].Name)
	assert.Equal(t, SoftwareVersionChannel.Code, last[3].Code)
}

func TestEmeterChannelsWithoutFrequency(t *testing.T) {
	channels := EmeterChannels(false)
	for _, d := range channels {
		assert.NotEqual(t, FrequencyChannel.Code, d.Code)
	}
	assert.Equal(t, 568, PayloadWidth(channels))
	assert.Equal(t, 576, PayloadWidth(EmeterChannels(true)))
}

func TestChannelCodesAreUnique(t *testing.T) {
	seen := make(map[Code]string)
	for _, d := range EmeterChannels(true) {
		prev, dup := seen[d.Code]
		assert.False(t, dup, "%s reuses code of %s", d.Name, prev)
		seen[d.Code] = d.Name

		found, ok := Lookup(d.Code)
		assert.True(t, ok)
		assert.Equal(t, d.Name, found.Name)
	}
}

func TestSnapshotMissing(t *testing.T) {
	layout := []Descriptor{PositiveActivePower(Total), VoltageOf(L1), SoftwareVersionChannel}
	snap := NewSnapshot()
	snap.Set(PositiveActivePower(Total), 12.5)
	snap.SetText(SoftwareVersionChannel, "1.00.0.R")

	missing := snap.Missing(layout)
	require.Len(t, missing, 1)
	assert.Equal(t, "VoltageL1", missing[0].Name)

	named := snap.Named(layout)
	assert.Equal(t, 12.5, named["PositiveActivePowerTotal"])
	assert.Equal(t, "1.00.0.R", named["SoftwareVersion"])

	clone := snap.Clone()
	clone.Set(PositiveActivePower(Total), 1)
	assert.Equal(t, 12.5, snap.Number(PositiveActivePower(Total)))
}
