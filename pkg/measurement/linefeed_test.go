package measurement

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

var testLayout = NewLayout("2.03.4.R", true)

func TestParseLine(t *testing.T) {
	snap, err := ParseLine(testLayout, "100.0,0.0,50000,0,230.1,229.8,230.5,1.5,1.2,1.3,")
	require.NoError(t, err)

	assert.Equal(t, 100.0, snap.Number(obis.PositiveActivePower(obis.Total)))
	assert.Equal(t, 50.0, snap.Number(obis.PositiveActiveEnergy(obis.Total)))
	assert.Equal(t, 230.1, snap.Number(obis.VoltageOf(obis.L1)))
	assert.Equal(t, 230.5, snap.Number(obis.VoltageOf(obis.L3)))
	assert.Equal(t, 1.2, snap.Number(obis.CurrentOf(obis.L2)))

	assert.Equal(t, 0.0, snap.Number(obis.PositiveReactivePower(obis.Total)))
	assert.Equal(t, 0.0, snap.Number(obis.PositiveActivePower(obis.L1)))
	assert.Equal(t, DefaultPowerFactor, snap.Number(obis.PowerFactorOf(obis.L2)))
	assert.Equal(t, NominalFrequency, snap.Number(obis.FrequencyChannel))
	assert.Equal(t, "2.03.4.R", snap.Text(obis.SoftwareVersionChannel))
	assert.Empty(t, snap.Missing(testLayout.Channels))
}

func TestParseLineWithoutTrailingComma(t *testing.T) {
	snap, err := ParseLine(testLayout, " 1, 2, 3000, 4000, 230, 231, 232, 0.1, 0.2, 0.3\r\n")
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Number(obis.NegativeActivePower(obis.Total)))
	assert.Equal(t, 4.0, snap.Number(obis.NegativeActiveEnergy(obis.Total)))
}

func TestParseLineRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "100.0,0.0,50000,0,230.1"},
		{"too many fields", "1,2,3,4,5,6,7,8,9,10,11"},
		{"two trailing commas", "1,2,3,4,5,6,7,8,9,10,,"},
		{"not a number", "1,2,3,4,five,6,7,8,9,10"},
		{"empty field", "1,2,3,4,,6,7,8,9,10"},
		{"nan", "1,2,3,4,NaN,6,7,8,9,10"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseLine(testLayout, tt.line)
			assert.ErrorIs(t, err, ErrMalformedLine)
			assert.Nil(t, snap)
		})
	}
}

func TestLineFeedDoesNotCarryOverValues(t *testing.T) {
	input := strings.Join([]string{
		"500,0,1000,0,240,240,240,2,2,2",
		"100.0,0.0,50000",
		"",
		"0,0,0,0,0,0,0,0,0,0,",
	}, "\n")
	feed := NewLineFeed(testLayout, strings.NewReader(input), nil)
	defer feed.Close()
	ctx := context.Background()

	first, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 240.0, first.Number(obis.VoltageOf(obis.L1)))

	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, ErrMalformedLine)

	third, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, third.Number(obis.VoltageOf(obis.L1)))
	assert.Equal(t, 0.0, third.Number(obis.PositiveActivePower(obis.Total)))
	assert.Equal(t, 240.0, first.Number(obis.VoltageOf(obis.L1)))

	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, feed.SelfPaced())
}

func TestLineFeedRespectsContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	feed := NewLineFeed(testLayout, r, r)
	defer feed.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := feed.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenCSVMissingFile(t *testing.T) {
	_, err := OpenCSV(testLayout, "/nonexistent/feed.csv")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestLineFeedOfferDropsWhenFull(t *testing.T) {
	feed := newLineFeed(testLayout, nil)
	for i := 0; i < cap(feed.lines); i++ {
		require.True(t, feed.offer("1,2,3,4,5,6,7,8,9,10"))
	}
	assert.False(t, feed.offer("1,2,3,4,5,6,7,8,9,10"))
}

func TestLineFeedSkipsOverlongLine(t *testing.T) {
	input := strings.Repeat("9", 70*1024) + "\n1,2,3,4,5,6,7,8,9,10\n"
	feed := NewLineFeed(testLayout, strings.NewReader(input), nil)
	defer feed.Close()
	ctx := context.Background()

	_, err := feed.Next(ctx)
	require.ErrorIs(t, err, ErrMalformedLine)

	snap, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, snap.Number(obis.VoltageOf(obis.L3)))

	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineFeedOverlongLastLine(t *testing.T) {
	feed := NewLineFeed(testLayout, strings.NewReader("1,2,3,4,5,6,7,8,9,10\n"+strings.Repeat("x", MaxLineLength+1)), nil)
	defer feed.Close()
	ctx := context.Background()

	_, err := feed.Next(ctx)
	require.NoError(t, err)
	_, err = feed.Next(ctx)
	require.ErrorIs(t, err, ErrMalformedLine)
	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
