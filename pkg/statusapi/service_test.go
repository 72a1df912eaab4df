package statusapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/speedwire_emeter/pkg/emeter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/measurement"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/scheduler"
)

var channels = obis.EmeterChannels(true)

func newTestServer(t *testing.T, opts ...func(s *Server)) (*Server, *httptest.Server) {
	t.Helper()
	s := New(channels, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(s)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func sentReport(at int64) scheduler.Report {
	return scheduler.Report{
		At:       time.UnixMilli(at),
		Snapshot: emeter.DefaultScenario("2.03.4.R", true),
		Sent:     2,
		Failed:   1,
		Duration: 3 * time.Millisecond,
	}
}

func TestInfo(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestLatest(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.CycleDone(sentReport(1700000000123))

	resp, err = http.Get(ts.URL + "/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(1700000000123), got.Timestamp)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 121.6, got.Channels[obis.PositiveActivePower(obis.Total).Name])
	assert.Equal(t, "2.03.4.R", got.Channels[obis.SoftwareVersionChannel.Name])
	assert.Len(t, got.Channels, len(channels))
}

func TestMetrics(t *testing.T) {
	s, ts := newTestServer(t)

	s.CycleDone(sentReport(1))
	s.CycleDone(sentReport(2))
	s.CycleDone(scheduler.Report{Skipped: measurement.ErrMalformedLine})

	assert.Equal(t, 4.0, testutil.ToFloat64(s.packetsSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.sendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.skippedCycles))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "speedwire_emeter_packets_sent_total 4")
	assert.Contains(t, string(body), "speedwire_emeter_cycle_duration_seconds_count 3")
}

func TestSkippedCycleKeepsLatest(t *testing.T) {
	s, _ := newTestServer(t)
	s.CycleDone(sentReport(5))
	s.CycleDone(scheduler.Report{Skipped: errors.New("no interfaces")})
	require.NotNil(t, s.Latest())
	assert.Equal(t, int64(5), s.Latest().Timestamp)
}

func TestWebsocketPushesCycles(t *testing.T) {
	s, ts := newTestServer(t)
	s.CycleDone(sentReport(10))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first Status
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(10), first.Timestamp)

	s.CycleDone(sentReport(11))
	var second Status
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, int64(11), second.Timestamp)
}

func dialStatus(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStalledClientDoesNotBlockCycles(t *testing.T) {
	s, ts := newTestServer(t)
	dialStatus(t, ts) // never read
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			s.CycleDone(sentReport(int64(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CycleDone blocked on a websocket client that does not read")
	}
	assert.Equal(t, int64(1999), s.Latest().Timestamp)
}

func TestStalledClientIsDropped(t *testing.T) {
	s, ts := newTestServer(t, func(s *Server) { s.writeTimeout = 50 * time.Millisecond })
	dialStatus(t, ts) // never read
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	var at int64
	assert.Eventually(t, func() bool {
		// Keep the queue full until the socket buffers fill and a write
		// times out.
		for i := 0; i < 200; i++ {
			at++
			s.CycleDone(sentReport(at))
		}
		return s.clientCount() == 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestWebsocketClientsAreIndependent(t *testing.T) {
	s, ts := newTestServer(t)
	dialStatus(t, ts) // never read
	reader := dialStatus(t, ts)
	require.Eventually(t, func() bool { return s.clientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 100; i++ {
		s.CycleDone(sentReport(int64(i)))
	}
	require.NoError(t, reader.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Status
	require.NoError(t, reader.ReadJSON(&got))
	assert.Equal(t, 2, got.Sent)
}
