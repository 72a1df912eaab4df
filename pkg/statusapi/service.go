// Package statusapi serves the emulator's latest packet and metrics over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/scheduler"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only data, any dashboard may connect
	},
}

type Server struct {
	channels []obis.Descriptor
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	packetsSent   prometheus.Counter
	sendFailures  prometheus.Counter
	skippedCycles prometheus.Counter
	cycleDuration prometheus.Histogram

	// writeTimeout bounds one websocket write; a client that stalls past it
	// is dropped.
	writeTimeout time.Duration

	mu      sync.RWMutex
	latest  *Status
	clients map[*client]struct{}
}

// New registers the emulator metrics on reg. channels names the values in
// the status documents.
func New(channels []obis.Descriptor, reg *prometheus.Registry, logger *slog.Logger) *Server {
	factory := promauto.With(reg)
	return &Server{
		channels: channels,
		logger:   logger,
		gatherer: reg,
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire_emeter",
			Name:      "packets_sent_total",
			Help:      "Emeter packets sent, counted per interface.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire_emeter",
			Name:      "send_failures_total",
			Help:      "Failed or short packet sends, counted per interface.",
		}),
		skippedCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "speedwire_emeter",
			Name:      "skipped_cycles_total",
			Help:      "Cycles without a packet, mostly rejected input lines.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "speedwire_emeter",
			Name:      "cycle_duration_seconds",
			Help:      "Time from reading a snapshot to the last send.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*client]struct{}),
	}
}

// CycleDone records a scheduler cycle and queues it for websocket clients.
// It does not wait on any client.
func (s *Server) CycleDone(r scheduler.Report) {
	s.cycleDuration.Observe(r.Duration.Seconds())
	if r.Skipped != nil {
		s.skippedCycles.Inc()
		return
	}
	s.packetsSent.Add(float64(r.Sent))
	s.sendFailures.Add(float64(r.Failed))

	status := &Status{
		Timestamp: r.At.UnixMilli(),
		Sent:      r.Sent,
		Failed:    r.Failed,
		Channels:  r.Snapshot.Named(s.channels),
	}
	s.mu.Lock()
	s.latest = status
	s.mu.Unlock()

	s.broadcast(status.ToJsonBytes())
}

func (s *Server) Latest() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Speedwire Emeter Emulator",
			"status":  "running",
		})
	})
	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		latest := s.Latest()
		if latest == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "No packet sent yet",
			})
			return
		}
		writeJSON(w, http.StatusOK, latest)
	})
	mux.HandleFunc("GET /ws", s.serveWebsocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeClients()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.writeTimeout)
	go c.writeLoop()
	s.addClient(c)
	defer s.removeClient(c)

	// Reads only detect the close, which includes a failed write.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !c.enqueue(msg) {
			s.logger.Debug("websocket client behind, dropping status", "remote", c.conn.RemoteAddr().String())
		}
	}
}

// addClient registers c and queues the latest status for it.
func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if s.latest != nil {
		c.enqueue(s.latest.ToJsonBytes())
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
