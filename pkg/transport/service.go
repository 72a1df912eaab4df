// Package transport owns the UDP sockets the emeter packet leaves through.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/net/ipv4"

	"github.com/NotCoffee418/speedwire_emeter/pkg/config"
	"github.com/NotCoffee418/speedwire_emeter/pkg/localhost"
)

var pingTimeout = 2 * time.Second

// Factory hands out one socket per local address and keeps it open across
// cycles.
type Factory struct {
	strategy string
	dst      *net.UDPAddr
	ttl      int
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	shared  *ipv4.PacketConn
	sockets map[string]Socket
	closers map[string]func() error
}

func NewFactory(opts Options) (*Factory, error) {
	if opts.Destination == nil {
		return nil, errors.New("no destination address")
	}
	switch opts.Strategy {
	case config.StrategyUnicast:
	case config.StrategyMulticast:
		if !opts.Destination.IP.IsMulticast() {
			return nil, fmt.Errorf("%w: %s", ErrNotMulticast, opts.Destination)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, opts.Strategy)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.MulticastTTL
	if ttl <= 0 {
		ttl = 1
	}
	return &Factory{
		strategy: opts.Strategy,
		dst:      opts.Destination,
		ttl:      ttl,
		logger:   logger.With("strategy", opts.Strategy, "destination", opts.Destination.String()),
		sockets:  make(map[string]Socket),
		closers:  make(map[string]func() error),
	}, nil
}

func (f *Factory) Destination() *net.UDPAddr { return f.dst }

// Socket returns the cached socket for addr, opening it on first use.
func (f *Factory) Socket(addr localhost.Address) (Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFactoryClosed
	}

	key := addr.String()
	if s, ok := f.sockets[key]; ok {
		return s, nil
	}

	var (
		s       Socket
		closeFn func() error
		err     error
	)
	if f.strategy == config.StrategyMulticast {
		s, err = f.multicastSocket(addr)
		closeFn = func() error { return nil }
	} else {
		s, closeFn, err = f.unicastSocket(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("open socket on %s: %w", key, err)
	}

	f.logger.Debug("opened socket", "address", key)
	f.sockets[key] = s
	f.closers[key] = closeFn
	return s, nil
}

// Discard closes the socket of addr so the next Socket call opens a new one.
func (f *Factory) Discard(addr localhost.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := addr.String()
	if closeFn, ok := f.closers[key]; ok {
		if err := closeFn(); err != nil {
			f.logger.Debug("close socket", "address", key, "error", err)
		}
	}
	delete(f.sockets, key)
	delete(f.closers, key)
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for key, closeFn := range f.closers {
		errs = append(errs, closeFn())
		delete(f.closers, key)
		delete(f.sockets, key)
	}
	if f.shared != nil {
		errs = append(errs, f.shared.Close())
		f.shared = nil
	}
	return errors.Join(errs...)
}

// CheckPeer pings a unicast destination. Multicast groups are not checked.
func (f *Factory) CheckPeer() error {
	if f.dst.IP.IsMulticast() {
		return nil
	}

	pinger, err := probing.NewPinger(f.dst.IP.String())
	if err != nil {
		return err
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return fmt.Errorf("%w: %w", ErrPeerUnreachable, err)
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("%w: %s", ErrPeerUnreachable, f.dst.IP)
	}
	return nil
}

// multicastSocket shares a single unbound socket and selects the outgoing
// interface before every write.
func (f *Factory) multicastSocket(addr localhost.Address) (Socket, error) {
	if f.shared == nil {
		conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
		if err != nil {
			return nil, err
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(f.ttl); err != nil {
			pc.Close()
			return nil, err
		}
		// Local listeners on this host should see our packets too.
		if err := pc.SetMulticastLoopback(true); err != nil {
			pc.Close()
			return nil, err
		}
		f.shared = pc
	}
	iface := addr.Interface
	return &multicastSocket{pc: f.shared, iface: &iface, dst: f.dst}, nil
}

type multicastSocket struct {
	pc    *ipv4.PacketConn
	iface *net.Interface
	dst   *net.UDPAddr
}

func (s *multicastSocket) Send(buf []byte) (int, error) {
	if err := s.pc.SetMulticastInterface(s.iface); err != nil {
		return 0, err
	}
	return s.pc.WriteTo(buf, nil, s.dst)
}

// unicastSocket binds to the local address and sends from there. For a
// group destination the interface is pinned as well.
func (f *Factory) unicastSocket(addr localhost.Address) (Socket, func() error, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: addr.IP})
	if err != nil {
		return nil, nil, err
	}
	if f.dst.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		iface := addr.Interface
		if err := pc.SetMulticastInterface(&iface); err != nil {
			conn.Close()
			return nil, nil, err
		}
		if err := pc.SetMulticastTTL(f.ttl); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}
	return &unicastSocket{conn: conn, dst: f.dst}, conn.Close, nil
}

type unicastSocket struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

func (s *unicastSocket) Send(buf []byte) (int, error) {
	return s.conn.WriteToUDP(buf, s.dst)
}
