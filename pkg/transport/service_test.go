package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/NotCoffee418/speedwire_emeter/pkg/config"
	"github.com/NotCoffee418/speedwire_emeter/pkg/localhost"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

var group = &net.UDPAddr{IP: net.ParseIP(speedwire.MulticastGroup), Port: speedwire.Port}

func loopback(t *testing.T) localhost.Address {
	t.Helper()
	lo, err := localhost.Loopback()
	if err != nil {
		t.Skip("no loopback interface")
	}
	return lo
}

func TestNewFactoryRejects(t *testing.T) {
	_, err := NewFactory(Options{Strategy: "carrier-pigeon", Destination: group})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = NewFactory(Options{
		Strategy:    config.StrategyMulticast,
		Destination: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: speedwire.Port},
	})
	assert.ErrorIs(t, err, ErrNotMulticast)

	_, err = NewFactory(Options{Strategy: config.StrategyUnicast})
	assert.Error(t, err)
}

func TestUnicastDelivers(t *testing.T) {
	lo := loopback(t)
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: lo.IP})
	require.NoError(t, err)
	defer listener.Close()

	f, err := NewFactory(Options{
		Strategy:    config.StrategyUnicast,
		Destination: listener.LocalAddr().(*net.UDPAddr),
	})
	require.NoError(t, err)
	defer f.Close()

	s, err := f.Socket(lo)
	require.NoError(t, err)
	again, err := f.Socket(lo)
	require.NoError(t, err)
	assert.Same(t, s, again)

	payload := []byte("SMA\x00 emeter")
	n, err := s.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, from, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
	assert.True(t, from.IP.Equal(lo.IP))
}

func TestDiscardReopens(t *testing.T) {
	lo := loopback(t)
	f, err := NewFactory(Options{
		Strategy:    config.StrategyUnicast,
		Destination: &net.UDPAddr{IP: lo.IP, Port: speedwire.Port},
	})
	require.NoError(t, err)
	defer f.Close()

	first, err := f.Socket(lo)
	require.NoError(t, err)
	f.Discard(lo)
	second, err := f.Socket(lo)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestClosedFactory(t *testing.T) {
	f, err := NewFactory(Options{Strategy: config.StrategyMulticast, Destination: group})
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.Socket(loopback(t))
	assert.ErrorIs(t, err, ErrFactoryClosed)
}

func TestMulticastSend(t *testing.T) {
	iface, err := nettest.RoutedInterface("ip4", net.FlagUp|net.FlagMulticast)
	if err != nil {
		t.Skip("no multicast capable interface")
	}

	f, err := NewFactory(Options{Strategy: config.StrategyMulticast, Destination: group, MulticastTTL: 1})
	require.NoError(t, err)
	defer f.Close()

	s, err := f.Socket(localhost.Address{Interface: *iface, IP: net.IPv4zero})
	require.NoError(t, err)

	payload := make([]byte, 600)
	n, err := s.Send(payload)
	if err != nil {
		t.Skipf("multicast not routable here: %v", err)
	}
	assert.Equal(t, len(payload), n)
}

func TestCheckPeerSkipsGroups(t *testing.T) {
	f, err := NewFactory(Options{Strategy: config.StrategyUnicast, Destination: group})
	require.NoError(t, err)
	assert.NoError(t, f.CheckPeer())
}
