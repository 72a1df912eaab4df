package transport

import (
	"errors"
	"log/slog"
	"net"
)

var (
	ErrUnknownStrategy = errors.New("unknown transport strategy")
	ErrNotMulticast    = errors.New("multicast strategy needs a multicast destination")
	ErrPeerUnreachable = errors.New("destination did not answer ping")
	ErrFactoryClosed   = errors.New("transport closed")
)

// Socket sends datagrams to the configured destination from one local
// address.
type Socket interface {
	Send(buf []byte) (int, error)
}

type Options struct {
	// config.StrategyUnicast or config.StrategyMulticast
	Strategy     string
	Destination  *net.UDPAddr
	MulticastTTL int
	Logger       *slog.Logger
}
