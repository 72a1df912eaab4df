package emeter

import (
	"errors"
	"time"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

var (
	ErrLayoutMismatch = errors.New("channel layout does not fill the packet")
	ErrOffsetMismatch = errors.New("payload did not end at the end-of-data tag")
)

// Identity is how the emulated meter identifies itself to consumers.
type Identity struct {
	SusyID       uint16
	SerialNumber uint32
}

type Options struct {
	Variant speedwire.Variant
	// Size of the packet in bytes, 0 for the variant's default.
	Size     int
	Identity Identity
	// Channels defaults to the standard emeter layout for the variant.
	Channels []obis.Descriptor
}

// Packet is an emitted packet read back into its parts.
type Packet struct {
	Header    speedwire.Header
	Identity  Identity
	Timestamp uint32
	Elements  []obis.Element
}

// Time interprets the wrapped millisecond timestamp relative to ref.
func (p Packet) Time(ref time.Time) time.Time {
	base := ref.UnixMilli() &^ 0xffffffff
	ms := base | int64(p.Timestamp)
	if ms > ref.UnixMilli() {
		ms -= 1 << 32
	}
	return time.UnixMilli(ms)
}
