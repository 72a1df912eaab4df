package speedwire

import (
	"errors"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

const (
	MulticastGroup = "239.12.255.254"
	Port           = 9522

	ProtocolEmeter         uint16 = 0x6069
	ProtocolExtendedEmeter uint16 = 0x6081

	tag0ID     uint16 = 0x02a0
	tagDataID  uint16 = 0x0010
	groupID    uint32 = 1
	tagHeader         = 4
	protocolID        = 2

	signatureSize = 4
	tag0Size      = 8
	endTagSize    = 4

	// PayloadOffset is where the protocol payload starts for a single data tag.
	PayloadOffset = signatureSize + tag0Size + tagHeader + protocolID

	// The data tag length counts the protocol id and payload only.
	dataLengthExclusion = signatureSize + tag0Size + tagHeader + endTagSize
)

var Signature = [signatureSize]byte{'S', 'M', 'A', 0}

var (
	ErrPacketTooSmall    = errors.New("packet size too small for speedwire framing")
	ErrCursorOverrun     = errors.New("write past end of payload")
	ErrInvalidSignature  = errors.New("missing SMA signature")
	ErrInvalidTag        = errors.New("unexpected speedwire tag")
	ErrExtendedFrequency = errors.New("extended header requires the frequency channel")
)

// Variant selects between the packet layouts a real meter emits.
type Variant struct {
	IncludeFrequency bool
	Extended         bool
}

func (v Variant) ProtocolID() uint16 {
	if v.Extended {
		return ProtocolExtendedEmeter
	}
	return ProtocolEmeter
}

// EmeterHeaderSize covers susy id, serial number and timestamp. The
// extended header carries two extra reserved bytes.
func (v Variant) EmeterHeaderSize() int {
	if v.Extended {
		return 12
	}
	return 10
}

// DefaultSize is the packet size that fits the standard channel layout.
func (v Variant) DefaultSize() int {
	channels := obis.PayloadWidth(obis.EmeterChannels(v.IncludeFrequency))
	return HeaderOverhead(1) + v.EmeterHeaderSize() + channels
}

func (v Variant) Validate() error {
	if v.Extended && !v.IncludeFrequency {
		return ErrExtendedFrequency
	}
	return nil
}

// HeaderOverhead is the framing cost of a packet carrying the given number
// of data tags.
func HeaderOverhead(tags int) int {
	return signatureSize + tag0Size + tags*(tagHeader+protocolID) + endTagSize
}

// MinimumSize is the smallest packet that carries the emeter header and
// one full element.
func (v Variant) MinimumSize() int {
	return HeaderOverhead(1) + v.EmeterHeaderSize() + obis.CellSize
}

// Header is the framing information read back from a packet.
type Header struct {
	Group      uint32
	DataLength uint16
	ProtocolID uint16
	Size       int
}

func (h Header) Variant() Variant {
	return Variant{Extended: h.ProtocolID == ProtocolExtendedEmeter}
}
