package speedwire

import (
	"encoding/binary"
	"fmt"
)

// Frame is a fixed size packet buffer with the framing already in place.
// Only the payload region changes between cycles.
type Frame struct {
	variant Variant
	buf     []byte
}

// NewFrame allocates a packet of the given size and writes the signature,
// tag chain and end-of-data tag.
func NewFrame(v Variant, size int) (*Frame, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if size < v.MinimumSize() {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrPacketTooSmall, size, v.MinimumSize())
	}
	if size-dataLengthExclusion > 0xffff {
		return nil, fmt.Errorf("%w: %d bytes exceeds the data tag length field", ErrPacketTooSmall, size)
	}

	buf := make([]byte, size)
	copy(buf, Signature[:])
	binary.BigEndian.PutUint16(buf[4:], tagHeader)
	binary.BigEndian.PutUint16(buf[6:], tag0ID)
	binary.BigEndian.PutUint32(buf[8:], groupID)
	binary.BigEndian.PutUint16(buf[12:], uint16(size-dataLengthExclusion))
	binary.BigEndian.PutUint16(buf[14:], tagDataID)
	binary.BigEndian.PutUint16(buf[16:], v.ProtocolID())
	// end-of-data tag is the zero value

	return &Frame{variant: v, buf: buf}, nil
}

func (f *Frame) Variant() Variant { return f.variant }

// Bytes exposes the packet buffer. Callers must not modify it.
func (f *Frame) Bytes() []byte { return f.buf }

func (f *Frame) Len() int { return len(f.buf) }

func (f *Frame) PayloadOffset() int { return PayloadOffset }

func (f *Frame) EndOfPayload() int { return len(f.buf) - endTagSize }

// Cursor returns a fresh cursor over the payload region.
func (f *Frame) Cursor() *Cursor {
	return &Cursor{buf: f.buf[:f.EndOfPayload()], offset: PayloadOffset}
}

// Cursor writes sequentially into the payload and refuses to cross the
// end-of-data tag.
type Cursor struct {
	buf    []byte
	offset int
}

func (c *Cursor) Offset() int { return c.offset }

func (c *Cursor) Remaining() int { return len(c.buf) - c.offset }

func (c *Cursor) reserve(n int) ([]byte, error) {
	if n > c.Remaining() {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, %d remaining", ErrCursorOverrun, n, c.offset, c.Remaining())
	}
	b := c.buf[c.offset : c.offset+n]
	c.offset += n
	return b, nil
}

func (c *Cursor) PutUint16(v uint16) error {
	b, err := c.reserve(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (c *Cursor) PutUint32(v uint32) error {
	b, err := c.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (c *Cursor) Write(p []byte) (int, error) {
	b, err := c.reserve(len(p))
	if err != nil {
		return 0, err
	}
	return copy(b, p), nil
}

// Parse checks the framing of a packet and returns its header fields.
func Parse(buf []byte) (Header, error) {
	if len(buf) < PayloadOffset+endTagSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPacketTooSmall, len(buf))
	}
	if [signatureSize]byte(buf[:signatureSize]) != Signature {
		return Header{}, ErrInvalidSignature
	}
	if l, id := binary.BigEndian.Uint16(buf[4:]), binary.BigEndian.Uint16(buf[6:]); l != tagHeader || id != tag0ID {
		return Header{}, fmt.Errorf("%w: tag0 length %d id %#04x", ErrInvalidTag, l, id)
	}

	h := Header{
		Group:      binary.BigEndian.Uint32(buf[8:]),
		DataLength: binary.BigEndian.Uint16(buf[12:]),
		ProtocolID: binary.BigEndian.Uint16(buf[16:]),
		Size:       len(buf),
	}
	if id := binary.BigEndian.Uint16(buf[14:]); id != tagDataID {
		return h, fmt.Errorf("%w: data tag id %#04x", ErrInvalidTag, id)
	}
	if int(h.DataLength) != len(buf)-dataLengthExclusion {
		return h, fmt.Errorf("%w: data length %d does not match packet size %d", ErrInvalidTag, h.DataLength, len(buf))
	}
	if h.ProtocolID != ProtocolEmeter && h.ProtocolID != ProtocolExtendedEmeter {
		return h, fmt.Errorf("%w: protocol id %#04x", ErrInvalidTag, h.ProtocolID)
	}
	if binary.BigEndian.Uint32(buf[len(buf)-endTagSize:]) != 0 {
		return h, fmt.Errorf("%w: missing end-of-data tag", ErrInvalidTag)
	}
	return h, nil
}
