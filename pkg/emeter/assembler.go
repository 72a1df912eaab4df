package emeter

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
	"github.com/NotCoffee418/speedwire_emeter/pkg/speedwire"
)

// Assembler fills one preallocated packet from measurement snapshots.
// It is not safe for concurrent use.
type Assembler struct {
	frame    *speedwire.Frame
	identity Identity
	channels []obis.Descriptor
	cursor   *speedwire.Cursor
}

func NewAssembler(opts Options) (*Assembler, error) {
	size := opts.Size
	if size == 0 {
		size = opts.Variant.DefaultSize()
	}
	channels := opts.Channels
	if channels == nil {
		channels = obis.EmeterChannels(opts.Variant.IncludeFrequency)
	}

	frame, err := speedwire.NewFrame(opts.Variant, size)
	if err != nil {
		return nil, err
	}

	end := frame.PayloadOffset() + opts.Variant.EmeterHeaderSize() + obis.PayloadWidth(channels)
	if end != frame.EndOfPayload() {
		return nil, fmt.Errorf("%w: %d channels end at offset %d, end-of-data tag at %d (packet size %d)",
			ErrLayoutMismatch, len(channels), end, frame.EndOfPayload(), size)
	}

	return &Assembler{
		frame:    frame,
		identity: opts.Identity,
		channels: channels,
	}, nil
}

func (a *Assembler) Channels() []obis.Descriptor { return a.channels }

func (a *Assembler) Variant() speedwire.Variant { return a.frame.Variant() }

// Bytes returns the packet as of the last Assemble. The slice is reused by
// the next Assemble.
func (a *Assembler) Bytes() []byte { return a.frame.Bytes() }

// Assemble writes the meter header and every channel of snap, in layout
// order, into the packet.
func (a *Assembler) Assemble(snap obis.Snapshot, now time.Time) error {
	a.cursor = nil
	if missing := snap.Missing(a.channels); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, d := range missing {
			names[i] = d.Name
		}
		return fmt.Errorf("%w: %s", obis.ErrIncompleteSnapshot, strings.Join(names, ", "))
	}

	c := a.frame.Cursor()
	if err := c.PutUint16(a.identity.SusyID); err != nil {
		return err
	}
	if err := c.PutUint32(a.identity.SerialNumber); err != nil {
		return err
	}
	if err := c.PutUint32(uint32(now.UnixMilli())); err != nil {
		return err
	}
	if a.frame.Variant().Extended {
		if _, err := c.Write([]byte{0, 0}); err != nil {
			return err
		}
	}

	for _, d := range a.channels {
		cell, err := obis.Encode(d, snap[d.Code])
		if err != nil {
			return err
		}
		if _, err := c.Write(cell[:d.Code.WireWidth()]); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	a.cursor = c
	return nil
}

// Verify checks that the last Assemble ended exactly on the end-of-data tag.
func (a *Assembler) Verify() error {
	if a.cursor == nil {
		return fmt.Errorf("%w: no packet assembled", ErrOffsetMismatch)
	}
	if a.cursor.Offset() != a.frame.EndOfPayload() {
		return fmt.Errorf("%w: offset %d, expected %d", ErrOffsetMismatch, a.cursor.Offset(), a.frame.EndOfPayload())
	}
	return nil
}

// Dump decodes the current packet.
func (a *Assembler) Dump() (Packet, error) {
	return Decode(a.frame.Bytes())
}

// Decode reads an emeter packet back into its header and elements.
func Decode(buf []byte) (Packet, error) {
	h, err := speedwire.Parse(buf)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: h}

	offset := speedwire.PayloadOffset
	if len(buf) < offset+h.Variant().EmeterHeaderSize()+4 {
		return p, fmt.Errorf("%w: no room for the meter header", speedwire.ErrPacketTooSmall)
	}
	p.Identity.SusyID = binary.BigEndian.Uint16(buf[offset:])
	p.Identity.SerialNumber = binary.BigEndian.Uint32(buf[offset+2:])
	p.Timestamp = binary.BigEndian.Uint32(buf[offset+6:])
	offset += h.Variant().EmeterHeaderSize()

	end := len(buf) - 4
	for offset < end {
		e, n, err := obis.ReadElement(buf[offset:end])
		if err != nil {
			return p, fmt.Errorf("element at offset %d: %w", offset, err)
		}
		p.Elements = append(p.Elements, e)
		offset += n
	}
	return p, nil
}
