package obis

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the OBIS identifier that prefixes every element.
	HeaderSize = 4
	// CellSize is the widest element: identifier plus an 8 byte counter.
	CellSize = 12

	TypeVersion uint8 = 0
	TypeActual  uint8 = 4
	TypeCounter uint8 = 8

	ChannelDefault uint8 = 0
	ChannelVersion uint8 = 144
)

var (
	ErrValueOutOfRange    = errors.New("value out of range for obis element")
	ErrTextTooLong        = errors.New("text exceeds obis element capacity")
	ErrIncompleteSnapshot = errors.New("snapshot is missing channels")
	ErrShortElement       = errors.New("buffer too short for obis element")
)

// Code is the 4 byte obis identifier as it appears on the wire.
type Code struct {
	Channel uint8
	Index   uint8
	Type    uint8
	Tariff  uint8
}

func (c Code) String() string {
	return fmt.Sprintf("%d:%d.%d.%d", c.Channel, c.Index, c.Type, c.Tariff)
}

// ValueWidth is the number of value bytes following the identifier.
func (c Code) ValueWidth() int {
	if c.Type == TypeCounter {
		return 8
	}
	return 4
}

// WireWidth is the number of bytes the element occupies inside a packet.
func (c Code) WireWidth() int {
	return HeaderSize + c.ValueWidth()
}

type Quantity uint8

const (
	ActivePower Quantity = iota
	ActiveEnergy
	ReactivePower
	ReactiveEnergy
	ApparentPower
	ApparentEnergy
	Current
	Voltage
	PowerFactor
	Frequency
	SoftwareVersion
)

var quantityNames = map[Quantity]string{
	ActivePower:     "active power",
	ActiveEnergy:    "active energy",
	ReactivePower:   "reactive power",
	ReactiveEnergy:  "reactive energy",
	ApparentPower:   "apparent power",
	ApparentEnergy:  "apparent energy",
	Current:         "current",
	Voltage:         "voltage",
	PowerFactor:     "power factor",
	Frequency:       "frequency",
	SoftwareVersion: "software version",
}

func (q Quantity) String() string {
	if name, ok := quantityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("quantity(%d)", uint8(q))
}

type Kind uint8

const (
	Numeric Kind = iota
	Text
)

// Descriptor is the static definition of one measurement channel.
type Descriptor struct {
	Name     string
	Code     Code
	Quantity Quantity
	Kind     Kind
	// Scale maps the physical value onto the encoded integer.
	Scale    float64
	Unit     string
	Decimals int
}

// Value holds a physical value for one channel. Text is only used by
// text channels.
type Value struct {
	Number float64
	Text   string
}

// Cell is one encoded element. Elements with a 4 byte value only use the
// first 8 bytes.
type Cell [CellSize]byte

// Element is a decoded cell in printable form.
type Element struct {
	Code       Code
	Descriptor Descriptor
	Known      bool
	Raw        string
	Converted  string
	Number     float64
	Text       string
}

func (e Element) String() string {
	name := e.Code.String()
	if e.Known {
		name = e.Descriptor.Name
	}
	return fmt.Sprintf("%-32s %-10s raw=%s value=%s %s", name, e.Code, e.Raw, e.Converted, e.Descriptor.Unit)
}
