package obis

import "fmt"

// Line selects the totals (Total) or one of the three phases.
type Line uint8

const (
	Total Line = iota
	L1
	L2
	L3
)

func (l Line) String() string {
	if l == Total {
		return "Total"
	}
	return fmt.Sprintf("L%d", uint8(l))
}

// Phases lists the three phases in transmission order.
var Phases = []Line{L1, L2, L3}

// Measurement indices of the totals; each phase adds 20 to the index.
const (
	indexPositiveActive   uint8 = 1
	indexNegativeActive   uint8 = 2
	indexPositiveReactive uint8 = 3
	indexNegativeReactive uint8 = 4
	indexPositiveApparent uint8 = 9
	indexNegativeApparent uint8 = 10
	indexCurrent          uint8 = 11
	indexVoltage          uint8 = 12
	indexPowerFactor      uint8 = 13
	indexFrequency        uint8 = 14
	lineIndexStride       uint8 = 20
)

const (
	scalePower     = 10
	scaleEnergy    = 3600000
	scaleMilli     = 1000
	decimalsPower  = 1
	decimalsEnergy = 4
	decimalsMilli  = 3
)

func index(l Line, base uint8) uint8 {
	return base + uint8(l)*lineIndexStride
}

func actual(name string, l Line, base uint8, q Quantity, scale float64, unit string, decimals int) Descriptor {
	return Descriptor{
		Name:     name + l.String(),
		Code:     Code{Channel: ChannelDefault, Index: index(l, base), Type: TypeActual},
		Quantity: q,
		Kind:     Numeric,
		Scale:    scale,
		Unit:     unit,
		Decimals: decimals,
	}
}

func counter(name string, l Line, base uint8, q Quantity, unit string) Descriptor {
	return Descriptor{
		Name:     name + l.String(),
		Code:     Code{Channel: ChannelDefault, Index: index(l, base), Type: TypeCounter},
		Quantity: q,
		Kind:     Numeric,
		Scale:    scaleEnergy,
		Unit:     unit,
		Decimals: decimalsEnergy,
	}
}

func PositiveActivePower(l Line) Descriptor {
	return actual("PositiveActivePower", l, indexPositiveActive, ActivePower, scalePower, "W", decimalsPower)
}

func PositiveActiveEnergy(l Line) Descriptor {
	return counter("PositiveActiveEnergy", l, indexPositiveActive, ActiveEnergy, "kWh")
}

func NegativeActivePower(l Line) Descriptor {
	return actual("NegativeActivePower", l, indexNegativeActive, ActivePower, scalePower, "W", decimalsPower)
}

func NegativeActiveEnergy(l Line) Descriptor {
	return counter("NegativeActiveEnergy", l, indexNegativeActive, ActiveEnergy, "kWh")
}

func PositiveReactivePower(l Line) Descriptor {
	return actual("PositiveReactivePower", l, indexPositiveReactive, ReactivePower, scalePower, "var", decimalsPower)
}

func PositiveReactiveEnergy(l Line) Descriptor {
	return counter("PositiveReactiveEnergy", l, indexPositiveReactive, ReactiveEnergy, "kvarh")
}

func NegativeReactivePower(l Line) Descriptor {
	return actual("NegativeReactivePower", l, indexNegativeReactive, ReactivePower, scalePower, "var", decimalsPower)
}

func NegativeReactiveEnergy(l Line) Descriptor {
	return counter("NegativeReactiveEnergy", l, indexNegativeReactive, ReactiveEnergy, "kvarh")
}

func PositiveApparentPower(l Line) Descriptor {
	return actual("PositiveApparentPower", l, indexPositiveApparent, ApparentPower, scalePower, "VA", decimalsPower)
}

func PositiveApparentEnergy(l Line) Descriptor {
	return counter("PositiveApparentEnergy", l, indexPositiveApparent, ApparentEnergy, "kVAh")
}

func NegativeApparentPower(l Line) Descriptor {
	return actual("NegativeApparentPower", l, indexNegativeApparent, ApparentPower, scalePower, "VA", decimalsPower)
}

func NegativeApparentEnergy(l Line) Descriptor {
	return counter("NegativeApparentEnergy", l, indexNegativeApparent, ApparentEnergy, "kVAh")
}

func CurrentOf(l Line) Descriptor {
	return actual("Current", l, indexCurrent, Current, scaleMilli, "A", decimalsMilli)
}

func VoltageOf(l Line) Descriptor {
	return actual("Voltage", l, indexVoltage, Voltage, scaleMilli, "V", decimalsMilli)
}

func PowerFactorOf(l Line) Descriptor {
	return actual("PowerFactor", l, indexPowerFactor, PowerFactor, scaleMilli, "", decimalsMilli)
}

var FrequencyChannel = Descriptor{
	Name:     "Frequency",
	Code:     Code{Channel: ChannelDefault, Index: indexFrequency, Type: TypeActual},
	Quantity: Frequency,
	Kind:     Numeric,
	Scale:    scaleMilli,
	Unit:     "Hz",
	Decimals: decimalsMilli,
}

var SoftwareVersionChannel = Descriptor{
	Name:     "SoftwareVersion",
	Code:     Code{Channel: ChannelVersion, Type: TypeVersion},
	Quantity: SoftwareVersion,
	Kind:     Text,
	Scale:    1,
}

// LineBlock is the power/energy sequence every line starts with.
func LineBlock(l Line) []Descriptor {
	return []Descriptor{
		PositiveActivePower(l), PositiveActiveEnergy(l),
		NegativeActivePower(l), NegativeActiveEnergy(l),
		PositiveReactivePower(l), PositiveReactiveEnergy(l),
		NegativeReactivePower(l), NegativeReactiveEnergy(l),
		PositiveApparentPower(l), PositiveApparentEnergy(l),
		NegativeApparentPower(l), NegativeApparentEnergy(l),
	}
}

// EmeterChannels returns the channels in the order a real emeter emits them.
// Consumers read fixed byte offsets, so this order is part of the wire format.
func EmeterChannels(includeFrequency bool) []Descriptor {
	channels := LineBlock(Total)
	channels = append(channels, PowerFactorOf(Total))
	if includeFrequency {
		channels = append(channels, FrequencyChannel)
	}
	for _, l := range Phases {
		channels = append(channels, LineBlock(l)...)
		channels = append(channels, CurrentOf(l), VoltageOf(l), PowerFactorOf(l))
	}
	return append(channels, SoftwareVersionChannel)
}

// PayloadWidth is the number of bytes the given channels occupy on the wire.
func PayloadWidth(channels []Descriptor) int {
	width := 0
	for _, d := range channels {
		width += d.Code.WireWidth()
	}
	return width
}

var registry = func() map[Code]Descriptor {
	m := make(map[Code]Descriptor)
	for _, l := range []Line{Total, L1, L2, L3} {
		for _, d := range LineBlock(l) {
			m[d.Code] = d
		}
		for _, d := range []Descriptor{CurrentOf(l), VoltageOf(l), PowerFactorOf(l)} {
			m[d.Code] = d
		}
	}
	m[FrequencyChannel.Code] = FrequencyChannel
	m[SoftwareVersionChannel.Code] = SoftwareVersionChannel
	return m
}()

// Lookup finds the descriptor for an identifier read off the wire.
func Lookup(c Code) (Descriptor, bool) {
	d, ok := registry[c]
	return d, ok
}
