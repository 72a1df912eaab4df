package obis

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Dotted firmware versions such as 2.03.4.R are packed into one byte per
// component, the way real meters transmit them.
var packedVersionPattern = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.([A-Za-z])$`)

// Encode converts a channel value into its binary cell.
func Encode(d Descriptor, v Value) (Cell, error) {
	var cell Cell
	putCode(cell[:], d.Code)

	switch d.Kind {
	case Text:
		b, err := encodeText(v.Text, d.Code.ValueWidth())
		if err != nil {
			return cell, fmt.Errorf("%s: %w", d.Name, err)
		}
		copy(cell[HeaderSize:], b)
	default:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return cell, fmt.Errorf("%s: %w: %v", d.Name, ErrValueOutOfRange, v.Number)
		}
		scaled := math.Round(v.Number * d.Scale)
		if d.Code.ValueWidth() == 8 {
			if scaled < math.MinInt64 || scaled >= math.MaxInt64 {
				return cell, fmt.Errorf("%s: %w: %v", d.Name, ErrValueOutOfRange, v.Number)
			}
			binary.BigEndian.PutUint64(cell[HeaderSize:], uint64(int64(scaled)))
		} else {
			if scaled < math.MinInt32 || scaled > math.MaxInt32 {
				return cell, fmt.Errorf("%s: %w: %v", d.Name, ErrValueOutOfRange, v.Number)
			}
			binary.BigEndian.PutUint32(cell[HeaderSize:], uint32(int32(scaled)))
		}
	}
	return cell, nil
}

// Decode renders a cell in printable form. Unknown identifiers are decoded
// as raw hex.
func Decode(cell Cell) Element {
	code := readCode(cell[:])
	value := cell[HeaderSize : HeaderSize+code.ValueWidth()]

	d, known := Lookup(code)
	e := Element{Code: code, Descriptor: d, Known: known}
	if !known {
		e.Raw = hex.EncodeToString(value)
		e.Converted = e.Raw
		return e
	}

	if d.Kind == Text {
		e.Raw = hex.EncodeToString(value)
		e.Text = decodeText(value)
		e.Converted = e.Text
		return e
	}

	var raw int64
	if len(value) == 8 {
		raw = int64(binary.BigEndian.Uint64(value))
	} else {
		raw = int64(int32(binary.BigEndian.Uint32(value)))
	}
	e.Number = float64(raw) / d.Scale
	e.Raw = strconv.FormatInt(raw, 10)
	e.Converted = strconv.FormatFloat(e.Number, 'f', d.Decimals, 64)
	return e
}

// ReadElement decodes the element at the start of b and reports how many
// bytes it occupied.
func ReadElement(b []byte) (Element, int, error) {
	if len(b) < HeaderSize {
		return Element{}, 0, ErrShortElement
	}
	width := readCode(b).WireWidth()
	if len(b) < width {
		return Element{}, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortElement, width, len(b))
	}
	var cell Cell
	copy(cell[:], b[:width])
	return Decode(cell), width, nil
}

func putCode(b []byte, c Code) {
	b[0] = c.Channel
	b[1] = c.Index
	b[2] = c.Type
	b[3] = c.Tariff
}

func readCode(b []byte) Code {
	return Code{Channel: b[0], Index: b[1], Type: b[2], Tariff: b[3]}
}

func encodeText(s string, capacity int) ([]byte, error) {
	if m := packedVersionPattern.FindStringSubmatch(s); m != nil && capacity == 4 {
		packed := make([]byte, 0, 4)
		for _, part := range m[1:4] {
			n, err := strconv.Atoi(part)
			if err != nil || n > math.MaxUint8 {
				return nil, fmt.Errorf("%w: version component %q", ErrValueOutOfRange, part)
			}
			packed = append(packed, byte(n))
		}
		return append(packed, m[4][0]), nil
	}
	if len(s) > capacity {
		return nil, fmt.Errorf("%w: %q is %d bytes, capacity %d", ErrTextTooLong, s, len(s), capacity)
	}
	b := make([]byte, capacity)
	copy(b, s)
	return b, nil
}

func decodeText(b []byte) string {
	if len(b) == 4 && isLetter(b[3]) && b[0] < 0x20 && b[1] < 0x20 && b[2] < 0x20 {
		// 2.03.4.R pads the minor, 2.0.18.R does not
		if b[1] == 0 {
			return fmt.Sprintf("%d.0.%d.%c", b[0], b[2], b[3])
		}
		return fmt.Sprintf("%d.%02d.%d.%c", b[0], b[1], b[2], b[3])
	}
	return strings.TrimRight(string(bytes.TrimRight(b, "\x00")), " ")
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// ValidateText reports whether s can be stored in a text channel.
func ValidateText(d Descriptor, s string) error {
	_, err := encodeText(s, d.Code.ValueWidth())
	return err
}
