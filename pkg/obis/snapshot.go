package obis

import "maps"

// Snapshot holds one coherent set of channel values.
type Snapshot map[Code]Value

func NewSnapshot() Snapshot {
	return make(Snapshot)
}

func (s Snapshot) Set(d Descriptor, v float64) {
	s[d.Code] = Value{Number: v}
}

func (s Snapshot) SetText(d Descriptor, text string) {
	s[d.Code] = Value{Text: text}
}

func (s Snapshot) Number(d Descriptor) float64 {
	return s[d.Code].Number
}

func (s Snapshot) Text(d Descriptor) string {
	return s[d.Code].Text
}

// Missing lists the channels of layout that have no value in s.
func (s Snapshot) Missing(layout []Descriptor) []Descriptor {
	var missing []Descriptor
	for _, d := range layout {
		if _, ok := s[d.Code]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

func (s Snapshot) Clone() Snapshot {
	return maps.Clone(s)
}

// Named returns the values of layout keyed by channel name, for JSON output.
func (s Snapshot) Named(layout []Descriptor) map[string]any {
	out := make(map[string]any, len(layout))
	for _, d := range layout {
		v, ok := s[d.Code]
		if !ok {
			continue
		}
		if d.Kind == Text {
			out[d.Name] = v.Text
		} else {
			out[d.Name] = v.Number
		}
	}
	return out
}
