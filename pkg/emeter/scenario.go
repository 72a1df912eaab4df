package emeter

import "github.com/NotCoffee418/speedwire_emeter/pkg/obis"

// Firmware reported by default. Meters gained the frequency channel with
// 2.03.4.R; the shorter packet belongs to the older firmware.
const (
	FirmwareWithFrequency    = "2.03.4.R"
	FirmwareWithoutFrequency = "2.0.18.R"
)

func DefaultFirmware(includeFrequency bool) string {
	if includeFrequency {
		return FirmwareWithFrequency
	}
	return FirmwareWithoutFrequency
}

// Identity of the meter emulated by default.
var DefaultIdentity = Identity{SusyID: 349, SerialNumber: 1901567274}

// lineValues lists a line's power/energy block in channel order followed,
// for phases, by current, voltage and power factor.
type lineValues struct {
	block         [12]float64
	current       float64
	voltage       float64
	powerFactor   float64
	includeDetail bool
}

var scenario = map[obis.Line]lineValues{
	obis.Total: {
		block:       [12]float64{121.60, 1320.34, 0.00, 305.03, 0.00, 5.90, 188.90, 949.68, 224.60, 1757.41, 0.00, 327.62},
		powerFactor: 0.54,
	},
	obis.L1: {
		block:         [12]float64{0.00, 337.53, 21.70, 141.54, 0.00, 2.48, 22.30, 176.48, 0.00, 473.68, 31.10, 144.26},
		current:       0.18,
		voltage:       231.97,
		powerFactor:   0.70,
		includeDetail: true,
	},
	obis.L2: {
		block:         [12]float64{160.80, 775.23, 0.00, 77.80, 0.00, 7.38, 126.00, 535.19, 204.30, 974.19, 0.00, 89.10},
		current:       1.12,
		voltage:       230.66,
		powerFactor:   0.79,
		includeDetail: true,
	},
	obis.L3: {
		block:         [12]float64{0.00, 271.21, 17.60, 149.31, 0.00, 1.70, 40.66, 243.67, 0.00, 434.62, 44.30, 156.83},
		current:       0.23,
		voltage:       230.09,
		powerFactor:   0.40,
		includeDetail: true,
	},
}

const scenarioFrequency = 50.16

// DefaultScenario is a fixed, plausible three phase reading.
func DefaultScenario(firmware string, includeFrequency bool) obis.Snapshot {
	snap := obis.NewSnapshot()
	for _, l := range []obis.Line{obis.Total, obis.L1, obis.L2, obis.L3} {
		values := scenario[l]
		for i, d := range obis.LineBlock(l) {
			snap.Set(d, values.block[i])
		}
		snap.Set(obis.PowerFactorOf(l), values.powerFactor)
		if values.includeDetail {
			snap.Set(obis.CurrentOf(l), values.current)
			snap.Set(obis.VoltageOf(l), values.voltage)
		}
	}
	if includeFrequency {
		snap.Set(obis.FrequencyChannel, scenarioFrequency)
	}
	snap.SetText(obis.SoftwareVersionChannel, firmware)
	return snap
}
