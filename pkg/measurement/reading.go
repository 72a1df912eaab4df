package measurement

import (
	"github.com/NotCoffee418/speedwire_emeter/pkg/esmutils"
	"github.com/NotCoffee418/speedwire_emeter/pkg/interpreter"
	"github.com/NotCoffee418/speedwire_emeter/pkg/obis"
)

// FromRawReading maps a decoded P1 telegram onto the emeter channels. Day
// and night tariff counters are summed.
func FromRawReading(layout Layout, r *interpreter.RawMeterReading) obis.Snapshot {
	snap := layout.Baseline()

	snap.Set(obis.PositiveActivePower(obis.Total), esmutils.KwToW(r.CurrentConsumptionKW))
	snap.Set(obis.NegativeActivePower(obis.Total), esmutils.KwToW(r.CurrentProductionKW))
	snap.Set(obis.PositiveActiveEnergy(obis.Total), r.ImportKWH())
	snap.Set(obis.NegativeActiveEnergy(obis.Total), r.ExportKWH())

	phases := []struct {
		line                    obis.Line
		consumption, production float64
		voltage, current        float64
	}{
		{obis.L1, r.L1ConsumptionKW, r.L1ProductionKW, r.L1VoltageV, r.L1CurrentA},
		{obis.L2, r.L2ConsumptionKW, r.L2ProductionKW, r.L2VoltageV, r.L2CurrentA},
		{obis.L3, r.L3ConsumptionKW, r.L3ProductionKW, r.L3VoltageV, r.L3CurrentA},
	}
	for _, p := range phases {
		snap.Set(obis.PositiveActivePower(p.line), esmutils.KwToW(p.consumption))
		snap.Set(obis.NegativeActivePower(p.line), esmutils.KwToW(p.production))
		snap.Set(obis.VoltageOf(p.line), p.voltage)
		snap.Set(obis.CurrentOf(p.line), p.current)
	}
	return snap
}
