package meterdb

type MeterDbPowerReadingType uint8

const (
	PowerConsumptionDay   MeterDbPowerReadingType = 0
	PowerConsumptionNight MeterDbPowerReadingType = 1
	PowerProductionDay    MeterDbPowerReadingType = 2
	PowerProductionNight  MeterDbPowerReadingType = 3
)

// IsProduction reports whether the reading is power fed into the grid.
func (t MeterDbPowerReadingType) IsProduction() bool {
	return t == PowerProductionDay || t == PowerProductionNight
}

type MeterDbLivePowerReading struct {
	Timestamp   int64                   `db:"timestamp"`
	Watt        uint32                  `db:"watt"`
	ReadingType MeterDbPowerReadingType `db:"reading_type"`
}

type MeterDbTotalPowerReading struct {
	Timestamp               int64  `db:"timestamp"`
	TotalConsumptionDayWh   uint32 `db:"consumption_day_wh"`
	TotalProductionDayWh    uint32 `db:"production_day_wh"`
	TotalConsumptionNightWh uint32 `db:"consumption_night_wh"`
	TotalProductionNightWh  uint32 `db:"production_night_wh"`
}

func (r MeterDbTotalPowerReading) ImportWh() uint64 {
	return uint64(r.TotalConsumptionDayWh) + uint64(r.TotalConsumptionNightWh)
}

func (r MeterDbTotalPowerReading) ExportWh() uint64 {
	return uint64(r.TotalProductionDayWh) + uint64(r.TotalProductionNightWh)
}
