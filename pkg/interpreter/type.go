package interpreter

import "encoding/json"

// RawMeterReading is one decoded P1 telegram as published by the interpreter API.
type RawMeterReading struct {
	Timestamp string `json:"timestamp"`

	// Live power
	CurrentConsumptionKW float64 `json:"current_consumption_kw"`
	CurrentProductionKW  float64 `json:"current_production_kw"`
	L1ConsumptionKW      float64 `json:"l1_consumption_kw"`
	L2ConsumptionKW      float64 `json:"l2_consumption_kw"`
	L3ConsumptionKW      float64 `json:"l3_consumption_kw"`
	L1ProductionKW       float64 `json:"l1_production_kw"`
	L2ProductionKW       float64 `json:"l2_production_kw"`
	L3ProductionKW       float64 `json:"l3_production_kw"`

	// Meter totals
	TotalConsumptionDayKWH   float64 `json:"total_consumption_day_kwh"`
	TotalConsumptionNightKWH float64 `json:"total_consumption_night_kwh"`
	TotalProductionDayKWH    float64 `json:"total_production_day_kwh"`
	TotalProductionNightKWH  float64 `json:"total_production_night_kwh"`

	CurrentTariff int     `json:"current_tariff"`
	L1VoltageV    float64 `json:"l1_voltage_v"`
	L2VoltageV    float64 `json:"l2_voltage_v"`
	L3VoltageV    float64 `json:"l3_voltage_v"`
	L1CurrentA    float64 `json:"l1_current_a"`
	L2CurrentA    float64 `json:"l2_current_a"`
	L3CurrentA    float64 `json:"l3_current_a"`

	SwitchElectricity int `json:"switch_electricity"`
	SwitchGas         int `json:"switch_gas"`

	MeterSerialElectricity string `json:"meter_serial_electricity"`
	MeterSerialGas         string `json:"meter_serial_gas"`

	GasConsumptionM3 float64 `json:"gas_consumption_m3"`
}

func (r *RawMeterReading) ToJsonBytes() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

// MeterReadingFromJsonBytes returns nil if data is not a meter reading.
func MeterReadingFromJsonBytes(data []byte) *RawMeterReading {
	var reading RawMeterReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil
	}
	return &reading
}

// ImportKWH is the energy drawn from the grid over both tariffs.
func (r *RawMeterReading) ImportKWH() float64 {
	return r.TotalConsumptionDayKWH + r.TotalConsumptionNightKWH
}

// ExportKWH is the energy fed into the grid over both tariffs.
func (r *RawMeterReading) ExportKWH() float64 {
	return r.TotalProductionDayKWH + r.TotalProductionNightKWH
}
