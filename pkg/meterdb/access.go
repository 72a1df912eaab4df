package meterdb

import (
	"context"
	"database/sql"
	"errors"
)

// NextLivePowerReadings returns every live reading recorded at the first
// timestamp strictly after the given one. The result is empty once all
// readings were consumed.
func (m *MeterDB) NextLivePowerReadings(ctx context.Context, after int64) ([]MeterDbLivePowerReading, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT timestamp, watt, reading_type FROM live_power_readings "+
			"WHERE timestamp = (SELECT MIN(timestamp) FROM live_power_readings WHERE timestamp > ?) "+
			"ORDER BY reading_type",
		after,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []MeterDbLivePowerReading
	for rows.Next() {
		var r MeterDbLivePowerReading
		if err := rows.Scan(&r.Timestamp, &r.Watt, &r.ReadingType); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// TotalPowerReadingAt returns the latest meter totals recorded at or before
// the timestamp. ok is false when nothing was recorded yet.
func (m *MeterDB) TotalPowerReadingAt(ctx context.Context, timestamp int64) (reading MeterDbTotalPowerReading, ok bool, err error) {
	err = m.db.QueryRowContext(ctx,
		"SELECT timestamp, consumption_day_wh, production_day_wh, consumption_night_wh, production_night_wh "+
			"FROM total_power_readings WHERE timestamp <= ? ORDER BY timestamp DESC LIMIT 1",
		timestamp,
	).Scan(
		&reading.Timestamp,
		&reading.TotalConsumptionDayWh,
		&reading.TotalProductionDayWh,
		&reading.TotalConsumptionNightWh,
		&reading.TotalProductionNightWh,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return reading, false, nil
	}
	if err != nil {
		return reading, false, err
	}
	return reading, true, nil
}

func (m *MeterDB) InsertLivePowerReading(ctx context.Context, reading *MeterDbLivePowerReading) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO live_power_readings (timestamp, watt, reading_type) "+
			"VALUES (?, ?, ?)",
		reading.Timestamp,
		reading.Watt,
		reading.ReadingType,
	)
	return err
}

func (m *MeterDB) InsertTotalPowerReading(ctx context.Context, reading *MeterDbTotalPowerReading) error {
	_, err := m.db.ExecContext(ctx,
		"INSERT INTO total_power_readings "+
			"(timestamp, consumption_day_wh, production_day_wh, consumption_night_wh, production_night_wh) "+
			"VALUES (?, ?, ?, ?, ?)",
		reading.Timestamp,
		reading.TotalConsumptionDayWh,
		reading.TotalProductionDayWh,
		reading.TotalConsumptionNightWh,
		reading.TotalProductionNightWh,
	)
	return err
}
