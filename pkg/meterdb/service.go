// Package meterdb holds smart meter readings recorded by a meter collector.
// The emulator only reads from it to replay recorded traffic.
package meterdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Tables the replay reads, created when missing so an empty database
// replays as an empty feed.
const schema = `
CREATE TABLE IF NOT EXISTS live_power_readings (
	timestamp INTEGER NOT NULL,
	watt INTEGER NOT NULL,
	reading_type INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_live_power_readings_timestamp ON live_power_readings (timestamp);
CREATE TABLE IF NOT EXISTS total_power_readings (
	timestamp INTEGER NOT NULL,
	consumption_day_wh INTEGER NOT NULL,
	production_day_wh INTEGER NOT NULL,
	consumption_night_wh INTEGER NOT NULL,
	production_night_wh INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_total_power_readings_timestamp ON total_power_readings (timestamp);
`

type MeterDB struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*MeterDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open meter db %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare meter db %s: %w", path, err)
	}
	return &MeterDB{db: db}, nil
}

func (m *MeterDB) Close() error {
	return m.db.Close()
}
