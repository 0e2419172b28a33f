// Package storage optionally mirrors each output's daily run-history totals
// into Postgres for long-term reporting beyond the in-process MaxDays
// window. It is grounded on the teacher's scheduler/data.go sql.Open
// integration (a sql.DB opened once at startup, one upsert per poll), using
// lib/pq as the driver exactly as the teacher did, rather than reaching for
// an ORM the pack never uses.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/devskill-org/powerctl/runhistory"
)

// Sink is the optional Postgres-backed mirror of RunHistory day totals.
type Sink struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to connString and ensures the schema exists. Connection
// failures are returned so the caller can decide whether Storage being
// unavailable is fatal (it is not, by default: SPEC_FULL treats it as an
// optional reporting mirror, not part of the control loop's correctness).
func Open(connString string, logger *log.Logger) (*Sink, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	s := &Sink{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS output_day_history (
			output_name   TEXT NOT NULL,
			day           DATE NOT NULL,
			target_hours  DOUBLE PRECISION NOT NULL,
			actual_hours  DOUBLE PRECISION NOT NULL,
			energy_wh     DOUBLE PRECISION NOT NULL,
			total_cost    NUMERIC NOT NULL,
			average_price NUMERIC NOT NULL,
			recorded_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (output_name, day)
		)`)
	if err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// RecordDay upserts one output's totals for a single calendar day.
func (s *Sink) RecordDay(outputName string, day runhistory.DayRecord, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO output_day_history (output_name, day, target_hours, actual_hours, energy_wh, total_cost, average_price, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (output_name, day) DO UPDATE SET
			target_hours = EXCLUDED.target_hours,
			actual_hours = EXCLUDED.actual_hours,
			energy_wh    = EXCLUDED.energy_wh,
			total_cost   = EXCLUDED.total_cost,
			average_price = EXCLUDED.average_price,
			recorded_at  = EXCLUDED.recorded_at`,
		outputName, day.Date, day.TargetHours, day.ActualHours, day.EnergyWh,
		day.TotalCost.String(), day.AveragePrice.String(), now)
	if err != nil {
		return fmt.Errorf("storage: record day for %s: %w", outputName, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}
