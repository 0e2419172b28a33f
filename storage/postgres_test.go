package storage

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/runhistory"
)

// TestSink_RecordDay requires a live Postgres reachable at
// POWERCTL_TEST_POSTGRES_DSN; it is skipped otherwise since the storage
// mirror is an optional, non-CI-critical reporting concern.
func TestSink_RecordDay(t *testing.T) {
	dsn := os.Getenv("POWERCTL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POWERCTL_TEST_POSTGRES_DSN not set, skipping live Postgres test")
	}

	sink, err := Open(dsn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sink.Close()

	day := runhistory.DayRecord{
		Date:         time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		TargetHours:  3,
		ActualHours:  2.5,
		EnergyWh:     1200,
		TotalCost:    decimal.NewFromInt(240),
		AveragePrice: decimal.NewFromInt(20),
	}
	if err := sink.RecordDay("water-heater", day, time.Now()); err != nil {
		t.Fatalf("RecordDay: %v", err)
	}
	// Upsert again with changed totals to exercise the ON CONFLICT path.
	day.ActualHours = 3
	if err := sink.RecordDay("water-heater", day, time.Now()); err != nil {
		t.Fatalf("RecordDay (upsert): %v", err)
	}
}
