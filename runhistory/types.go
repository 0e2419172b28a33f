// Package runhistory maintains the day-aware run ledger for one output:
// actual hours, energy, cost, and multi-day rolling totals, including
// mid-run day-rollover splitting. See SPEC_FULL §4.2 / §8.
package runhistory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/domain"
)

// Run is one continuous ON interval of an output.
type Run struct {
	SystemState    domain.SystemState
	ReasonStarted  domain.StateReasonOn
	ReasonStopped  domain.StateReasonOff
	HasStopped     bool
	StartDT        time.Time
	EndDT          time.Time
	HasEndDT       bool
	ActualHours    float64
	MeterAtStart   float64
	PriorMeterRead float64
	EnergyWh       float64
	TotalCost      decimal.Decimal // cents
	AveragePrice   decimal.Decimal // cents/kWh

	// lastAccrualAt is the timestamp of the meter reading already folded
	// into EnergyWh/TotalCost; it anchors the time-proportional split
	// used by rollover when a day boundary falls inside an open run.
	lastAccrualAt time.Time
}

// DayRecord is the ledger for a single calendar day.
type DayRecord struct {
	Date           time.Time
	TargetHours    float64
	PriorShortfall float64
	ActualHours    float64
	EnergyWh       float64
	TotalCost      decimal.Decimal
	AveragePrice   decimal.Decimal
	DeviceRuns     []Run
}

// Totals is a rolled-up sum over some span of days.
type Totals struct {
	EnergyWh     float64
	TotalCost    decimal.Decimal
	ActualHours  float64
	AveragePrice decimal.Decimal
}

// History is the ordered ledger for one output plus its rolling sums.
type History struct {
	Days         []DayRecord
	MaxDays      int
	MaxShortfall float64
	Current      Totals
	Earlier      Totals
	Alltime      Totals
}

// New creates an empty History trimmed to maxDays, carrying forward a
// MaxShortfallHours cap used by GetPriorShortfall.
func New(maxDays int, maxShortfallHours float64) *History {
	return &History{
		MaxDays:      maxDays,
		MaxShortfall: maxShortfallHours,
		Current:      Totals{TotalCost: decimal.Zero, AveragePrice: decimal.Zero},
		Earlier:      Totals{TotalCost: decimal.Zero, AveragePrice: decimal.Zero},
		Alltime:      Totals{TotalCost: decimal.Zero, AveragePrice: decimal.Zero},
	}
}
