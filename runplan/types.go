// Package runplan selects and consolidates priced time slots into a run plan.
//
// The planner is a pure function of its inputs and the wall clock: given a
// price-ascending candidate list and a handful of constraints it returns the
// cheapest combination of slots that covers the required/priority hours for
// the rest of the day. It never mutates its inputs and never talks to a
// device or a tariff feed.
package runplan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which collaborator produced the candidate slots.
type Source string

const (
	SourceBestPrice Source = "BestPrice"
	SourceSchedule  Source = "Schedule"
)

// Status summarizes whether a RunPlan covers its required hours.
type Status string

const (
	StatusNothing Status = "Nothing"
	StatusFailed  Status = "Failed"
	StatusPartial Status = "Partial"
	StatusReady   Status = "Ready"
)

// PriceSlot is a contiguous, single-priced candidate interval.
//
// Invariant: EndDT == StartDT.Add(time.Duration(Minutes) * time.Minute).
type PriceSlot struct {
	Date        time.Time // local calendar date the slot belongs to
	StartDT     time.Time
	EndDT       time.Time
	Minutes     int
	PricePerKWh decimal.Decimal // cents/kWh
}

// PlanSlot is a PriceSlot carrying the per-slot forecast the planner derived.
type PlanSlot struct {
	PriceSlot
	ForecastEnergyWh     float64
	EstimatedCost        decimal.Decimal // dollars
	weightedPriceMinutes decimal.Decimal // internal accumulator, price*minutes
}

// RunPlan is the output of Calculate, and is re-evaluated by Tick against the
// current clock without altering the selected slots.
type RunPlan struct {
	Source           Source
	Channel          string
	Status           Status
	RequiredHours    float64
	PriorityHours    float64
	PlannedHours     float64
	RemainingHours   float64
	NextStartDT      *time.Time
	NextStopDT       *time.Time
	ForecastAvgPrice decimal.Decimal // cents/kWh
	ForecastEnergyWh float64
	EstimatedCost    decimal.Decimal // dollars
	Slots            []PlanSlot
}

// Params bundles the inputs to Calculate.
type Params struct {
	// RequiredHours is the number of hours still owed today. -1 means "fill
	// all remaining minutes of today" (hot-water / EV "top up" mode).
	RequiredHours float64
	// PriorityHours is the portion of RequiredHours that may be bought at
	// MaxPriorityPrice even when it exceeds MaxPrice.
	PriorityHours float64
	// MaxPrice/MaxPriorityPrice are ceilings in cents/kWh. Both must be > 0.
	MaxPrice         decimal.Decimal
	MaxPriorityPrice decimal.Decimal
	// HourlyEnergyUsage is the average load of the output in watts, used only
	// to forecast energy/cost; it never gates slot selection.
	HourlyEnergyUsage float64
	// SlotMinMinutes/SlotGapMinutes are 0 to disable the corresponding rule.
	SlotMinMinutes int
	SlotGapMinutes int
	// ConstraintSlots, if non-empty, is an allow-list: a candidate slot is
	// rejected unless its [start,end) overlaps at least one of these windows.
	ConstraintSlots []PriceSlot
	// Now lets tests pin the clock; the zero value means time.Now().
	Now time.Time
}

func (p Params) now() time.Time {
	if p.Now.IsZero() {
		return time.Now()
	}
	return p.Now
}

// InvalidArgumentError reports a parameter that can never produce a plan.
type InvalidArgumentError struct {
	Msg string
}

func (e *InvalidArgumentError) Error() string { return e.Msg }
