// Package outputs implements OutputManager: the per-output decision engine
// that turns a run plan, a schedule, admin overrides, and device inputs into
// a single on/off decision each tick, and records the resulting run in
// runhistory. See SPEC_FULL §4.5 / §8.
package outputs

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/device"
	"github.com/devskill-org/powerctl/domain"
	"github.com/devskill-org/powerctl/runhistory"
	"github.com/devskill-org/powerctl/runplan"
)

// Mode selects where an output's run plan comes from.
type Mode string

const (
	ModeBestPrice Mode = "BestPrice"
	ModeSchedule  Mode = "Schedule"
)

// InputMode controls how a configured digital input influences this output.
type InputMode string

const (
	InputIgnore  InputMode = "Ignore"
	InputTurnOn  InputMode = "TurnOn"
	InputTurnOff InputMode = "TurnOff"
)

// DateRange is an inclusive [Start, End] calendar-day exclusion window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// TempProbeOp is the comparison a TempProbeConstraint applies to a probe
// reading.
type TempProbeOp string

const (
	TempProbeGreaterThan TempProbeOp = "GreaterThan"
	TempProbeLessThan    TempProbeOp = "LessThan"
)

// TempProbeConstraint allows an output to be on only while ProbeID's last
// reading satisfies Op against Threshold: GreaterThan needs a reading of at
// least Threshold, LessThan a reading of at most Threshold. See SPEC_FULL
// §4.5 step 6.
type TempProbeConstraint struct {
	ProbeID   int
	Op        TempProbeOp
	Threshold float64
}

// satisfied reports whether reading meets this constraint; when it does not,
// the output is forced off.
func (c TempProbeConstraint) satisfied(reading float64) bool {
	switch c.Op {
	case TempProbeGreaterThan:
		return reading >= c.Threshold
	case TempProbeLessThan:
		return reading <= c.Threshold
	default:
		return true
	}
}

// PlanSource abstracts the two things that can hand back a runplan.RunPlan:
// the pricing manager (BestPrice mode) and the scheduler (Schedule mode /
// BestPrice fallback). constraintSlots is the resolved ConstraintSchedule
// allow-list (empty when the output has none configured).
type PlanSource interface {
	GetRunPlan(requiredHours, priorityHours, maxPrice, maxPriorityPrice float64, channel string, hourlyEnergyUsageW float64, constraintSlots []runplan.PriceSlot) (runplan.RunPlan, bool)
	GetCurrentPrice(channel string) decimal.Decimal
}

// constraintResolver is implemented by schedule.Scheduler; best is only
// required to satisfy PlanSource, so a ConstraintSchedule reference is
// resolved against schedule via a type assertion rather than widening
// PlanSource itself.
type constraintResolver interface {
	SlotsForSchedule(name string, now time.Time) []runplan.PriceSlot
}

// Config is the static, validated configuration for one output.
type Config struct {
	Name               string
	DeviceID           int
	OutputID           int
	MeterID            int
	InputID            int
	HasInput           bool
	InputMode          InputMode
	Mode               Mode
	ScheduleName       string
	AmberChannel       string
	MaxBestPrice       float64
	MaxPriorityPrice   float64
	MinHours           float64
	MaxHours           float64
	TargetHours        float64 // ignored when AllHours is true
	AllHours           bool
	MonthlyTargetHours map[time.Month]float64
	DatesOff           []DateRange
	ParentOutputName   string
	StopOnExit         bool

	TempProbeConstraints []TempProbeConstraint
	MinOnTime            time.Duration // 0 disables the dwell guard
	MinOffTime           time.Duration
	MaxAppOnTime         time.Duration // fallback AppMode=On revert duration
	MaxAppOffTime        time.Duration // fallback AppMode=Off revert duration
	ConstraintSchedule   string        // name of an OperatingSchedule used as an allow-list

	TurnOnSequence  []device.Step // nil falls back to the single-step default
	TurnOffSequence []device.Step
}

// Manager is the live per-output state machine.
type Manager struct {
	Config Config

	History *runhistory.History
	Plan    runplan.RunPlan
	HasPlan bool

	AppMode         domain.AdminMode
	AppModeRevertAt time.Time // zero means no pending auto-revert
	SystemState     domain.SystemState
	IsOn            bool
	LastChanged     time.Time
	ReasonOn        domain.StateReasonOn
	ReasonOff       domain.StateReasonOff

	ParentOutput *Manager // nil if this output has no parent
}

// New builds a Manager around a validated Config and a fresh or restored
// History.
func New(cfg Config, history *runhistory.History) *Manager {
	return &Manager{
		Config:      cfg,
		History:     history,
		AppMode:     domain.AdminModeAuto,
		SystemState: domain.SystemStateAuto,
	}
}

// SetAppMode installs an admin-requested mode, scheduling an auto-revert to
// Auto at now+revertMinutes. revertMinutes of 0 falls back to the
// configured MaxAppOnTime/MaxAppOffTime (0 there means no auto-revert at
// all, matching the teacher's explicit-opt-in convention).
func (m *Manager) SetAppMode(now time.Time, mode domain.AdminMode, revertMinutes int) {
	m.AppMode = mode
	m.AppModeRevertAt = time.Time{}

	revert := time.Duration(revertMinutes) * time.Minute
	if revert == 0 {
		switch mode {
		case domain.AdminModeOn:
			revert = m.Config.MaxAppOnTime
		case domain.AdminModeOff:
			revert = m.Config.MaxAppOffTime
		}
	}
	if revert > 0 && (mode == domain.AdminModeOn || mode == domain.AdminModeOff) {
		m.AppModeRevertAt = now.Add(revert)
	}
}

// applyAppModeRevert reverts AppMode to Auto once AppModeRevertAt has
// passed. See SPEC_FULL §4.5 step 2 / §8 scenario 2.
func (m *Manager) applyAppModeRevert(now time.Time) {
	if m.AppModeRevertAt.IsZero() || now.Before(m.AppModeRevertAt) {
		return
	}
	m.AppMode = domain.AdminModeAuto
	m.AppModeRevertAt = time.Time{}
}

// Decision is the outcome of evaluateConditions: the state to move to, and
// why, before device actions are issued. NoChange means the precedence
// chain stopped at a gate (currently only device-offline) that blocks every
// override and must leave IsOn/SystemState untouched.
type Decision struct {
	SystemState domain.SystemState
	TurnOn      bool
	NoChange    bool
	ReasonOn    domain.StateReasonOn
	ReasonOff   domain.StateReasonOff
}

// Action is what the caller (the Controller) must do as a result of a tick:
// issue a device sequence request, or nothing if the state didn't change.
type Action struct {
	Kind    domain.ActionType
	Request *device.SequenceRequest
}
