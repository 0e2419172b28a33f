// Package domain holds the closed sum types and small shared value objects
// that cross package boundaries (runhistory, outputs, device, controller)
// without creating import cycles.
package domain

import "github.com/shopspring/decimal"

// SystemState is the overall state an output is in for this tick.
type SystemState string

const (
	SystemStateAuto          SystemState = "Auto"
	SystemStateAppOverride   SystemState = "AppOverride"
	SystemStateInputOverride SystemState = "InputOverride"
	SystemStateDateOff       SystemState = "DateOff"
)

// StateReasonOn enumerates every reason an output can be commanded on.
type StateReasonOn string

const (
	ReasonOnActiveRunPlan StateReasonOn = "ActiveRunPlan"
	ReasonOnAppModeOn     StateReasonOn = "AppModeOn"
	ReasonOnInputSwitchOn StateReasonOn = "InputSwitchOn"
	ReasonOnDayStart      StateReasonOn = "DayStart"
)

// StateReasonOff enumerates every reason an output can be commanded off.
type StateReasonOff string

const (
	ReasonOffDeviceOffline       StateReasonOff = "DeviceOffline"
	ReasonOffNoRunPlan           StateReasonOff = "NoRunPlan"
	ReasonOffRunPlanComplete     StateReasonOff = "RunPlanComplete"
	ReasonOffInactiveRunPlan     StateReasonOff = "InactiveRunPlan"
	ReasonOffDateOff             StateReasonOff = "DateOff"
	ReasonOffParentOff           StateReasonOff = "ParentOff"
	ReasonOffTempProbeConstraint StateReasonOff = "TempProbeConstraint"
	ReasonOffMinOnTime           StateReasonOff = "MinOnTime"
	ReasonOffMinOffTime          StateReasonOff = "MinOffTime"
	ReasonOffAppModeOff          StateReasonOff = "AppModeOff"
	ReasonOffInputSwitchOff      StateReasonOff = "InputSwitchOff"
	ReasonOffDayEnd              StateReasonOff = "DayEnd"
	ReasonOffStatusChange        StateReasonOff = "StatusChange"
	ReasonOffShutdown            StateReasonOff = "Shutdown"
)

// OutputStatusData is the per-tick status snapshot RunHistory and the
// planner need; it is recomputed by OutputManager on every tick.
type OutputStatusData struct {
	MeterReadingWh float64
	PowerDrawW     float64
	IsOn           bool
	TargetHours    *float64 // nil in "fill all remaining hours" mode
	CurrentPrice   decimal.Decimal
}

// ActionType is the kind of OutputAction an OutputManager can emit.
type ActionType string

const (
	ActionTurnOn         ActionType = "TurnOn"
	ActionTurnOff        ActionType = "TurnOff"
	ActionUpdateOnState  ActionType = "UpdateOnState"
	ActionUpdateOffState ActionType = "UpdateOffState"
)

// AdminCommandKind identifies the shape of Payload in an AdminCommand.
type AdminCommandKind string

const (
	AdminCommandSetMode              AdminCommandKind = "set_mode"
	AdminCommandSequenceCompleted    AdminCommandKind = "shelly_sequence_completed"
)

// AdminMode is the override mode an admin command can request.
type AdminMode string

const (
	AdminModeOn   AdminMode = "on"
	AdminModeOff  AdminMode = "off"
	AdminModeAuto AdminMode = "auto"
)

// AdminCommand is posted into the Controller's command intake; see
// SPEC_FULL §6 for the wire shape this mirrors.
type AdminCommand struct {
	Kind    AdminCommandKind
	Payload any
}

// SetModePayload is the Payload for AdminCommandSetMode.
type SetModePayload struct {
	OutputID      int
	Mode          AdminMode
	RevertMinutes int // 0 = no auto-revert
}

// SequenceCompletedPayload is the Payload for AdminCommandSequenceCompleted,
// used when an external sequence runner reports completion out-of-band.
type SequenceCompletedPayload struct {
	SequenceID string
	Label      string
	OK         bool
	Error      string
}
