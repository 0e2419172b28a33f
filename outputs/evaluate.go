package outputs

import (
	"time"

	"github.com/devskill-org/powerctl/domain"
	"github.com/devskill-org/powerctl/runplan"
)

// Inputs bundles everything evaluateConditions needs that isn't already on
// the Manager: the live digital-input reading, device-online status, probe
// readings, and whether today falls in a configured DatesOff range. All are
// resolved by the caller since they depend on device snapshots and the
// clock.
type Inputs struct {
	DeviceOffline   bool // zero value (online) matches "unknown device" at startup
	InputState      *bool // nil if no input is configured
	TodayExcluded   bool
	ParentOutputOn  bool
	HasParentOutput bool
	ProbeReadings   map[int]float64 // probe ID -> last reading, °C
}

// evaluateConditions is the precedence chain from SPEC_FULL §4.5:
// device-offline, app override, then digital-input override, then DatesOff,
// then the run plan, with a final set of cross-cutting guards
// (parent-output, temp-probe constraints, min-dwell) applied only to an Auto
// decision. Each branch that sets a state also sets its reason; the chain
// stops at the first branch that decides.
func evaluateConditions(now time.Time, m *Manager, in Inputs) Decision {
	if in.DeviceOffline {
		return Decision{NoChange: true, ReasonOff: domain.ReasonOffDeviceOffline}
	}

	var d Decision
	decided := false

	if m.AppMode == domain.AdminModeOn {
		d = Decision{SystemState: domain.SystemStateAppOverride, TurnOn: true, ReasonOn: domain.ReasonOnAppModeOn}
		decided = true
	} else if m.AppMode == domain.AdminModeOff {
		d = Decision{SystemState: domain.SystemStateAppOverride, TurnOn: false, ReasonOff: domain.ReasonOffAppModeOff}
		decided = true
	}

	if !decided && in.InputState != nil {
		if *in.InputState && m.Config.InputMode == InputTurnOn {
			d = Decision{SystemState: domain.SystemStateInputOverride, TurnOn: true, ReasonOn: domain.ReasonOnInputSwitchOn}
			decided = true
		} else if !*in.InputState && m.Config.InputMode == InputTurnOff {
			d = Decision{SystemState: domain.SystemStateInputOverride, TurnOn: false, ReasonOff: domain.ReasonOffInputSwitchOff}
			decided = true
		}
	}

	if !decided && in.TodayExcluded {
		d = Decision{SystemState: domain.SystemStateDateOff, TurnOn: false, ReasonOff: domain.ReasonOffDateOff}
		decided = true
	}

	if !decided {
		d = Decision{SystemState: domain.SystemStateAuto}
		switch {
		case !m.HasPlan || m.Plan.Status == runplan.StatusFailed:
			d.TurnOn = false
			d.ReasonOff = domain.ReasonOffNoRunPlan
		case m.Plan.Status == runplan.StatusNothing:
			d.TurnOn = false
			d.ReasonOff = domain.ReasonOffRunPlanComplete
		default: // StatusPartial or StatusReady
			if startNow(m.Plan, now) {
				d.TurnOn = true
				d.ReasonOn = domain.ReasonOnActiveRunPlan
			} else {
				d.TurnOn = false
				d.ReasonOff = domain.ReasonOffInactiveRunPlan
			}
		}
	}

	// The remaining guards only apply to an Auto decision; overrides and
	// DatesOff always win outright.
	if d.SystemState != domain.SystemStateAuto {
		return d
	}

	if d.TurnOn && in.HasParentOutput && !in.ParentOutputOn {
		d.TurnOn = false
		d.ReasonOff = domain.ReasonOffParentOff
		return d
	}

	if d.TurnOn && tempProbeBlocks(m.Config.TempProbeConstraints, in.ProbeReadings) {
		d.TurnOn = false
		d.ReasonOff = domain.ReasonOffTempProbeConstraint
		return d
	}

	applyDwellGuard(now, m, &d)

	return d
}

// tempProbeBlocks reports whether any configured constraint is not met,
// forcing the output off regardless of the run plan. A missing reading
// blocks a GreaterThan constraint and is ignored for LessThan.
func tempProbeBlocks(constraints []TempProbeConstraint, readings map[int]float64) bool {
	for _, c := range constraints {
		reading, ok := readings[c.ProbeID]
		if !ok {
			if c.Op == TempProbeGreaterThan {
				return true
			}
			continue
		}
		if !c.satisfied(reading) {
			return true
		}
	}
	return false
}

// applyDwellGuard enforces MinOnTime/MinOffTime: an Auto decision that would
// flip IsOn before the configured dwell has elapsed since LastChanged is
// held at the current state instead. See SPEC_FULL §4.5 step 6 / §8
// scenario 5.
func applyDwellGuard(now time.Time, m *Manager, d *Decision) {
	elapsed := now.Sub(m.LastChanged)
	if m.IsOn && !d.TurnOn && m.Config.MinOnTime > 0 && elapsed < m.Config.MinOnTime {
		d.TurnOn = true
		d.ReasonOn = m.ReasonOn
		return
	}
	if !m.IsOn && d.TurnOn && m.Config.MinOffTime > 0 && elapsed < m.Config.MinOffTime {
		d.TurnOn = false
		d.ReasonOff = domain.ReasonOffMinOffTime
	}
}

func startNow(plan runplan.RunPlan, now time.Time) bool {
	_, ok := runplan.CurrentSlot(plan, now)
	return ok
}
