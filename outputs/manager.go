package outputs

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/device"
	"github.com/devskill-org/powerctl/domain"
	"github.com/devskill-org/powerctl/runplan"
)

// TargetHours resolves the configured target for "for" (falling back to
// MonthlyTargetHours when set), clamped to MaxHours. Returns -1 in AllHours
// mode, meaning "no daily target, just fill whatever time is available".
func (m *Manager) TargetHours(forDate time.Time) float64 {
	if m.Config.AllHours {
		return -1
	}
	target := m.Config.TargetHours
	if monthly, ok := m.Config.MonthlyTargetHours[forDate.Month()]; ok {
		target = monthly
	}
	if target > m.Config.MaxHours {
		target = m.Config.MaxHours
	}
	return target
}

// IsTodayExcluded reports whether now's calendar date falls in a DatesOff
// range.
func (m *Manager) IsTodayExcluded(now time.Time) bool {
	today := now.Truncate(24 * time.Hour)
	for _, r := range m.Config.DatesOff {
		if !today.Before(r.Start) && !today.After(r.End) {
			return true
		}
	}
	return false
}

// GenerateRunPlan ticks the run history, resolves required/priority hours
// from target hours, actual hours-so-far and prior shortfall, and asks
// source (pricing in BestPrice mode, the scheduler in Schedule mode or as a
// BestPrice fallback) for a fresh runplan.RunPlan.
func (m *Manager) GenerateRunPlan(now time.Time, status domain.OutputStatusData, best, schedule PlanSource) {
	m.History.Tick(now, status)
	hourlyEnergyUsed := m.History.GetHourlyEnergyUsed()

	var constraintSlots []runplan.PriceSlot
	if m.Config.ConstraintSchedule != "" {
		if r, ok := schedule.(constraintResolver); ok {
			constraintSlots = r.SlotsForSchedule(m.Config.ConstraintSchedule, now)
		}
	}

	var requiredHours, priorityHours float64
	target := m.TargetHours(now)
	if target == -1 {
		requiredHours = -1
		priorityHours = m.Config.MinHours
	} else {
		actual := m.History.GetActualHours()
		shortfall := m.History.GetPriorShortfall()
		remaining := target - actual + shortfall
		if remaining < 0 {
			remaining = 0
		}
		requiredHours = remaining
		if requiredHours > m.Config.MaxHours {
			requiredHours = m.Config.MaxHours
		}
		priorityHours = m.Config.MinHours
		if priorityHours > requiredHours {
			priorityHours = requiredHours
		}
	}

	var plan runplan.RunPlan
	var ok bool
	if m.Config.Mode == ModeBestPrice && best != nil {
		plan, ok = best.GetRunPlan(requiredHours, priorityHours, m.Config.MaxBestPrice, m.Config.MaxPriorityPrice, m.Config.AmberChannel, hourlyEnergyUsed, constraintSlots)
	}
	if m.Config.Mode == ModeSchedule || !ok {
		plan, ok = schedule.GetRunPlan(requiredHours, priorityHours, m.Config.MaxBestPrice, m.Config.MaxPriorityPrice, m.Config.AmberChannel, hourlyEnergyUsed, constraintSlots)
	}
	m.Plan = plan
	m.HasPlan = ok
}

// CurrentPrice mirrors the "pricing manager if BestPrice mode, otherwise the
// scheduler" fallback used to stamp OutputStatusData.CurrentPrice each tick.
func (m *Manager) CurrentPrice(best, schedule PlanSource) decimal.Decimal {
	if m.Config.Mode == ModeBestPrice && best != nil {
		if p := best.GetCurrentPrice(m.Config.AmberChannel); !p.IsZero() {
			return p
		}
	}
	return schedule.GetCurrentPrice(m.Config.AmberChannel)
}

// Evaluate runs the precedence chain and applies the resulting decision,
// returning the device action the caller must issue. When IsOn is already
// in the decided state the action is UpdateOnState/UpdateOffState with no
// sequence request; the result is nil only for a NoChange decision.
func (m *Manager) Evaluate(now time.Time, in Inputs, status domain.OutputStatusData) *Action {
	m.applyAppModeRevert(now)
	d := evaluateConditions(now, m, in)

	if d.NoChange {
		m.ReasonOff = d.ReasonOff
		return nil
	}

	if d.TurnOn {
		return m.turnOn(now, d.SystemState, d.ReasonOn, status)
	}
	return m.turnOff(now, d.SystemState, d.ReasonOff, status)
}

func (m *Manager) turnOn(now time.Time, state domain.SystemState, reason domain.StateReasonOn, status domain.OutputStatusData) *Action {
	changed := m.SystemState != state || m.ReasonOn != reason || !m.IsOn
	wasOn := m.IsOn

	m.IsOn = true
	m.SystemState = state
	m.ReasonOn = reason
	if changed {
		m.LastChanged = now
		m.History.StartRun(now, state, reason, status)
	}

	if wasOn {
		return &Action{Kind: domain.ActionUpdateOnState}
	}
	steps := m.Config.TurnOnSequence
	if len(steps) == 0 {
		steps = []device.Step{
			{Kind: device.StepChangeOutput, OutputID: m.Config.OutputID, State: true, Retries: 2, RetryBackoffS: 2},
		}
	}
	req := &device.SequenceRequest{
		ID:       fmt.Sprintf("%s-on-%d", m.Config.Name, now.UnixNano()),
		Label:    fmt.Sprintf("turn on %s (%s)", m.Config.Name, reason),
		TimeoutS: 15,
		Steps:    steps,
	}
	return &Action{Kind: domain.ActionTurnOn, Request: req}
}

func (m *Manager) turnOff(now time.Time, state domain.SystemState, reason domain.StateReasonOff, status domain.OutputStatusData) *Action {
	wasOn := m.IsOn

	m.IsOn = false
	m.SystemState = state
	m.ReasonOff = reason
	if wasOn {
		m.LastChanged = now
	}
	m.History.StopRun(now, reason, status)

	if !wasOn {
		return &Action{Kind: domain.ActionUpdateOffState}
	}
	steps := m.Config.TurnOffSequence
	if len(steps) == 0 {
		steps = []device.Step{
			{Kind: device.StepChangeOutput, OutputID: m.Config.OutputID, State: false, Retries: 2, RetryBackoffS: 2},
		}
	}
	req := &device.SequenceRequest{
		ID:       fmt.Sprintf("%s-off-%d", m.Config.Name, now.UnixNano()),
		Label:    fmt.Sprintf("turn off %s (%s)", m.Config.Name, reason),
		TimeoutS: 15,
		Steps:    steps,
	}
	return &Action{Kind: domain.ActionTurnOff, Request: req}
}

// Shutdown turns the output off if StopOnExit is configured, regardless of
// the current decision chain; called once as the controller exits.
func (m *Manager) Shutdown(now time.Time, status domain.OutputStatusData) *Action {
	if !m.Config.StopOnExit || !m.IsOn {
		return nil
	}
	return m.turnOff(now, domain.SystemStateAuto, domain.ReasonOffShutdown, status)
}
