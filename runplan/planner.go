package runplan

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const oneKWhDivisor = 100000 // Wh * cents/kWh -> cents: (Wh/1000) * (cents/kWh) / 100

// Calculate selects and consolidates candidate slots into a RunPlan.
//
// candidates must be sorted ascending by price; Calculate never mutates it.
func Calculate(source Source, channel string, candidates []PriceSlot, p Params) (RunPlan, error) {
	plan := RunPlan{
		Source:           source,
		Channel:          channel,
		RequiredHours:    p.RequiredHours,
		PriorityHours:    p.PriorityHours,
		ForecastAvgPrice: decimal.Zero,
		EstimatedCost:    decimal.Zero,
	}

	if p.RequiredHours == 0 {
		plan.Status = StatusNothing
		return plan, nil
	}

	if p.RequiredHours != -1 && p.PriorityHours > p.RequiredHours {
		plan.PriorityHours = p.RequiredHours
	}

	remainingRequiredMins := requiredMinutes(p.RequiredHours, p.now())
	if remainingRequiredMins == 0 {
		plan.Status = StatusNothing
		return plan, nil
	}

	if p.MaxPrice.Sign() <= 0 || p.MaxPriorityPrice.Sign() <= 0 {
		return RunPlan{}, &InvalidArgumentError{Msg: "maxPrice and maxPriorityPrice must be > 0"}
	}

	if len(candidates) == 0 {
		if p.RequiredHours == -1 && plan.PriorityHours == 0 {
			// Schedule-mode "fill remaining time" with nothing left to cover:
			// the schedule is simply complete for today.
			plan.Status = StatusNothing
			return plan, nil
		}
		plan.Status = StatusFailed
		return plan, nil
	}

	requiredPriorityMins := int(plan.PriorityHours * 60)
	if requiredPriorityMins > remainingRequiredMins {
		requiredPriorityMins = remainingRequiredMins
	}

	var selected []PlanSlot
	filledMins := 0

	for _, slot := range candidates {
		if slot.PricePerKWh.GreaterThan(p.MaxPriorityPrice) {
			continue
		}
		if len(p.ConstraintSlots) > 0 && !overlapsAny(slot, p.ConstraintSlots) {
			continue
		}

		duration := slot.Minutes
		qualifiesNormal := slot.PricePerKWh.LessThanOrEqual(p.MaxPrice) && duration <= remainingRequiredMins
		qualifiesPriority := slot.PricePerKWh.LessThanOrEqual(p.MaxPriorityPrice) && filledMins < requiredPriorityMins
		if !qualifiesNormal && !qualifiesPriority {
			continue
		}

		filledMins += duration
		remainingRequiredMins -= duration

		entry := derive(slot, p.HourlyEnergyUsage)
		if remainingRequiredMins < 0 {
			entry = shrinkEnd(entry, -remainingRequiredMins, p.HourlyEnergyUsage)
		}
		selected = append(selected, entry)

		if remainingRequiredMins <= 0 {
			remainingRequiredMins = 0
			break
		}
	}

	if len(selected) == 0 || filledMins < requiredPriorityMins {
		plan.Status = StatusFailed
	} else if remainingRequiredMins > 0 {
		plan.Status = StatusPartial
	} else {
		plan.Status = StatusReady
	}

	selected = consolidateGaps(selected, p.SlotGapMinutes)
	selected = enforceMinLength(selected, p.SlotMinMinutes)
	selected = trimToRequired(selected, p.RequiredHours)

	finalize(&plan, selected, p.now())

	return plan, nil
}

// requiredMinutes converts RequiredHours to a minute budget for "now".
// -1 means "all remaining minutes of today", floored to a multiple of 5.
func requiredMinutes(requiredHours float64, now time.Time) int {
	if requiredHours == -1 {
		remaining := 24*60 - (now.Hour()*60 + now.Minute())
		if remaining%5 != 0 {
			remaining -= remaining % 5
		}
		if remaining < 0 {
			remaining = 0
		}
		return remaining
	}
	mins := int(requiredHours * 60)
	if mins < 0 {
		mins = 0
	}
	return mins
}

func overlapsAny(slot PriceSlot, windows []PriceSlot) bool {
	for _, w := range windows {
		if slot.StartDT.Before(w.EndDT) && w.StartDT.Before(slot.EndDT) {
			return true
		}
	}
	return false
}

func derive(slot PriceSlot, hourlyEnergyUsage float64) PlanSlot {
	energyWh := hourlyEnergyUsage * float64(slot.Minutes) / 60
	cost := decimal.NewFromFloat(energyWh).Mul(slot.PricePerKWh).Div(decimal.NewFromInt(oneKWhDivisor))
	return PlanSlot{
		PriceSlot:            slot,
		ForecastEnergyWh:     energyWh,
		EstimatedCost:        cost,
		weightedPriceMinutes: slot.PricePerKWh.Mul(decimal.NewFromInt(int64(slot.Minutes))),
	}
}

// shrinkEnd trims excessMinutes off the tail of a just-selected slot and
// prorates its derived fields accordingly.
func shrinkEnd(entry PlanSlot, excessMinutes int, hourlyEnergyUsage float64) PlanSlot {
	newMinutes := entry.Minutes - excessMinutes
	if newMinutes < 0 {
		newMinutes = 0
	}
	entry.EndDT = entry.StartDT.Add(time.Duration(newMinutes) * time.Minute)
	entry.Minutes = newMinutes
	entry.ForecastEnergyWh = hourlyEnergyUsage * float64(newMinutes) / 60
	entry.EstimatedCost = decimal.NewFromFloat(entry.ForecastEnergyWh).Mul(entry.PricePerKWh).Div(decimal.NewFromInt(oneKWhDivisor))
	entry.weightedPriceMinutes = entry.PricePerKWh.Mul(decimal.NewFromInt(int64(newMinutes)))
	return entry
}

// consolidateGaps merges chronologically adjacent slots that touch or are
// separated by less than slotGapMinutes.
func consolidateGaps(slots []PlanSlot, slotGapMinutes int) []PlanSlot {
	if len(slots) == 0 {
		return slots
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartDT.Before(slots[j].StartDT) })

	merged := []PlanSlot{slots[0]}
	for _, s := range slots[1:] {
		last := &merged[len(merged)-1]
		gap := s.StartDT.Sub(last.EndDT)
		if gap <= 0 || (slotGapMinutes > 0 && gap < time.Duration(slotGapMinutes)*time.Minute) {
			mergeInto(last, s)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func mergeInto(dst *PlanSlot, src PlanSlot) {
	if src.EndDT.After(dst.EndDT) {
		dst.EndDT = src.EndDT
	}
	dst.Minutes = int(dst.EndDT.Sub(dst.StartDT).Minutes())
	dst.ForecastEnergyWh += src.ForecastEnergyWh
	dst.EstimatedCost = dst.EstimatedCost.Add(src.EstimatedCost)
	dst.weightedPriceMinutes = dst.weightedPriceMinutes.Add(src.weightedPriceMinutes)
}

// enforceMinLength merges any slot shorter than slotMinMinutes into a
// neighbour, or drops it if it has none.
func enforceMinLength(slots []PlanSlot, slotMinMinutes int) []PlanSlot {
	if slotMinMinutes <= 0 {
		return slots
	}
	for i := 0; i < len(slots); i++ {
		if slots[i].Minutes >= slotMinMinutes {
			continue
		}
		switch {
		case i+1 < len(slots):
			next := slots[i+1]
			merged := slots[i]
			merged.EndDT = next.EndDT
			mergeInto(&merged, next)
			merged.Minutes = int(merged.EndDT.Sub(merged.StartDT).Minutes())
			slots = append(slots[:i], append([]PlanSlot{merged}, slots[i+2:]...)...)
			i--
		case i > 0:
			merged := slots[i-1]
			mergeInto(&merged, slots[i])
			slots = append(slots[:i-1], append([]PlanSlot{merged}, slots[i+1:]...)...)
			i -= 2
		default:
			// No neighbour to absorb this short slot into; drop it.
			slots = append(slots[:i], slots[i+1:]...)
			i--
		}
	}
	return slots
}

// trimToRequired drops or shortens tail slots so total minutes never exceed
// requiredHours*60 (when requiredHours >= 0).
func trimToRequired(slots []PlanSlot, requiredHours float64) []PlanSlot {
	if requiredHours < 0 || len(slots) == 0 {
		return slots
	}
	requiredMins := int(requiredHours * 60)
	total := 0
	for _, s := range slots {
		total += s.Minutes
	}
	excess := total - requiredMins
	for excess > 0 && len(slots) > 0 {
		last := &slots[len(slots)-1]
		if last.Minutes <= excess {
			excess -= last.Minutes
			slots = slots[:len(slots)-1]
			continue
		}
		frac := float64(last.Minutes-excess) / float64(last.Minutes)
		last.Minutes -= excess
		last.EndDT = last.StartDT.Add(time.Duration(last.Minutes) * time.Minute)
		last.ForecastEnergyWh *= frac
		last.EstimatedCost = last.EstimatedCost.Mul(decimal.NewFromFloat(frac))
		last.weightedPriceMinutes = last.weightedPriceMinutes.Mul(decimal.NewFromFloat(frac))
		excess = 0
	}
	return slots
}

func finalize(plan *RunPlan, slots []PlanSlot, now time.Time) {
	totalMinutes := 0
	futureMinutes := 0
	weightedSum := decimal.Zero
	energySum := 0.0
	costSum := decimal.Zero

	for i := range slots {
		if slots[i].Minutes > 0 {
			slots[i].PricePerKWh = slots[i].weightedPriceMinutes.Div(decimal.NewFromInt(int64(slots[i].Minutes))).Round(2)
		}
		totalMinutes += slots[i].Minutes
		weightedSum = weightedSum.Add(slots[i].weightedPriceMinutes)
		energySum += slots[i].ForecastEnergyWh
		costSum = costSum.Add(slots[i].EstimatedCost)

		futureMinutes += futurePortionMinutes(slots[i].StartDT, slots[i].EndDT, now)
	}

	plan.Slots = slots
	plan.PlannedHours = float64(totalMinutes) / 60
	plan.RemainingHours = float64(futureMinutes) / 60
	plan.ForecastEnergyWh = energySum
	plan.EstimatedCost = costSum
	if totalMinutes > 0 {
		plan.ForecastAvgPrice = weightedSum.Div(decimal.NewFromInt(int64(totalMinutes))).Round(2)
	}
	if len(slots) > 0 {
		start := slots[0].StartDT
		stop := slots[0].EndDT
		plan.NextStartDT = &start
		plan.NextStopDT = &stop
	}
}

func futurePortionMinutes(start, end, now time.Time) int {
	if end.Before(now) {
		return 0
	}
	if start.Before(now) {
		start = now
	}
	return int(end.Sub(start).Minutes())
}

// Tick recomputes RemainingHours against the current clock; it is idempotent
// and does not alter which slots were selected.
func Tick(plan RunPlan, now time.Time) RunPlan {
	futureMinutes := 0
	for _, s := range plan.Slots {
		futureMinutes += futurePortionMinutes(s.StartDT, s.EndDT, now)
	}
	plan.RemainingHours = float64(futureMinutes) / 60
	return plan
}

// CurrentSlot returns the slot containing now, if any, and whether the plan
// says to be running right now.
func CurrentSlot(plan RunPlan, now time.Time) (PlanSlot, bool) {
	for _, s := range plan.Slots {
		if !now.Before(s.StartDT) && now.Before(s.EndDT) {
			return s, true
		}
	}
	return PlanSlot{}, false
}
