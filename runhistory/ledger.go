package runhistory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/domain"
)

// thousand is reused for the Wh<->kWh conversions below.
var thousand = decimal.NewFromInt(1000)

// Tick performs the periodic bookkeeping: midnight rollover (splitting an
// open run and prorating its meter delta by time across the boundary),
// trimming to MaxDays, and refreshing every rolling total.
func (h *History) Tick(now time.Time, status domain.OutputStatusData) {
	if h.rolledOverToNewDay(now) {
		h.rollover(now, status)
	}
	h.trim()
	h.updateTotals(now, status)
}

func (h *History) rolledOverToNewDay(now time.Time) bool {
	if len(h.Days) == 0 {
		return false
	}
	last := h.Days[len(h.Days)-1].Date
	return now.Truncate(24 * time.Hour).After(last)
}

// rollover closes out an open run on the last day at 23:59:59 with reason
// DayEnd, and opens a fresh run on today at 00:00:00 with reason DayStart,
// prorating the meter delta accrued since the run's last tick across the
// midnight boundary by the ratio of elapsed time on each side.
func (h *History) rollover(now time.Time, status domain.OutputStatusData) {
	last := &h.Days[len(h.Days)-1]
	today := now.Truncate(24 * time.Hour)

	if len(last.DeviceRuns) == 0 || last.DeviceRuns[len(last.DeviceRuns)-1].HasStopped {
		ensureDay(h, today, status)
		return
	}

	run := &last.DeviceRuns[len(last.DeviceRuns)-1]
	dayEnd := time.Date(last.Date.Year(), last.Date.Month(), last.Date.Day(), 23, 59, 59, 0, last.Date.Location())
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	deltaWh, beforeRatio := splitDelta(run.LastAccrualAt(now), dayEnd, midnight, now, run.PriorMeterRead, status.MeterReadingWh)
	beforeWh := deltaWh * beforeRatio
	afterWh := deltaWh - beforeWh

	accrue(run, beforeWh, status.CurrentPrice, dayEnd)
	run.EndDT = dayEnd
	run.HasEndDT = true
	run.ReasonStopped = domain.ReasonOffDayEnd
	run.HasStopped = true

	newRun := Run{
		SystemState:    run.SystemState,
		ReasonStarted:  domain.ReasonOnDayStart,
		StartDT:        midnight,
		MeterAtStart:   run.PriorMeterRead + beforeWh,
		PriorMeterRead: run.PriorMeterRead + deltaWh,
	}
	accrue(&newRun, afterWh, status.CurrentPrice, now)

	day := ensureDay(h, today, status)
	day.DeviceRuns = append(day.DeviceRuns, newRun)
}

// splitDelta returns the total meter delta since lastAccrual and what
// fraction of it (by elapsed time) falls before midnight.
func splitDelta(lastAccrual, dayEnd, midnight, now time.Time, priorMeterRead, meterReading float64) (deltaWh float64, beforeRatio float64) {
	if meterReading <= 0 || priorMeterRead <= 0 || meterReading <= priorMeterRead {
		return 0, 1
	}
	deltaWh = meterReading - priorMeterRead
	totalWindow := now.Sub(lastAccrual)
	if totalWindow <= 0 {
		return deltaWh, 1
	}
	beforeWindow := midnight.Sub(lastAccrual)
	ratio := beforeWindow.Seconds() / totalWindow.Seconds()
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return deltaWh, ratio
}

// LastAccrualAt returns the timestamp of the last meter reading folded into
// this run, or fallback if none has been recorded yet.
func (r *Run) LastAccrualAt(fallback time.Time) time.Time {
	if r.lastAccrualAt.IsZero() {
		return fallback
	}
	return r.lastAccrualAt
}

// StartRun appends a new run unless an identical (systemState, reason) run is
// already open, in which case it is a no-op.
func (h *History) StartRun(now time.Time, systemState domain.SystemState, reason domain.StateReasonOn, status domain.OutputStatusData) {
	current := h.CurrentRun()
	if current != nil && current.SystemState == systemState && current.ReasonStarted == reason {
		return
	}
	if current != nil {
		h.StopRun(now, domain.ReasonOffStatusChange, status)
	}

	today := now.Truncate(24 * time.Hour)
	day := ensureDay(h, today, status)
	day.DeviceRuns = append(day.DeviceRuns, Run{
		SystemState:    systemState,
		ReasonStarted:  reason,
		StartDT:        now,
		MeterAtStart:   status.MeterReadingWh,
		PriorMeterRead: status.MeterReadingWh,
		lastAccrualAt:  now,
	})
	h.updateTotals(now, status)
}

// StopRun closes the currently open run, if any.
func (h *History) StopRun(now time.Time, reason domain.StateReasonOff, status domain.OutputStatusData) {
	run := h.CurrentRun()
	if run == nil {
		return
	}
	accrueFromStatus(run, now, status)
	run.EndDT = now
	run.HasEndDT = true
	run.ReasonStopped = reason
	run.HasStopped = true
	h.updateTotals(now, status)
}

// CurrentRun returns a pointer to the open run in the most recent day, or
// nil if there is none.
func (h *History) CurrentRun() *Run {
	if len(h.Days) == 0 {
		return nil
	}
	last := &h.Days[len(h.Days)-1]
	if len(last.DeviceRuns) == 0 {
		return nil
	}
	run := &last.DeviceRuns[len(last.DeviceRuns)-1]
	if run.HasStopped {
		return nil
	}
	return run
}

func accrueFromStatus(run *Run, now time.Time, status domain.OutputStatusData) {
	run.ActualHours = now.Sub(run.StartDT).Hours()
	if status.MeterReadingWh > 0 && run.PriorMeterRead > 0 && status.MeterReadingWh > run.PriorMeterRead {
		accrue(run, status.MeterReadingWh-run.PriorMeterRead, status.CurrentPrice, now)
		run.PriorMeterRead = status.MeterReadingWh
	} else {
		run.lastAccrualAt = now
	}
}

// accrue adds deltaWh of energy (already computed by the caller) to run at
// the given price, using the unit-correct cents/kWh formula from §9:
// cost(cents) += deltaWh/1000 * price(c/kWh); AveragePrice = TotalCost*1000/EnergyWh.
func accrue(run *Run, deltaWh float64, price decimal.Decimal, at time.Time) {
	if deltaWh <= 0 {
		run.lastAccrualAt = at
		return
	}
	run.EnergyWh += deltaWh
	cost := decimal.NewFromFloat(deltaWh).Div(thousand).Mul(price)
	run.TotalCost = run.TotalCost.Add(cost)
	if run.EnergyWh > 0 {
		run.AveragePrice = run.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(run.EnergyWh))
	}
	run.lastAccrualAt = at
}

func ensureDay(h *History, date time.Time, status domain.OutputStatusData) *DayRecord {
	if len(h.Days) > 0 && h.Days[len(h.Days)-1].Date.Equal(date) {
		return &h.Days[len(h.Days)-1]
	}
	target := 0.0
	if status.TargetHours != nil {
		target = *status.TargetHours
	}
	h.Days = append(h.Days, DayRecord{
		Date:         date,
		TargetHours:  target,
		TotalCost:    decimal.Zero,
		AveragePrice: decimal.Zero,
	})
	return &h.Days[len(h.Days)-1]
}

// updateTotals recomputes every rolling total and per-day shortfall. It is
// called after any state mutation so readers always see a consistent view.
func (h *History) updateTotals(now time.Time, status domain.OutputStatusData) {
	ensureDay(h, now.Truncate(24*time.Hour), status)

	if run := h.CurrentRun(); run != nil {
		accrueFromStatus(run, now, status)
	}

	h.Current = Totals{TotalCost: decimal.Zero, AveragePrice: decimal.Zero}

	runningShortfall := 0.0
	if len(h.Days) > 0 {
		runningShortfall = h.Days[0].PriorShortfall
	}

	for i := range h.Days {
		day := &h.Days[i]
		day.PriorShortfall = runningShortfall
		day.ActualHours = 0
		day.EnergyWh = 0
		day.TotalCost = decimal.Zero

		for _, run := range day.DeviceRuns {
			day.ActualHours += run.ActualHours
			day.EnergyWh += run.EnergyWh
			day.TotalCost = day.TotalCost.Add(run.TotalCost)
		}
		if day.EnergyWh > 0 {
			day.AveragePrice = day.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(day.EnergyWh))
		} else {
			day.AveragePrice = decimal.Zero
		}

		h.Current.EnergyWh += day.EnergyWh
		h.Current.TotalCost = h.Current.TotalCost.Add(day.TotalCost)
		h.Current.ActualHours += day.ActualHours

		if status.TargetHours != nil {
			runningShortfall += *status.TargetHours - day.ActualHours
		}
	}

	if h.Current.EnergyWh > 0 {
		h.Current.AveragePrice = h.Current.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(h.Current.EnergyWh))
	}

	h.Alltime = Totals{
		EnergyWh:    h.Current.EnergyWh + h.Earlier.EnergyWh,
		TotalCost:   h.Current.TotalCost.Add(h.Earlier.TotalCost),
		ActualHours: h.Current.ActualHours + h.Earlier.ActualHours,
	}
	if h.Alltime.EnergyWh > 0 {
		h.Alltime.AveragePrice = h.Alltime.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(h.Alltime.EnergyWh))
	}
}

// trim drops the oldest day once len(Days) exceeds MaxDays, folding its
// totals into Earlier first so Alltime is unaffected.
func (h *History) trim() {
	if h.MaxDays <= 0 {
		return
	}
	for len(h.Days) > h.MaxDays {
		oldest := h.Days[0]
		h.Earlier.EnergyWh += oldest.EnergyWh
		h.Earlier.TotalCost = h.Earlier.TotalCost.Add(oldest.TotalCost)
		h.Earlier.ActualHours += oldest.ActualHours
		if h.Earlier.EnergyWh > 0 {
			h.Earlier.AveragePrice = h.Earlier.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(h.Earlier.EnergyWh))
		}
		h.Days = h.Days[1:]
	}
}

// GetActualHours returns today's accumulated run time.
func (h *History) GetActualHours() float64 {
	if len(h.Days) == 0 {
		return 0
	}
	return h.Days[len(h.Days)-1].ActualHours
}

// GetPriorShortfall sums (target-actual) for complete prior days, capped at
// MaxShortfall.
func (h *History) GetPriorShortfall() float64 {
	if len(h.Days) == 0 {
		return 0
	}
	shortfall := h.Days[len(h.Days)-1].PriorShortfall
	if h.MaxShortfall > 0 && shortfall > h.MaxShortfall {
		return h.MaxShortfall
	}
	if shortfall < 0 {
		return 0
	}
	return shortfall
}

// GetHourlyEnergyUsed returns the average power draw (W) implied by today's
// recorded energy and hours so far.
func (h *History) GetHourlyEnergyUsed() float64 {
	if len(h.Days) == 0 {
		return 0
	}
	day := h.Days[len(h.Days)-1]
	if day.ActualHours <= 0 {
		return 0
	}
	return day.EnergyWh / day.ActualHours
}
