package runhistory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/powerctl/domain"
)

func dt(y int, m time.Month, d, h, min, s int) time.Time {
	return time.Date(y, m, d, h, min, s, 0, time.UTC)
}

func price(c int64) decimal.Decimal {
	return decimal.NewFromInt(c)
}

func TestStartRun_OpensRunOnCurrentDay(t *testing.T) {
	h := New(7, 0)
	now := dt(2026, 7, 30, 10, 0, 0)
	status := domain.OutputStatusData{MeterReadingWh: 1000, CurrentPrice: price(20)}

	h.StartRun(now, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, status)

	require.Len(t, h.Days, 1)
	require.Len(t, h.Days[0].DeviceRuns, 1)
	run := h.Days[0].DeviceRuns[0]
	assert.Equal(t, domain.ReasonOnActiveRunPlan, run.ReasonStarted)
	assert.False(t, run.HasStopped)
	assert.Equal(t, 1000.0, run.MeterAtStart)
}

func TestStartRun_IdempotentForSameStateAndReason(t *testing.T) {
	h := New(7, 0)
	now := dt(2026, 7, 30, 10, 0, 0)
	status := domain.OutputStatusData{MeterReadingWh: 1000, CurrentPrice: price(20)}
	h.StartRun(now, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, status)
	h.StartRun(now.Add(time.Minute), domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, status)

	require.Len(t, h.Days[0].DeviceRuns, 1)
}

func TestStopRun_AccruesEnergyAndCost(t *testing.T) {
	h := New(7, 0)
	start := dt(2026, 7, 30, 15, 0, 0)
	h.StartRun(start, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{
		MeterReadingWh: 1_000_000, CurrentPrice: price(20),
	})

	stop := start.Add(90 * time.Minute)
	h.StopRun(stop, domain.ReasonOffRunPlanComplete, domain.OutputStatusData{
		MeterReadingWh: 1_003_000, CurrentPrice: price(20),
	})

	run := h.Days[0].DeviceRuns[0]
	assert.True(t, run.HasStopped)
	assert.Equal(t, domain.ReasonOffRunPlanComplete, run.ReasonStopped)
	assert.InDelta(t, 3000.0, run.EnergyWh, 0.001)

	wantCost := decimal.NewFromFloat(3000).Div(thousand).Mul(price(20))
	assert.True(t, wantCost.Equal(run.TotalCost), "got %s want %s", run.TotalCost, wantCost)

	wantAvg := run.TotalCost.Mul(thousand).Div(decimal.NewFromFloat(run.EnergyWh))
	assert.True(t, wantAvg.Equal(run.AveragePrice))
	assert.True(t, price(20).Equal(run.AveragePrice), "average price should reduce to the flat input price, got %s", run.AveragePrice)
}

// TestRollover_SplitsDeltaByElapsedTimeAcrossMidnight reproduces the
// midnight-rollover proration property: a run last accrued at 23:59, ticked
// again at 00:01 with a meter delta of 10Wh spanning the boundary, should
// split the delta 5Wh before / 5Wh after since the two-minute window is
// symmetric around midnight.
func TestRollover_SplitsDeltaByElapsedTimeAcrossMidnight(t *testing.T) {
	h := New(7, 0)
	day1 := dt(2026, 7, 30, 23, 0, 0)
	h.StartRun(day1, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{
		MeterReadingWh: 5000, CurrentPrice: price(10),
	})

	// Advance the run's last-accrual pointer to 23:59 without adding a
	// delta yet (simulates a no-op tick at that time).
	run := h.CurrentRun()
	run.lastAccrualAt = dt(2026, 7, 30, 23, 59, 0)
	run.PriorMeterRead = 5000

	tickNow := dt(2026, 7, 31, 0, 1, 0)
	h.Tick(tickNow, domain.OutputStatusData{MeterReadingWh: 5010, CurrentPrice: price(10)})

	require.Len(t, h.Days, 2)
	day0 := h.Days[0]
	day1Record := h.Days[1]

	require.Len(t, day0.DeviceRuns, 1)
	closed := day0.DeviceRuns[0]
	assert.True(t, closed.HasStopped)
	assert.Equal(t, domain.ReasonOffDayEnd, closed.ReasonStopped)
	assert.InDelta(t, 5.0, closed.EnergyWh, 0.01)

	require.Len(t, day1Record.DeviceRuns, 1)
	opened := day1Record.DeviceRuns[0]
	assert.Equal(t, domain.ReasonOnDayStart, opened.ReasonStarted)
	assert.False(t, opened.HasStopped)
	assert.InDelta(t, 5.0, opened.EnergyWh, 0.01)
}

func TestRollover_NoOpenRunJustAddsEmptyDay(t *testing.T) {
	h := New(7, 0)
	day1 := dt(2026, 7, 30, 10, 0, 0)
	h.StartRun(day1, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{MeterReadingWh: 100, CurrentPrice: price(10)})
	h.StopRun(day1.Add(time.Hour), domain.ReasonOffRunPlanComplete, domain.OutputStatusData{MeterReadingWh: 200, CurrentPrice: price(10)})

	h.Tick(dt(2026, 7, 31, 0, 5, 0), domain.OutputStatusData{MeterReadingWh: 200, CurrentPrice: price(10)})

	require.Len(t, h.Days, 2)
	assert.Empty(t, h.Days[1].DeviceRuns)
}

func TestTotals_DaySumsMatchCurrentTotals(t *testing.T) {
	h := New(7, 0)
	base := dt(2026, 7, 30, 9, 0, 0)
	target := 4.0

	h.StartRun(base, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{
		MeterReadingWh: 0, CurrentPrice: price(15), TargetHours: &target,
	})
	h.StopRun(base.Add(time.Hour), domain.ReasonOffRunPlanComplete, domain.OutputStatusData{
		MeterReadingWh: 1000, CurrentPrice: price(15), TargetHours: &target,
	})

	var sumEnergy float64
	for _, d := range h.Days {
		sumEnergy += d.EnergyWh
	}
	assert.InDelta(t, sumEnergy, h.Current.EnergyWh, 0.001)
	assert.InDelta(t, h.Current.EnergyWh, h.Alltime.EnergyWh, 0.001)
}

func TestTrim_FoldsOldestDayIntoEarlierPreservingAlltime(t *testing.T) {
	h := New(2, 0)
	target := 1.0
	for i := 0; i < 4; i++ {
		day := dt(2026, 7, 27+i, 8, 0, 0)
		h.StartRun(day, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{
			MeterReadingWh: float64(i * 1000), CurrentPrice: price(10), TargetHours: &target,
		})
		h.StopRun(day.Add(time.Hour), domain.ReasonOffRunPlanComplete, domain.OutputStatusData{
			MeterReadingWh: float64(i*1000 + 500), CurrentPrice: price(10), TargetHours: &target,
		})
		h.Tick(day.Add(90*time.Minute), domain.OutputStatusData{MeterReadingWh: float64(i*1000 + 500), CurrentPrice: price(10), TargetHours: &target})
	}

	before := h.Alltime
	require.LessOrEqual(t, len(h.Days), 2)
	assert.True(t, before.EnergyWh > 0)
	assert.True(t, h.Earlier.EnergyWh > 0, "oldest days should have folded into Earlier")
	assert.InDelta(t, h.Current.EnergyWh+h.Earlier.EnergyWh, h.Alltime.EnergyWh, 0.001)
}

func TestGetPriorShortfall_CapsAtMaxShortfall(t *testing.T) {
	h := New(7, 2.0)
	target := 5.0
	day := dt(2026, 7, 30, 8, 0, 0)
	h.StartRun(day, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{MeterReadingWh: 0, CurrentPrice: price(10), TargetHours: &target})
	h.StopRun(day.Add(time.Hour), domain.ReasonOffRunPlanComplete, domain.OutputStatusData{MeterReadingWh: 100, CurrentPrice: price(10), TargetHours: &target})
	h.Days[0].PriorShortfall = 10
	assert.Equal(t, 2.0, h.GetPriorShortfall())
}

func TestGetHourlyEnergyUsed(t *testing.T) {
	h := New(7, 0)
	day := dt(2026, 7, 30, 8, 0, 0)
	h.StartRun(day, domain.SystemStateAuto, domain.ReasonOnActiveRunPlan, domain.OutputStatusData{MeterReadingWh: 1000, CurrentPrice: price(10)})
	h.StopRun(day.Add(2*time.Hour), domain.ReasonOffRunPlanComplete, domain.OutputStatusData{MeterReadingWh: 5000, CurrentPrice: price(10)})

	assert.InDelta(t, 2000.0, h.GetHourlyEnergyUsed(), 0.01)
}
