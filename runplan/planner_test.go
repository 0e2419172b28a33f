package runplan

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)
	return loc
}

func slot(t *testing.T, loc *time.Location, day string, startHM string, minutes int, price float64) PriceSlot {
	t.Helper()
	start, err := time.ParseInLocation("2006-01-02 15:04", day+" "+startHM, loc)
	require.NoError(t, err)
	return PriceSlot{
		Date:        start.Truncate(24 * time.Hour),
		StartDT:     start,
		EndDT:       start.Add(time.Duration(minutes) * time.Minute),
		Minutes:     minutes,
		PricePerKWh: decimal.NewFromFloat(price),
	}
}

// TestCalculate_PricingScenario reproduces the literal §8 scenario: now=14:00,
// eight 30-minute slots at 35/30/20/18/22/45/40/25 c/kWh.
func TestCalculate_PricingScenario(t *testing.T) {
	loc := mustLoc(t)
	day := "2026-07-30"
	raw := []float64{35, 30, 20, 18, 22, 45, 40, 25}
	var slots []PriceSlot
	cur := "14:00"
	start, _ := time.ParseInLocation("2006-01-02 15:04", day+" "+cur, loc)
	for i, price := range raw {
		st := start.Add(time.Duration(i) * 30 * time.Minute)
		slots = append(slots, PriceSlot{
			Date:        st.Truncate(24 * time.Hour),
			StartDT:     st,
			EndDT:       st.Add(30 * time.Minute),
			Minutes:     30,
			PricePerKWh: decimal.NewFromFloat(price),
		})
	}

	// sort ascending by price to match the "price-ascending candidate list" contract
	sorted := make([]PriceSlot, len(slots))
	copy(sorted, slots)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].PricePerKWh.LessThan(sorted[i].PricePerKWh) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	now := start
	plan, err := Calculate(SourceBestPrice, "general", sorted, Params{
		RequiredHours:     1.5,
		PriorityHours:     0.5,
		MaxPrice:          decimal.NewFromInt(30),
		MaxPriorityPrice:  decimal.NewFromInt(40),
		HourlyEnergyUsage: 2000,
		Now:               now,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusReady, plan.Status)
	assert.InDelta(t, 1.5, plan.PlannedHours, 0.001)
	assert.True(t, plan.ForecastAvgPrice.Equal(decimal.NewFromFloat(20.00)))
	assert.InDelta(t, 3000, plan.ForecastEnergyWh, 0.001)
	assert.True(t, plan.EstimatedCost.Equal(decimal.NewFromFloat(0.60)))
	require.Len(t, plan.Slots, 1)
	wantStart, _ := time.ParseInLocation("2006-01-02 15:04", day+" 15:00", loc)
	wantStop, _ := time.ParseInLocation("2006-01-02 15:04", day+" 16:30", loc)
	require.NotNil(t, plan.NextStartDT)
	require.NotNil(t, plan.NextStopDT)
	assert.True(t, plan.NextStartDT.Equal(wantStart))
	assert.True(t, plan.NextStopDT.Equal(wantStop))
}

func TestCalculate_RequiredHoursZero(t *testing.T) {
	plan, err := Calculate(SourceBestPrice, "general", nil, Params{
		RequiredHours:    0,
		MaxPrice:         decimal.NewFromInt(30),
		MaxPriorityPrice: decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNothing, plan.Status)
	assert.Empty(t, plan.Slots)
}

func TestCalculate_EmptyCandidatesFails(t *testing.T) {
	plan, err := Calculate(SourceBestPrice, "general", nil, Params{
		RequiredHours:    2,
		MaxPrice:         decimal.NewFromInt(30),
		MaxPriorityPrice: decimal.NewFromInt(40),
		Now:              time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, plan.Status)
}

func TestCalculate_ScheduleCompleteIsNothing(t *testing.T) {
	plan, err := Calculate(SourceSchedule, "", nil, Params{
		RequiredHours:    -1,
		PriorityHours:    0,
		MaxPrice:         decimal.NewFromInt(30),
		MaxPriorityPrice: decimal.NewFromInt(40),
		Now:              time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNothing, plan.Status)
}

func TestCalculate_InvalidPriceCeilings(t *testing.T) {
	_, err := Calculate(SourceBestPrice, "general", []PriceSlot{}, Params{
		RequiredHours:    1,
		MaxPrice:         decimal.Zero,
		MaxPriorityPrice: decimal.NewFromInt(40),
		Now:              time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
	})
	var invalidErr *InvalidArgumentError
	require.Error(t, err)
	assert.ErrorAs(t, err, &invalidErr)
}

func TestCalculate_GapMergeAndMinLength(t *testing.T) {
	loc := mustLoc(t)
	day := "2026-07-30"
	slots := []PriceSlot{
		slot(t, loc, day, "10:00", 30, 10),
		slot(t, loc, day, "10:35", 30, 11), // 5 min gap, below threshold -> merge
		slot(t, loc, day, "11:30", 10, 12), // isolated, too short, has only a previous neighbour
	}
	plan, err := Calculate(SourceBestPrice, "general", slots, Params{
		RequiredHours:    2,
		PriorityHours:    0,
		MaxPrice:         decimal.NewFromInt(20),
		MaxPriorityPrice: decimal.NewFromInt(20),
		SlotGapMinutes:   10,
		SlotMinMinutes:   20,
		Now:              time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	for i := 1; i < len(plan.Slots); i++ {
		assert.True(t, plan.Slots[i-1].EndDT.Before(plan.Slots[i].StartDT) || plan.Slots[i-1].EndDT.Equal(plan.Slots[i].StartDT))
	}
	for _, s := range plan.Slots {
		assert.GreaterOrEqual(t, s.Minutes, 20)
	}
}

func TestTick_Idempotent(t *testing.T) {
	loc := mustLoc(t)
	day := "2026-07-30"
	slots := []PriceSlot{slot(t, loc, day, "15:00", 60, 20)}
	plan, err := Calculate(SourceBestPrice, "general", slots, Params{
		RequiredHours:    1,
		MaxPrice:         decimal.NewFromInt(30),
		MaxPriorityPrice: decimal.NewFromInt(30),
		Now:              time.Date(2026, 7, 30, 14, 0, 0, 0, loc),
	})
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 15, 30, 0, 0, loc)
	p1 := Tick(plan, now)
	p2 := Tick(p1, now)
	assert.Equal(t, p1.RemainingHours, p2.RemainingHours)
}

func TestCurrentSlot(t *testing.T) {
	loc := mustLoc(t)
	day := "2026-07-30"
	slots := []PriceSlot{slot(t, loc, day, "15:00", 60, 20)}
	plan, err := Calculate(SourceBestPrice, "general", slots, Params{
		RequiredHours:    1,
		MaxPrice:         decimal.NewFromInt(30),
		MaxPriorityPrice: decimal.NewFromInt(30),
		Now:              time.Date(2026, 7, 30, 14, 0, 0, 0, loc),
	})
	require.NoError(t, err)

	_, runNow := CurrentSlot(plan, time.Date(2026, 7, 30, 15, 30, 0, 0, loc))
	assert.True(t, runNow)
	_, runNow = CurrentSlot(plan, time.Date(2026, 7, 30, 16, 30, 0, 0, loc))
	assert.False(t, runNow)
}
