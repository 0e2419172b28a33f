package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSlotsForToday_ReturnsWindowPriceWhenActive(t *testing.T) {
	s := New(nil, []Schedule{
		{Name: "daytime", Windows: []Window{
			{StartTime: "09:00", EndTime: "17:00", DaysOfWeek: "All", Price: decimal.NewFromInt(25)},
		}},
	}, decimal.NewFromInt(40), Location{})

	schedule := s.schedules["daytime"]
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	slots := s.slotsForToday(schedule, now)
	if len(slots) != 1 {
		t.Fatalf("expected one active slot at noon, got %d", len(slots))
	}
	if !slots[0].PricePerKWh.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected window price 25, got %s", slots[0].PricePerKWh)
	}
}

func TestGetCurrentPrice_FallsBackToDefaultForUnknownChannel(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	price := s.GetCurrentPrice("missing-channel")
	if !price.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected default price 40, got %s", price)
	}
}

func TestSlotsForToday_SkipsWindowsNotOnWeekday(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	schedule := Schedule{Windows: []Window{
		{StartTime: "09:00", EndTime: "17:00", DaysOfWeek: "Sat,Sun"},
	}}
	// 2026-07-30 is a Thursday.
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	slots := s.slotsForToday(schedule, now)
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a day not in DaysOfWeek, got %d", len(slots))
	}
}

func TestParseTime_RejectsMalformedOffset(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	_, err := s.parseTime("dawn+1:3", map[string]time.Time{"dawn": time.Now()}, time.Now())
	if err == nil {
		t.Fatal("expected error for malformed dawn offset")
	}
}

func TestParseTime_ResolvesPlainHHMM(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	got, err := s.parseTime("14:30", nil, day)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	want := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSlotsForSchedule_ReturnsWindowsForNamedSchedule(t *testing.T) {
	s := New(nil, []Schedule{
		{Name: "cheap-window", Windows: []Window{
			{StartTime: "09:00", EndTime: "17:00", DaysOfWeek: "All", Price: decimal.NewFromInt(25)},
		}},
	}, decimal.NewFromInt(40), Location{})

	now := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	slots := s.SlotsForSchedule("cheap-window", now)
	if len(slots) != 1 {
		t.Fatalf("expected one slot from the named schedule, got %d", len(slots))
	}
}

func TestSlotsForSchedule_UnknownNameReturnsNil(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	if slots := s.SlotsForSchedule("missing", time.Now()); slots != nil {
		t.Fatalf("expected nil for an unknown schedule name, got %v", slots)
	}
}

func TestGetRunPlan_UnknownChannelReturnsNotOK(t *testing.T) {
	s := New(nil, nil, decimal.NewFromInt(40), Location{})
	_, ok := s.GetRunPlan(2, 1, 30, 40, "missing", 1000, nil)
	if ok {
		t.Fatal("expected ok=false for an unconfigured channel")
	}
}
