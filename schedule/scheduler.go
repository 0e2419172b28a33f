// Package schedule implements Scheduler: the fixed-window PlanSource used in
// Schedule mode and as the BestPrice fallback. Windows may reference dawn
// and dusk with an offset ("dawn+00:10", "dusk-01:30"), resolved daily from
// the configured location via suncalc. See SPEC_FULL §4.4 / §6.
package schedule

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/powerctl/outputs"
	"github.com/devskill-org/powerctl/runplan"
)

// Window is one StartTime/EndTime entry in an OperatingSchedule.
type Window struct {
	StartTime  string // "HH:MM" or "dawn"/"dusk" with optional +-HH:MM offset
	EndTime    string
	DaysOfWeek string // "All" or comma-separated 3-letter day abbreviations
	Price      decimal.Decimal
}

// Schedule is one named OperatingSchedules entry.
type Schedule struct {
	Name    string
	Windows []Window
}

// Scheduler holds every configured OperatingSchedule plus the location used
// to resolve dawn/dusk, and implements outputs.PlanSource.
type Scheduler struct {
	logger       *log.Logger
	schedules    map[string]Schedule
	defaultPrice decimal.Decimal
	location     Location
}

// Location is the lat/long used for dawn/dusk calculations.
type Location struct {
	Latitude  float64
	Longitude float64
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)
var dayAbbrev = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// New builds a Scheduler from validated config.
func New(logger *log.Logger, schedules []Schedule, defaultPrice decimal.Decimal, loc Location) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	byName := make(map[string]Schedule, len(schedules))
	for _, s := range schedules {
		byName[s.Name] = s
	}
	return &Scheduler{logger: logger, schedules: byName, defaultPrice: defaultPrice, location: loc}
}

// GetRunPlan implements outputs.PlanSource. constraintSlots, when non-empty,
// is forwarded as an allow-list to runplan.Calculate.
func (s *Scheduler) GetRunPlan(requiredHours, priorityHours, maxPrice, maxPriorityPrice float64, channel string, hourlyEnergyUsageW float64, constraintSlots []runplan.PriceSlot) (runplan.RunPlan, bool) {
	schedule, ok := s.schedules[channel]
	if !ok {
		s.logger.Printf("schedule: schedule %q not found", channel)
		return runplan.RunPlan{}, false
	}

	now := time.Now()
	slots := s.slotsForToday(schedule, now)
	if len(slots) == 0 {
		return runplan.RunPlan{}, false
	}
	sortByPrice(slots)

	plan, err := runplan.Calculate(runplan.SourceSchedule, channel, slots, runplan.Params{
		RequiredHours:     requiredHours,
		PriorityHours:     priorityHours,
		MaxPrice:          decimal.NewFromFloat(maxPrice),
		MaxPriorityPrice:  decimal.NewFromFloat(maxPriorityPrice),
		HourlyEnergyUsage: hourlyEnergyUsageW,
		ConstraintSlots:   constraintSlots,
		Now:               now,
	})
	if err != nil {
		s.logger.Printf("schedule: calculate run plan for %q: %v", channel, err)
		return runplan.RunPlan{}, false
	}
	return plan, plan.Status != runplan.StatusFailed
}

// SlotsForSchedule resolves a named OperatingSchedule's windows for today,
// for use as a ConstraintSchedule allow-list by another output's run plan.
// Returns nil if name is unknown.
func (s *Scheduler) SlotsForSchedule(name string, now time.Time) []runplan.PriceSlot {
	schedule, ok := s.schedules[name]
	if !ok {
		return nil
	}
	return s.slotsForToday(schedule, now)
}

// GetCurrentPrice returns the price of the window active right now, or the
// configured default if none applies; the scheduler always returns a price.
func (s *Scheduler) GetCurrentPrice(channel string) decimal.Decimal {
	schedule, ok := s.schedules[channel]
	if !ok {
		return s.defaultPrice
	}
	now := time.Now()
	for _, slot := range s.slotsForToday(schedule, now) {
		if !now.Before(slot.StartDT) && now.Before(slot.EndDT) {
			return slot.PricePerKWh
		}
	}
	return s.defaultPrice
}

// slotsForToday resolves every Window active today into a PriceSlot, already
// clipped so StartDT is never before now.
func (s *Scheduler) slotsForToday(schedule Schedule, now time.Time) []runplan.PriceSlot {
	today := now.Truncate(24 * time.Hour)
	weekday := dayAbbrev[now.Weekday()]
	duskDawn := s.duskDawn(now)

	var slots []runplan.PriceSlot
	for _, w := range schedule.Windows {
		if w.DaysOfWeek != "" && w.DaysOfWeek != "All" && !containsDay(w.DaysOfWeek, weekday) {
			continue
		}

		start, err := s.parseTime(w.StartTime, duskDawn, today)
		if err != nil {
			s.logger.Printf("schedule: %q: %v", schedule.Name, err)
			continue
		}
		end, err := s.parseTime(w.EndTime, duskDawn, today)
		if err != nil {
			s.logger.Printf("schedule: %q: %v", schedule.Name, err)
			continue
		}

		if end.Before(now) {
			continue
		}
		if start.Before(now) {
			start = now
		}
		if !start.Before(end) {
			continue
		}

		price := w.Price
		if price.IsZero() {
			price = s.defaultPrice
		}
		slots = append(slots, runplan.PriceSlot{
			Date:        today,
			StartDT:     start,
			EndDT:       end,
			Minutes:     int(end.Sub(start).Minutes()),
			PricePerKWh: price,
		})
	}
	return slots
}

func containsDay(list, day string) bool {
	for _, d := range strings.Split(list, ",") {
		if strings.TrimSpace(d) == day {
			return true
		}
	}
	return false
}

// parseTime resolves "HH:MM" or "dawn"/"dusk"[+-HH:MM] into an absolute time
// on the given day.
func (s *Scheduler) parseTime(raw string, duskDawn map[string]time.Time, day time.Time) (time.Time, error) {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "dawn") || strings.HasPrefix(lower, "dusk") {
		base, ok := duskDawn[lower[:4]]
		if !ok {
			return time.Time{}, fmt.Errorf("dawn/dusk times unavailable")
		}
		offset := raw[4:]
		if offset == "" {
			return base, nil
		}
		m := offsetPattern.FindStringSubmatch(offset)
		if m == nil {
			return time.Time{}, fmt.Errorf("invalid dawn/dusk offset %q, use e.g. dawn+00:10", raw)
		}
		hours, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		total := time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute
		if m[1] == "-" {
			total = -total
		}
		return base.Add(total), nil
	}

	t, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, use HH:MM", raw)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// duskDawn resolves today's sunrise ("dawn") and sunset ("dusk") for the
// configured location.
func (s *Scheduler) duskDawn(now time.Time) map[string]time.Time {
	times := suncalc.GetTimes(now, s.location.Latitude, s.location.Longitude)
	return map[string]time.Time{
		"dawn": times["sunrise"],
		"dusk": times["sunset"],
	}
}

func sortByPrice(slots []runplan.PriceSlot) {
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].PricePerKWh.LessThan(slots[j-1].PricePerKWh); j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
}

var _ outputs.PlanSource = (*Scheduler)(nil)
