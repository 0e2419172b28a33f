// Package pricing implements PricingManager: the BestPrice-mode tariff
// collaborator. It periodically refreshes a day-ahead price curve from a
// TariffClient as 5-minute short-term and 30-minute long-term PriceSlots, and answers
// getCurrentPrice / getRunPlan for outputs.Manager. See SPEC_FULL §4.3 / §6.
package pricing

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/powerctl/outputs"
	"github.com/devskill-org/powerctl/runplan"
)

// Mode mirrors the teacher's Amber API mode switch, generalized to any
// TariffClient.
type Mode string

const (
	ModeLive     Mode = "Live"
	ModeOffline  Mode = "Offline"
	ModeDisabled Mode = "Disabled"
)

// SlotInterval is the finest PriceSlot resolution (that of the short-term
// curve).
const SlotInterval = 5 * time.Minute

// Dual-resolution fetch windows per SPEC_FULL §4.3: a fine 5-minute curve
// close in, backed by a coarser 30-minute curve further out where the
// tariff feed itself loses precision.
const (
	ShortTermInterval = 5 * time.Minute
	ShortTermHorizon  = 2 * time.Hour
	LongTermInterval  = 30 * time.Minute
	LongTermHorizon   = 48 * time.Hour
)

// TariffClient is the external collaborator a PricingManager pulls day-ahead
// prices from; see SPEC_FULL §6.
type TariffClient interface {
	FetchSlots(ctx context.Context, now time.Time, resolution time.Duration, horizon time.Duration) ([]runplan.PriceSlot, error)
}

// Cache persists the last good price curve to disk for Offline mode.
type Cache interface {
	Save(channel string, slots []runplan.PriceSlot) error
	Load(channel string) ([]runplan.PriceSlot, error)
}

// Manager is the BestPrice-mode PlanSource. One Manager serves every output
// configured for a given tariff channel.
type Manager struct {
	mu sync.RWMutex

	client  TariffClient
	cache   Cache
	logger  *log.Logger
	timeout time.Duration

	mode                Mode
	refreshInterval     time.Duration
	maxConcurrentErrors int
	concurrentErrors    int

	nextRefresh time.Time
	byChannel   map[string][]runplan.PriceSlot // sorted ascending by price
}

// New builds a Manager. refreshInterval/timeout/maxConcurrentErrors mirror
// AmberAPI.RefreshInterval / Timeout / MaxConcurrentErrors in config.
func New(client TariffClient, cache Cache, logger *log.Logger, mode Mode, refreshInterval, timeout time.Duration, maxConcurrentErrors int) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		client:              client,
		cache:               cache,
		logger:              logger,
		timeout:             timeout,
		mode:                mode,
		refreshInterval:     refreshInterval,
		maxConcurrentErrors: maxConcurrentErrors,
		byChannel:           map[string][]runplan.PriceSlot{},
	}
}

// RefreshIfDue refreshes the price curve when the refresh interval has
// elapsed. It is meant to be called once per controller tick.
func (m *Manager) RefreshIfDue(ctx context.Context, now time.Time, channels []string) (criticalFailure bool) {
	m.mu.RLock()
	due := now.Before(m.nextRefresh)
	m.mu.RUnlock()
	if due && !m.nextRefresh.IsZero() {
		return false
	}
	return m.Refresh(ctx, now, channels)
}

// Refresh pulls a fresh curve for every channel and rebuilds the sorted
// per-channel index used by GetRunPlan/GetCurrentPrice.
func (m *Manager) Refresh(ctx context.Context, now time.Time, channels []string) (criticalFailure bool) {
	if m.mode == ModeDisabled {
		m.mu.Lock()
		m.nextRefresh = now.Add(m.refreshInterval)
		m.mu.Unlock()
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	fresh := map[string][]runplan.PriceSlot{}
	var failed bool
	for _, channel := range channels {
		slots, err := m.fetchChannel(callCtx, channel, now)
		if err != nil {
			m.logger.Printf("pricing: refresh channel %s failed: %v", channel, err)
			failed = true
			continue
		}
		fresh[channel] = slots
		if m.cache != nil {
			if err := m.cache.Save(channel, slots); err != nil {
				m.logger.Printf("pricing: cache save %s failed: %v", channel, err)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.concurrentErrors++
		if m.maxConcurrentErrors > 0 && m.concurrentErrors >= m.maxConcurrentErrors {
			m.logger.Printf("pricing: max concurrent errors (%d) reached querying tariff API", m.maxConcurrentErrors)
			return true
		}
		m.nextRefresh = now.Add(time.Minute)
		m.revertToCacheLocked(channels)
		return false
	}

	m.concurrentErrors = 0
	for channel, slots := range fresh {
		m.byChannel[channel] = slots
	}
	m.nextRefresh = now.Add(m.refreshInterval)
	return false
}

// fetchChannel pulls the short-term (fine-grained, near) and long-term
// (coarse, far) curves and consolidates them: short-term slots win inside
// ShortTermHorizon, long-term slots fill everything beyond it. See
// SPEC_FULL §4.3.
func (m *Manager) fetchChannel(ctx context.Context, channel string, now time.Time) ([]runplan.PriceSlot, error) {
	if m.mode == ModeOffline && m.cache != nil {
		return m.cache.Load(channel)
	}
	shortTerm, err := m.client.FetchSlots(ctx, now, ShortTermInterval, ShortTermHorizon)
	if err != nil {
		return nil, err
	}
	longTerm, err := m.client.FetchSlots(ctx, now, LongTermInterval, LongTermHorizon)
	if err != nil {
		return nil, err
	}
	slots := consolidateSlots(shortTerm, longTerm, now.Add(ShortTermHorizon))
	sort.Slice(slots, func(i, j int) bool { return slots[i].PricePerKWh.LessThan(slots[j].PricePerKWh) })
	return slots, nil
}

// consolidateSlots keeps every short-term slot and appends only the
// long-term slots that start at or after cutoff, so the two curves never
// double-cover the same interval.
func consolidateSlots(shortTerm, longTerm []runplan.PriceSlot, cutoff time.Time) []runplan.PriceSlot {
	out := make([]runplan.PriceSlot, 0, len(shortTerm)+len(longTerm))
	out = append(out, shortTerm...)
	for _, s := range longTerm {
		if !s.StartDT.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) revertToCacheLocked(channels []string) {
	if m.cache == nil {
		return
	}
	for _, channel := range channels {
		if slots, err := m.cache.Load(channel); err == nil {
			m.byChannel[channel] = slots
		}
	}
}

// GetRunPlan implements outputs.PlanSource for BestPrice mode.
func (m *Manager) GetRunPlan(requiredHours, priorityHours, maxPrice, maxPriorityPrice float64, channel string, hourlyEnergyUsageW float64, constraintSlots []runplan.PriceSlot) (runplan.RunPlan, bool) {
	m.mu.RLock()
	candidates := m.byChannel[channel]
	m.mu.RUnlock()

	if m.mode == ModeDisabled || len(candidates) == 0 {
		return runplan.RunPlan{}, false
	}

	plan, err := runplan.Calculate(runplan.SourceBestPrice, channel, candidates, runplan.Params{
		RequiredHours:     requiredHours,
		PriorityHours:     priorityHours,
		MaxPrice:          decimal.NewFromFloat(maxPrice),
		MaxPriorityPrice:  decimal.NewFromFloat(maxPriorityPrice),
		HourlyEnergyUsage: hourlyEnergyUsageW,
		ConstraintSlots:   constraintSlots,
	})
	if err != nil {
		m.logger.Printf("pricing: calculate run plan for channel %s: %v", channel, err)
		return runplan.RunPlan{}, false
	}
	return plan, plan.Status == runplan.StatusReady || plan.Status == runplan.StatusPartial
}

// GetAvailableTime returns how many hours of forward price coverage are
// currently loaded for channel, measured from now to the latest slot's end.
// Used by the controller to warn when a refresh leaves thin visibility.
func (m *Manager) GetAvailableTime(channel string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, s := range m.byChannel[channel] {
		if s.EndDT.After(latest) {
			latest = s.EndDT
		}
	}
	if latest.IsZero() {
		return 0
	}
	now := time.Now()
	if latest.Before(now) {
		return 0
	}
	return latest.Sub(now).Hours()
}

// GetCurrentPrice returns the price of whichever cached slot covers now, or
// zero if the channel has no data.
func (m *Manager) GetCurrentPrice(channel string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	for _, s := range m.byChannel[channel] {
		if !now.Before(s.StartDT) && now.Before(s.EndDT) {
			return s.PricePerKWh
		}
	}
	return decimal.Zero
}

var _ outputs.PlanSource = (*Manager)(nil)
