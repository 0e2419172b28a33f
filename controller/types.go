// Package controller wires every other package into the per-tick control
// loop: refresh tariffs, snapshot devices, evaluate every output, submit
// device actions, persist state, and serve admin commands. It mirrors the
// teacher's MinerScheduler (scheduler/scheduler.go) PeriodicTask convention,
// generalized to household-relay semantics. See SPEC_FULL §4.7 / §5.
package controller

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/devskill-org/powerctl/device"
	"github.com/devskill-org/powerctl/domain"
	"github.com/devskill-org/powerctl/outputs"
	"github.com/devskill-org/powerctl/runhistory"
	"github.com/devskill-org/powerctl/telemetry"
)

// pendingAction tracks a submitted device sequence this Controller is
// waiting to complete before it can record the resulting state change.
type pendingAction struct {
	requestID string
	kind      domain.ActionType
}

// Output bundles one outputs.Manager with the device wiring the Controller
// needs to read its meter/input and resolve its parent by name.
type Output struct {
	Manager *outputs.Manager
	pending *pendingAction
}

// Controller is the single control-loop owner: it exclusively holds the
// list of Output managers, mirroring spec.md §2's ownership rule.
type Controller struct {
	logger *log.Logger

	worker   *device.Worker
	outputs  []*Output
	byName   map[string]*Output

	best     outputs.PlanSource
	schedule outputs.PlanSource

	tickInterval time.Duration
	wake         chan struct{}

	configPath    string
	configModTime time.Time
	stateFile     string

	commands chan domain.AdminCommand

	metrics *telemetry.Metrics
	storage DayRecorder

	lastHeartbeat     time.Time
	heartbeatInterval time.Duration

	mu      sync.RWMutex
	healthy bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Controller and records configPath's current mtime. A later
// mtime change, or the device worker reporting every device back online, is
// only logged: the Controller does not reload config or rebuild its Output
// managers itself (SetOutputs replaces them).
func New(logger *log.Logger, worker *device.Worker, best, schedule outputs.PlanSource, tickInterval time.Duration, configPath, stateFile string) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	modTime := time.Time{}
	if fi, err := os.Stat(configPath); err == nil {
		modTime = fi.ModTime()
	}
	return &Controller{
		logger:            logger,
		worker:            worker,
		byName:            map[string]*Output{},
		best:              best,
		schedule:          schedule,
		tickInterval:      tickInterval,
		wake:              make(chan struct{}, 1),
		configPath:        configPath,
		configModTime:     modTime,
		stateFile:         stateFile,
		commands:          make(chan domain.AdminCommand, 32),
		heartbeatInterval: time.Minute,
		healthy:           true,
		stop:              make(chan struct{}),
	}
}

// SetOutputs installs the live set of output managers, resolving
// ParentOutputName references to live pointers. Safe to call again after a
// config reload.
func (c *Controller) SetOutputs(managers []*outputs.Manager) {
	c.outputs = make([]*Output, 0, len(managers))
	c.byName = make(map[string]*Output, len(managers))
	for _, m := range managers {
		o := &Output{Manager: m}
		c.outputs = append(c.outputs, o)
		c.byName[m.Config.Name] = o
	}
	for _, o := range c.outputs {
		if name := o.Manager.Config.ParentOutputName; name != "" {
			if parent, ok := c.byName[name]; ok {
				o.Manager.ParentOutput = parent.Manager
			}
		}
	}
}

// SetMetrics attaches the prometheus collectors the tick loop updates each
// cycle. Optional; a nil or never-called receiver just skips reporting.
func (c *Controller) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

// DayRecorder mirrors one output's today's totals somewhere durable beyond
// the in-process MaxDays window (storage.Sink implements this). Optional.
type DayRecorder interface {
	RecordDay(outputName string, day runhistory.DayRecord, now time.Time) error
}

// SetStorage attaches the optional long-term history mirror.
func (c *Controller) SetStorage(s DayRecorder) {
	c.storage = s
}

// SubmitCommand enqueues an admin command for processing on the next tick.
// Matches SPEC_FULL §6: a buffered many-producer/one-consumer channel, no
// in-repo HTTP listener.
func (c *Controller) SubmitCommand(cmd domain.AdminCommand) {
	select {
	case c.commands <- cmd:
	default:
		c.logger.Printf("controller: command queue full, dropping %s", cmd.Kind)
	}
}

// Wake nudges the loop to run its next tick immediately instead of waiting
// out the remainder of its poll interval.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Healthy reports whether the controller considers itself able to serve
// traffic; implements telemetry.HealthSource.
func (c *Controller) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Controller) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// Run starts the control loop; it blocks until ctx is cancelled or Stop is
// called. Matches spec.md's "fatal crash of the controller is
// process-terminal" — Run is never restarted by a supervisor.
func (c *Controller) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		start := time.Now()
		c.tick(ctx)
		c.logger.Printf("controller: tick completed in %s", time.Since(start))

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.wake:
		case <-time.After(c.tickInterval):
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.wg.Wait()
}
