package controller

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Supervisor restarts a supervised goroutine (the device worker, the
// telemetry server) on panic or unexpected return, up to MaxRestarts with
// linear backoff (attempt * BackoffStep). It mirrors the teacher's
// PeriodicTask goroutine-per-task convention (scheduler/scheduler.go)
// generalized into a restart policy, per SPEC_FULL §5. The controller loop
// itself is never wrapped in a Supervisor: a fatal crash there is
// process-terminal by design.
type Supervisor struct {
	logger      *log.Logger
	MaxRestarts int
	BackoffStep time.Duration
}

// NewSupervisor builds a Supervisor with the given restart policy.
func NewSupervisor(logger *log.Logger, maxRestarts int, backoffStep time.Duration) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{logger: logger, MaxRestarts: maxRestarts, BackoffStep: backoffStep}
}

// Supervise runs fn(ctx) in a loop, restarting it after a recovered panic or
// an unexpected (non-context-cancellation) return, until ctx is cancelled or
// MaxRestarts is exhausted. name is used only for logging.
func (s *Supervisor) Supervise(ctx context.Context, name string, fn func(ctx context.Context)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Printf("supervisor: %s panicked: %v", name, r)
				}
			}()
			fn(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		attempt++
		if s.MaxRestarts > 0 && attempt > s.MaxRestarts {
			s.logger.Printf("supervisor: %s exceeded %d restarts, giving up", name, s.MaxRestarts)
			return
		}

		backoff := time.Duration(attempt) * s.BackoffStep
		s.logger.Printf("supervisor: %s exited, restarting in %s (attempt %d)", name, backoff, attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// Err is a sentinel helper for fn implementations that want to report why
// they returned without panicking (e.g. a non-recoverable transport error).
func Err(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}
