package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/focusguard/internal/clock"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// Engine evaluates hostnames against the schedules in the store. Schedules
// are re-read on every call since the options page may change them at any
// time.
type Engine struct {
	kv       storage.KVStore
	matcher  *Matcher
	clock    clock.Clock
	location *time.Location
	logger   zerolog.Logger
}

// NewEngine creates a new schedule-based policy engine
func NewEngine(kv storage.KVStore, matcher *Matcher, loc *time.Location, logger zerolog.Logger) *Engine {
	if matcher == nil {
		matcher = NewMatcher(0)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		kv:       kv,
		matcher:  matcher,
		clock:    clock.RealClock{},
		location: loc,
		logger:   logger.With().Str("component", "policy").Logger(),
	}
}

// SetClock sets the clock for time-based policy evaluation (for testing)
func (e *Engine) SetClock(c clock.Clock) {
	e.clock = c
}

// Now returns the current time in the engine's location.
func (e *Engine) Now() time.Time {
	return e.clock.Now().In(e.location)
}

// Location returns the timezone schedules are evaluated in.
func (e *Engine) Location() *time.Location {
	return e.location
}

// Schedules loads the schedule list from the store.
func (e *Engine) Schedules(ctx context.Context) ([]BlockingSchedule, error) {
	values, err := e.kv.Get(ctx, storage.KeyBlockingSchedules)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	var schedules []BlockingSchedule
	if err := storage.Decode(values, storage.KeyBlockingSchedules, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// Evaluate decides whether hostname is blocked right now.
func (e *Engine) Evaluate(ctx context.Context, hostname string) (Decision, error) {
	return e.EvaluateAt(ctx, hostname, e.Now())
}

// EvaluateAt decides whether hostname is blocked at the given time.
func (e *Engine) EvaluateAt(ctx context.Context, hostname string, at time.Time) (Decision, error) {
	schedules, err := e.Schedules(ctx)
	if err != nil {
		return Decision{Hostname: hostname}, err
	}
	if len(schedules) == 0 {
		return Decision{Hostname: hostname}, nil
	}

	decision := findBlocking(hostname, at.In(e.location), schedules, e.matcher.MatchesAny)
	if decision.Blocked {
		e.logger.Debug().
			Str("host", hostname).
			Str("schedule", decision.ScheduleName).
			Str("pattern", decision.Pattern).
			Msg("Host matched blocking schedule")
	}
	return decision, nil
}

// ActiveSchedule returns the first schedule currently in force.
func (e *Engine) ActiveSchedule(ctx context.Context) (*BlockingSchedule, bool, error) {
	schedules, err := e.Schedules(ctx)
	if err != nil {
		return nil, false, err
	}
	s, ok := FirstActive(e.Now(), schedules)
	return s, ok, nil
}

// IsDistracting reports whether hostname is on any schedule's list.
func (e *Engine) IsDistracting(ctx context.Context, hostname string) (bool, error) {
	schedules, err := e.Schedules(ctx)
	if err != nil {
		return false, err
	}
	return IsDistracting(hostname, schedules), nil
}
