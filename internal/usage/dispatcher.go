package usage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/focusguard/internal/idle"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// EventType identifies a host event.
type EventType string

const (
	EventTabCreated         EventType = "tab_created"
	EventTabUpdated         EventType = "tab_updated"
	EventTabRemoved         EventType = "tab_removed"
	EventTabActivated       EventType = "tab_activated"
	EventWindowFocusChanged EventType = "window_focus_changed"
	EventIdleChanged        EventType = "idle_changed"
	EventTabsSnapshot       EventType = "tabs_snapshot"
	EventSchedulesChanged   EventType = "schedules_changed"

	eventTick    EventType = "tick"
	eventBarrier EventType = "barrier"
)

// ErrDispatcherStopped is returned by Submit once the dispatcher has exited.
var ErrDispatcherStopped = errors.New("usage: dispatcher stopped")

// Event is one unit of work for the dispatcher.
type Event struct {
	Type     EventType
	TabID    int
	WindowID int
	Tab      Tab
	Tabs     []Tab
	Idle     idle.Snapshot

	// Before runs on the dispatcher goroutine ahead of the handler, so host
	// state changes are ordered with the events that depend on them.
	Before func()
	// After runs once the handler has returned.
	After func()

	done chan struct{}
}

// Dispatcher feeds events and ticks to the tracker one at a time, in arrival
// order, from a single goroutine.
type Dispatcher struct {
	tracker  *Tracker
	events   chan Event
	interval time.Duration
	logger   zerolog.Logger
	stopped  chan struct{}
}

// NewDispatcher creates a dispatcher with a buffered queue of the given size.
func NewDispatcher(tracker *Tracker, interval time.Duration, buffer int, logger zerolog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Dispatcher{
		tracker:  tracker,
		events:   make(chan Event, buffer),
		interval: interval,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		stopped:  make(chan struct{}),
	}
}

// Submit queues an event. It blocks while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.events <- ev:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every event queued before it has been handled.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.Submit(ctx, Event{Type: eventBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick queues one tick, running both per-second procedures.
func (d *Dispatcher) Tick(ctx context.Context) error {
	return d.Submit(ctx, Event{Type: eventTick})
}

// Run processes events and ticks until ctx is cancelled. Sessions are
// flushed before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.stopped)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.interval).Msg("Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			// Use a fresh context so the final flush can reach the store
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.drain(flushCtx)
			if err := d.tracker.FlushAll(flushCtx); err != nil {
				d.logger.Error().Err(err).Msg("Failed to flush sessions on shutdown")
			}
			cancel()
			d.logger.Info().Msg("Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.handle(ctx, Event{Type: eventTick})
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

// drain handles the events already queued without waiting for more.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.events:
			d.handle(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	if ev.done != nil {
		close(ev.done)
		return
	}

	start := time.Now()
	if ev.Before != nil {
		ev.Before()
	}

	err := d.dispatch(ctx, ev)

	if ev.After != nil {
		ev.After()
	}

	metrics.EventsProcessed.WithLabelValues(string(ev.Type)).Inc()
	metrics.EventDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			metrics.StoreErrorsTotal.WithLabelValues(string(ev.Type)).Inc()
		}
		d.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Event handler failed")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) error {
	switch ev.Type {
	case eventTick:
		// Both procedures run on every tick; a failure in one does not skip the other
		return errors.Join(
			d.tracker.UpdateScreenTimeEverySecond(ctx),
			d.tracker.UpdateSavedTimeEverySecond(ctx),
		)
	case EventTabCreated, EventTabUpdated:
		return d.tracker.OnTabUpdated(ctx, ev.Tab)
	case EventTabActivated:
		return d.tracker.OnTabActivated(ctx, ev.TabID)
	case EventTabRemoved:
		return d.tracker.OnTabRemoved(ctx, ev.TabID)
	case EventWindowFocusChanged:
		return d.tracker.OnWindowFocusChanged(ctx, ev.WindowID)
	case EventIdleChanged:
		return d.tracker.OnIdleChanged(ctx, ev.Idle)
	case EventTabsSnapshot:
		if err := d.tracker.InitializeActiveTab(ctx); err != nil {
			return err
		}
		_, err := d.tracker.RecheckAllTabs(ctx)
		return err
	case EventSchedulesChanged:
		_, err := d.tracker.RecheckAllTabs(ctx)
		return err
	default:
		d.logger.Warn().Str("event", string(ev.Type)).Msg("Unknown event type")
		return nil
	}
}
