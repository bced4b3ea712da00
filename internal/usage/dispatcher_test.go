package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/focusguard/internal/idle"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDispatcher runs a dispatcher whose ticker never fires during a test.
func startDispatcher(t *testing.T, h *harness) (*Dispatcher, context.CancelFunc, <-chan error) {
	t.Helper()

	d := NewDispatcher(h.tracker, time.Hour, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-d.stopped
	})
	return d, cancel, done
}

func TestDispatcher_EventsInOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{},
		activeTab(1, "https://one.example/"),
		activeTab(2, "https://two.example/"),
	)
	d, _, _ := startDispatcher(t, h)

	require.NoError(t, d.Submit(ctx, Event{Type: EventTabActivated, TabID: 1}))
	require.NoError(t, d.Sync(ctx))
	h.clock.Advance(3 * time.Second)
	require.NoError(t, d.Tick(ctx))
	require.NoError(t, d.Sync(ctx))
	h.clock.Advance(2 * time.Second)
	require.NoError(t, d.Submit(ctx, Event{Type: EventTabActivated, TabID: 2}))
	require.NoError(t, d.Sync(ctx))

	assert.Equal(t, int64(5), h.today(t).Sites["one.example"])
	assert.Equal(t, 2, h.tracker.ActiveTab())
}

func TestDispatcher_Hooks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, activeTab(1, "https://example.com/"))
	d, _, _ := startDispatcher(t, h)

	require.NoError(t, d.Submit(ctx, Event{Type: EventTabActivated, TabID: 1}))
	require.NoError(t, d.Sync(ctx))
	h.clock.Advance(8 * time.Second)

	var mu sync.Mutex
	var order []string
	record := func(s string) func() {
		return func() {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}

	// The tab must still resolve while the removal is handled
	require.NoError(t, d.Submit(ctx, Event{
		Type:   EventTabRemoved,
		TabID:  1,
		Before: record("before"),
		After: func() {
			h.host.remove(1)
			record("after")()
		},
	}))
	require.NoError(t, d.Sync(ctx))

	mu.Lock()
	assert.Equal(t, []string{"before", "after"}, order)
	mu.Unlock()
	assert.Equal(t, int64(8), h.today(t).Sites["example.com"])
	assert.Equal(t, NoTab, h.tracker.ActiveTab())
}

func TestDispatcher_BeforeHookRegistersTab(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	d, _, _ := startDispatcher(t, h)

	tab := activeTab(7, "https://example.com/")
	require.NoError(t, d.Submit(ctx, Event{
		Type:   EventTabActivated,
		TabID:  7,
		Before: func() { h.host.put(tab) },
	}))
	require.NoError(t, d.Sync(ctx))

	h.clock.Advance(2 * time.Second)
	require.NoError(t, d.Tick(ctx))
	require.NoError(t, d.Sync(ctx))

	assert.Equal(t, int64(2), h.today(t).Sites["example.com"])
}

func TestDispatcher_IdleAndSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, activeTab(3, "https://youtube.com/"))
	h.setSchedules(t, workSchedule("youtube.com"))
	d, _, _ := startDispatcher(t, h)

	require.NoError(t, d.Submit(ctx, Event{Type: EventTabsSnapshot}))
	require.NoError(t, d.Submit(ctx, Event{Type: EventIdleChanged, Idle: idle.Snapshot{IsIdle: true}}))
	require.NoError(t, d.Sync(ctx))

	assert.Equal(t, 3, h.tracker.ActiveTab())
	assert.True(t, h.idle.IsIdle())
	// Activation and the recheck both redirect the blocked tab
	assert.Len(t, h.host.redirectsSnapshot(), 2)
}

func TestDispatcher_SchedulesChanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, Tab{ID: 1, WindowID: 1, URL: "https://reddit.com/"})
	d, _, _ := startDispatcher(t, h)

	h.setSchedules(t, workSchedule("reddit.com"))
	require.NoError(t, d.Submit(ctx, Event{Type: EventSchedulesChanged}))
	require.NoError(t, d.Sync(ctx))

	assert.Len(t, h.host.redirectsSnapshot(), 1)
}

func TestDispatcher_FlushesOnShutdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, activeTab(1, "https://example.com/"))
	d, cancel, done := startDispatcher(t, h)

	require.NoError(t, d.Submit(ctx, Event{Type: EventTabActivated, TabID: 1}))
	require.NoError(t, d.Sync(ctx))
	h.clock.Advance(15 * time.Second)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	assert.Equal(t, int64(15), h.today(t).Sites["example.com"])
	assert.ErrorIs(t, d.Submit(ctx, Event{Type: EventTabActivated, TabID: 1}), ErrDispatcherStopped)
}

func TestDispatcher_DrainsQueueOnShutdown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, activeTab(1, "https://example.com/"))
	require.NoError(t, h.tracker.OnTabActivated(ctx, 1))
	h.clock.Advance(20 * time.Second)

	d := NewDispatcher(h.tracker, time.Hour, 16, zerolog.Nop())

	var removed bool
	require.NoError(t, d.Submit(ctx, Event{Type: EventIdleChanged, Idle: idle.Snapshot{IsIdle: true}}))
	require.NoError(t, d.Submit(ctx, Event{
		Type:  EventTabRemoved,
		TabID: 1,
		After: func() {
			removed = true
			h.host.remove(1)
		},
	}))

	// Cancelled before the loop starts, so the events are still queued
	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, d.Run(runCtx))

	assert.True(t, removed, "queued removal should run its hook")
	assert.True(t, h.idle.IsIdle())
	assert.Equal(t, NoTab, h.tracker.ActiveTab())
	assert.Equal(t, int64(20), h.today(t).Sites["example.com"])
}
