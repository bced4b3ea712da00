package usage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/focusguard/internal/clock"
	"github.com/goodtune/focusguard/internal/idle"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// 2024-01-15 is a Monday
var monday10am = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

const blockedPage = "chrome-extension://focusguard/blocked.html"

type redirect struct {
	TabID int
	URL   string
}

type fakeHost struct {
	mu          sync.Mutex
	tabs        map[int]Tab
	redirects   []redirect
	redirectErr error
}

func newFakeHost(tabs ...Tab) *fakeHost {
	h := &fakeHost{tabs: make(map[int]Tab)}
	for _, tab := range tabs {
		h.tabs[tab.ID] = tab
	}
	return h
}

func (h *fakeHost) GetTab(_ context.Context, tabID int) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tab, ok := h.tabs[tabID]
	if !ok {
		return Tab{}, ErrTabNotFound
	}
	return tab, nil
}

func (h *fakeHost) Redirect(_ context.Context, tabID int, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.redirectErr != nil {
		return h.redirectErr
	}
	h.redirects = append(h.redirects, redirect{TabID: tabID, URL: url})
	return nil
}

func (h *fakeHost) QueryTabs(_ context.Context) ([]Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Tab, 0, len(h.tabs))
	for _, tab := range h.tabs {
		out = append(out, tab)
	}
	return out, nil
}

func (h *fakeHost) put(tab Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs[tab.ID] = tab
}

func (h *fakeHost) remove(tabID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, tabID)
}

func (h *fakeHost) redirectsSnapshot() []redirect {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]redirect(nil), h.redirects...)
}

// countingKV wraps a KVStore and counts every call.
type countingKV struct {
	storage.KVStore
	mu    sync.Mutex
	calls int
}

func (c *countingKV) count() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingKV) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	c.count()
	return c.KVStore.Get(ctx, keys...)
}

func (c *countingKV) Set(ctx context.Context, values map[string][]byte) error {
	c.count()
	return c.KVStore.Set(ctx, values)
}

func (c *countingKV) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	c.count()
	return c.KVStore.Update(ctx, keys, fn)
}

// downKV fails every call as an unreachable store would.
type downKV struct{}

func (downKV) Get(context.Context, ...string) (map[string][]byte, error) {
	return nil, storage.ErrUnavailable
}
func (downKV) Set(context.Context, map[string][]byte) error { return storage.ErrUnavailable }
func (downKV) Update(context.Context, []string, storage.UpdateFunc) error {
	return storage.ErrUnavailable
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Kind)
	}
	return out
}

type harness struct {
	tracker *Tracker
	host    *fakeHost
	kv      *countingKV
	clock   *clock.TestClock
	engine  *policy.Engine
	stats   *stats.Aggregator
	idle    *idle.Monitor
}

func newHarness(t *testing.T, cfg Config, tabs ...Tab) *harness {
	t.Helper()
	return newHarnessWithKV(t, &countingKV{KVStore: memory.New().KV()}, cfg, tabs...)
}

func newHarnessWithKV(t *testing.T, kv *countingKV, cfg Config, tabs ...Tab) *harness {
	t.Helper()

	if cfg.BlockedPageURL == "" {
		cfg.BlockedPageURL = blockedPage
	}

	clk := clock.NewTestClock(monday10am)
	logger := zerolog.Nop()

	engine := policy.NewEngine(kv, policy.NewMatcher(64), time.UTC, logger)
	engine.SetClock(clk)
	agg := stats.NewAggregator(kv, clk, time.UTC, logger)
	monitor := idle.NewMonitor(kv, logger)
	host := newFakeHost(tabs...)

	tracker := NewTracker(host, engine, agg, monitor, cfg, logger)
	tracker.SetClock(clk)

	return &harness{
		tracker: tracker,
		host:    host,
		kv:      kv,
		clock:   clk,
		engine:  engine,
		stats:   agg,
		idle:    monitor,
	}
}

func (h *harness) setSchedules(t *testing.T, schedules ...policy.BlockingSchedule) {
	t.Helper()
	raw, err := json.Marshal(schedules)
	require.NoError(t, err)
	require.NoError(t, h.kv.Set(context.Background(), map[string][]byte{storage.KeyBlockingSchedules: raw}))
}

func (h *harness) today(t *testing.T) *stats.DailyStats {
	t.Helper()
	today, err := h.stats.Today(context.Background())
	require.NoError(t, err)
	return today
}

var errGone = errors.New("tab closed")

var everyDay = []int{0, 1, 2, 3, 4, 5, 6}

func workSchedule(sites ...string) policy.BlockingSchedule {
	return policy.BlockingSchedule{
		ID:           "work",
		Name:         "Work",
		Active:       true,
		Days:         []int{1, 2, 3, 4, 5},
		StartTime:    "09:00",
		EndTime:      "17:00",
		BlockedSites: sites,
	}
}
