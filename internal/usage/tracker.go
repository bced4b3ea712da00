package usage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/clock"
	"github.com/goodtune/focusguard/internal/idle"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/stats"
	"github.com/rs/zerolog"
)

// internalPrefixes are URL prefixes that belong to the browser or an
// extension. They are never timed or blocked.
var internalPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"moz-extension://",
	"edge://",
	"about:",
}

// Config holds tracker configuration
type Config struct {
	// BlockedPageURL is where blocked tabs are sent. The blocked host and
	// time are appended as site and blocked_at query parameters.
	BlockedPageURL string

	// StrictEnforcement redirects before counting the block, so a failed
	// redirect is never counted.
	StrictEnforcement bool
}

// Tracker attributes foreground time to sites and enforces blocking
// schedules. It owns the per-tab sessions and the active tab id.
type Tracker struct {
	host     Host
	policy   *policy.Engine
	stats    *stats.Aggregator
	idle     *idle.Monitor
	clock    clock.Clock
	config   Config
	logger   zerolog.Logger
	mu       sync.Mutex
	sessions map[int]*Session // key: tab id

	activeTabID   int
	activeURL     string // last URL seen for the active tab
	windowFocused bool
}

// NewTracker creates a new usage tracker
func NewTracker(host Host, engine *policy.Engine, aggregator *stats.Aggregator, monitor *idle.Monitor, config Config, logger zerolog.Logger) *Tracker {
	return &Tracker{
		host:          host,
		policy:        engine,
		stats:         aggregator,
		idle:          monitor,
		clock:         clock.RealClock{},
		config:        config,
		logger:        logger.With().Str("component", "usage-tracker").Logger(),
		sessions:      make(map[int]*Session),
		activeTabID:   NoTab,
		windowFocused: true,
	}
}

// SetClock sets the clock used for session timing (for testing)
func (t *Tracker) SetClock(c clock.Clock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = c
}

// ActiveTab returns the tab believed to be in the foreground, or NoTab.
func (t *Tracker) ActiveTab() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeTabID
}

// Session returns a copy of the tab's session.
func (t *Tracker) Session(tabID int) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[tabID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// OnTabActivated handles a tab coming to the foreground.
func (t *Tracker) OnTabActivated(ctx context.Context, tabID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activate(ctx, tabID)
}

func (t *Tracker) activate(ctx context.Context, tabID int) error {
	var errs []error

	if t.activeTabID != NoTab && t.activeTabID != tabID {
		if err := t.recordTabTime(ctx, t.activeTabID, true, ""); err != nil {
			errs = append(errs, err)
		}
	}

	t.activeTabID = tabID
	t.activeURL = ""
	t.startSession(tabID)

	tab, err := t.host.GetTab(ctx, tabID)
	if err != nil {
		t.logger.Warn().Err(err).Int("tab_id", tabID).Msg("Failed to resolve activated tab")
		return errors.Join(errs...)
	}
	t.activeURL = tab.URL

	if tab.URL != "" {
		if _, err := t.checkAndBlockSite(ctx, tab.URL, tabID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// OnTabUpdated handles a tab's URL or load status changing. A navigation in
// the foreground tab closes the old site's session and opens a new one.
func (t *Tracker) OnTabUpdated(ctx context.Context, tab Tab) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error

	if tab.ID == t.activeTabID && tab.URL != "" && tab.URL != t.activeURL {
		if t.activeURL != "" {
			if _, tracked := t.sessions[tab.ID]; tracked {
				// Attribute the elapsed time to the page being left
				if err := t.recordTabTime(ctx, tab.ID, true, t.activeURL); err != nil {
					errs = append(errs, err)
				}
				t.startSession(tab.ID)
			}
		}
		t.activeURL = tab.URL
	}

	if tab.Status == "complete" && tab.URL != "" {
		if _, err := t.checkAndBlockSite(ctx, tab.URL, tab.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// OnTabRemoved handles a tab closing. The host must still be able to
// resolve the tab while this runs so its final interval can be attributed.
func (t *Tracker) OnTabRemoved(ctx context.Context, tabID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.recordTabTime(ctx, tabID, true, "")
	if tabID == t.activeTabID {
		t.activeTabID = NoTab
		t.activeURL = ""
	}
	return err
}

// OnWindowFocusChanged handles the browser gaining or losing focus. Losing
// focus stops the active session but keeps the active tab id.
func (t *Tracker) OnWindowFocusChanged(ctx context.Context, windowID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeTabID == NoTab {
		return nil
	}

	if windowID == WindowIDNone {
		t.windowFocused = false
		t.logger.Debug().Int("tab_id", t.activeTabID).Msg("Browser lost focus")
		return t.recordTabTime(ctx, t.activeTabID, true, "")
	}

	t.windowFocused = true

	if _, tracked := t.sessions[t.activeTabID]; !tracked {
		t.logger.Debug().Int("tab_id", t.activeTabID).Msg("Browser gained focus")
		t.startSession(t.activeTabID)
	}
	return nil
}

// OnIdleChanged records a new idle snapshot. Going idle stops the active
// session; coming back opens a fresh one if the browser has focus.
func (t *Tracker) OnIdleChanged(ctx context.Context, snap idle.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasIdle := t.idle.IsIdle()

	var errs []error
	if err := t.idle.Update(ctx, snap); err != nil {
		errs = append(errs, err)
	}

	if t.activeTabID == NoTab {
		return errors.Join(errs...)
	}

	switch {
	case !wasIdle && snap.IsIdle:
		if err := t.recordTabTime(ctx, t.activeTabID, true, ""); err != nil {
			errs = append(errs, err)
		}
	case wasIdle && !snap.IsIdle && t.windowFocused:
		t.startSession(t.activeTabID)
	}

	return errors.Join(errs...)
}

// UpdateScreenTimeEverySecond flushes the foreground session without
// stopping it. It does nothing when there is no active tab, when the host
// no longer reports the tab as active, or while the user is idle.
func (t *Tracker) UpdateScreenTimeEverySecond(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeTabID == NoTab {
		return nil
	}
	if t.idle.IsIdle() {
		return nil
	}
	if _, tracked := t.sessions[t.activeTabID]; !tracked {
		return nil
	}

	tab, err := t.host.GetTab(ctx, t.activeTabID)
	if err != nil {
		t.logger.Warn().Err(err).Int("tab_id", t.activeTabID).Msg("Failed to resolve active tab")
		return nil
	}
	if !tab.Active {
		return nil
	}

	return t.recordTabTime(ctx, t.activeTabID, false, tab.URL)
}

// RecordTabTime flushes the whole seconds elapsed in a tab's session to the
// stats ledgers. With stopTracking the session is removed; otherwise it keeps
// running from the point the flush accounted for.
func (t *Tracker) RecordTabTime(ctx context.Context, tabID int, stopTracking bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordTabTime(ctx, tabID, stopTracking, "")
}

// recordTabTime must be called with t.mu held. When knownURL is empty the
// tab is resolved through the host.
func (t *Tracker) recordTabTime(ctx context.Context, tabID int, stopTracking bool, knownURL string) error {
	session, ok := t.sessions[tabID]
	if !ok {
		return nil
	}

	now := t.clock.Now()
	elapsed := int64(now.Sub(session.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	// The sub-second remainder stays in the session so continuous flushes
	// never drift.
	defer func() {
		if stopTracking {
			delete(t.sessions, tabID)
			metrics.ActiveSessions.Set(float64(len(t.sessions)))
		} else {
			session.StartTime = session.StartTime.Add(time.Duration(elapsed) * time.Second)
		}
	}()

	rawURL := knownURL
	if rawURL == "" {
		tab, err := t.host.GetTab(ctx, tabID)
		if err != nil {
			t.logger.Warn().Err(err).Int("tab_id", tabID).Msg("Failed to resolve tab, skipping flush")
			return nil
		}
		rawURL = tab.URL
	}

	if rawURL == "" || t.isInternalURL(rawURL) {
		return nil
	}

	hostname, err := hostnameOf(rawURL)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to extract hostname")
		return nil
	}

	if elapsed == 0 {
		return nil
	}

	if err := t.stats.AddSiteSeconds(ctx, hostname, elapsed); err != nil {
		return err
	}

	t.logger.Debug().
		Int("tab_id", tabID).
		Str("host", hostname).
		Int64("seconds", elapsed).
		Bool("stop", stopTracking).
		Msg("Flushed tab time")

	return nil
}

// CheckAndBlockSite redirects the tab to the blocked page when its URL is
// blocked right now. It reports whether the redirect was issued.
func (t *Tracker) CheckAndBlockSite(ctx context.Context, rawURL string, tabID int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkAndBlockSite(ctx, rawURL, tabID)
}

func (t *Tracker) checkAndBlockSite(ctx context.Context, rawURL string, tabID int) (bool, error) {
	if t.isInternalURL(rawURL) {
		return false, nil
	}

	hostname, err := hostnameOf(rawURL)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", rawURL).Msg("Failed to extract hostname, allowing")
		return false, nil
	}

	decision, err := t.policy.Evaluate(ctx, hostname)
	if err != nil {
		return false, err
	}
	if !decision.Blocked {
		return false, nil
	}

	target := t.blockedPageURL(hostname)

	var countErr error
	if !t.config.StrictEnforcement {
		// The block is counted as intended even if the redirect fails
		countErr = t.stats.IncrementBlockedCount(ctx)
	}

	if err := t.host.Redirect(ctx, tabID, target); err != nil {
		metrics.RedirectFailuresTotal.Inc()
		t.logger.Warn().
			Err(err).
			Int("tab_id", tabID).
			Str("host", hostname).
			Msg("Failed to redirect blocked tab")
		return false, countErr
	}

	if t.config.StrictEnforcement {
		countErr = t.stats.IncrementBlockedCount(ctx)
	}

	metrics.BlocksTotal.WithLabelValues(decision.ScheduleName).Inc()
	t.logger.Info().
		Int("tab_id", tabID).
		Str("host", hostname).
		Str("schedule", decision.ScheduleName).
		Str("pattern", decision.Pattern).
		Msg("Blocked site")

	return true, countErr
}

// UpdateSavedTimeEverySecond adds one saved second when any schedule is in
// force. At most one second accrues per call.
func (t *Tracker) UpdateSavedTimeEverySecond(ctx context.Context) error {
	schedule, active, err := t.policy.ActiveSchedule(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	if err := t.stats.AddSavedSecond(ctx); err != nil {
		return err
	}

	t.logger.Debug().Str("schedule", schedule.Name).Msg("Accrued saved second")
	return nil
}

// RecheckAllTabs runs the block check on every open tab and returns how many
// were redirected. It is used when schedules change.
func (t *Tracker) RecheckAllTabs(ctx context.Context) (int, error) {
	tabs, err := t.host.QueryTabs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tabs: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	blocked := 0
	var errs []error
	for _, tab := range tabs {
		if tab.URL == "" {
			continue
		}
		ok, err := t.checkAndBlockSite(ctx, tab.URL, tab.ID)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			blocked++
		}
	}

	t.logger.Info().Int("tabs", len(tabs)).Int("blocked", blocked).Msg("Rechecked open tabs")
	return blocked, errors.Join(errs...)
}

// InitializeActiveTab adopts the host's foreground tab, if any.
func (t *Tracker) InitializeActiveTab(ctx context.Context) error {
	tabs, err := t.host.QueryTabs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tabs: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tab := range tabs {
		if !tab.Active {
			continue
		}
		if tab.ID == t.activeTabID {
			return nil
		}
		t.logger.Info().Int("tab_id", tab.ID).Msg("Initialized active tab")
		return t.activate(ctx, tab.ID)
	}
	return nil
}

// FlushAll stops every session, attributing its remaining time. It is called
// on shutdown.
func (t *Tracker) FlushAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for tabID := range t.sessions {
		if err := t.recordTabTime(ctx, tabID, true, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startSession must be called with t.mu held. An existing session is kept,
// and no session opens while the user is idle.
func (t *Tracker) startSession(tabID int) {
	if t.idle.IsIdle() {
		return
	}
	if _, ok := t.sessions[tabID]; ok {
		return
	}
	t.sessions[tabID] = &Session{TabID: tabID, StartTime: t.clock.Now()}
	metrics.ActiveSessions.Set(float64(len(t.sessions)))
}

func (t *Tracker) isInternalURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return t.config.BlockedPageURL != "" && strings.HasPrefix(rawURL, t.config.BlockedPageURL)
}

// blockedPageURL builds the redirect target. Parameters are written in a
// fixed order (site, then blocked_at).
func (t *Tracker) blockedPageURL(hostname string) string {
	sep := "?"
	if strings.Contains(t.config.BlockedPageURL, "?") {
		sep = "&"
	}
	blockedAt := strconv.FormatInt(t.clock.Now().UnixMilli(), 10)
	return t.config.BlockedPageURL + sep + "site=" + url.QueryEscape(hostname) + "&blocked_at=" + blockedAt
}

// hostnameOf extracts the lowercased hostname from an absolute URL.
func hostnameOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("no hostname in %q", rawURL)
	}
	return host, nil
}
