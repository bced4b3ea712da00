// Package idle holds the composite idle signal reported by the extension.
package idle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// Snapshot is the full idle state as reported by the signal source. It is
// always replaced wholesale, never merged.
type Snapshot struct {
	IsIdle                bool  `json:"isIdle"`
	LastActivity          int64 `json:"lastActivity"` // epoch milliseconds
	MouseMovement         bool  `json:"mouseMovement"`
	KeyPress              bool  `json:"keyPress"`
	Scrolling             bool  `json:"scrolling"`
	VideoPlaying          bool  `json:"videoPlaying"`
	AudioPlaying          bool  `json:"audioPlaying"`
	TabFocused            bool  `json:"tabFocused"`
	TimeSinceLastActivity int64 `json:"timeSinceLastActivity"` // milliseconds, advisory
}

// LastActivityTime returns LastActivity as a time.Time.
func (s Snapshot) LastActivityTime() time.Time {
	if s.LastActivity == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastActivity)
}

// Monitor holds the current snapshot and persists it under smartIdleState.
type Monitor struct {
	mu      sync.RWMutex
	current Snapshot
	kv      storage.KVStore
	logger  zerolog.Logger
}

// NewMonitor creates a monitor that reports "not idle" until loaded or updated.
func NewMonitor(kv storage.KVStore, logger zerolog.Logger) *Monitor {
	return &Monitor{
		kv:     kv,
		logger: logger.With().Str("component", "idle").Logger(),
	}
}

// Load restores the last persisted snapshot.
func (m *Monitor) Load(ctx context.Context) error {
	values, err := m.kv.Get(ctx, storage.KeySmartIdleState)
	if err != nil {
		return fmt.Errorf("failed to load idle state: %w", err)
	}

	var snap Snapshot
	if err := storage.Decode(values, storage.KeySmartIdleState, &snap); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()

	m.logger.Debug().Bool("idle", snap.IsIdle).Msg("Loaded idle state")
	return nil
}

// Update replaces the held snapshot and persists it. The in-memory value is
// replaced even when persisting fails.
func (m *Monitor) Update(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	prev := m.current
	m.current = snap
	m.mu.Unlock()

	if prev.IsIdle != snap.IsIdle {
		m.logger.Info().Bool("idle", snap.IsIdle).Msg("Idle state changed")
	}

	raw, err := storage.Encode(storage.KeySmartIdleState, snap)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, map[string][]byte{storage.KeySmartIdleState: raw}); err != nil {
		return fmt.Errorf("failed to persist idle state: %w", err)
	}
	return nil
}

// Current returns the last known snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsIdle reports the composite idle flag.
func (m *Monitor) IsIdle() bool {
	return m.Current().IsIdle
}
