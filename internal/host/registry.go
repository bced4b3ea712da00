package host

import (
	"context"
	"sort"
	"sync"

	"github.com/goodtune/focusguard/internal/usage"
)

// Registry mirrors the browser's tab table from bridge events. It is the
// tracker's view of the host: lookups never leave the process.
type Registry struct {
	mu   sync.RWMutex
	tabs map[int]usage.Tab // key: tab id
}

// NewRegistry creates an empty tab registry
func NewRegistry() *Registry {
	return &Registry{tabs: make(map[int]usage.Tab)}
}

// Upsert adds or replaces a tab. A tab reported active becomes the only
// active tab in its window.
func (r *Registry) Upsert(tab usage.Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tab.Active {
		r.deactivateWindow(tab.WindowID)
	}
	r.tabs[tab.ID] = tab
}

// Remove forgets a tab.
func (r *Registry) Remove(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabID)
}

// Replace swaps the whole table for a snapshot.
func (r *Registry) Replace(tabs []usage.Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tabs = make(map[int]usage.Tab, len(tabs))
	for _, tab := range tabs {
		r.tabs[tab.ID] = tab
	}
}

// SetActive marks a tab as the foreground tab of its window. Unknown tabs
// are recorded with just their id so the activation is not lost.
func (r *Registry) SetActive(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, ok := r.tabs[tabID]
	if !ok {
		tab = usage.Tab{ID: tabID, WindowID: usage.WindowIDNone}
	}
	r.deactivateWindow(tab.WindowID)
	tab.Active = true
	r.tabs[tabID] = tab
}

// deactivateWindow must be called with r.mu held.
func (r *Registry) deactivateWindow(windowID int) {
	for id, other := range r.tabs {
		if other.WindowID == windowID && other.Active {
			other.Active = false
			r.tabs[id] = other
		}
	}
}

// GetTab resolves a tab id.
func (r *Registry) GetTab(_ context.Context, tabID int) (usage.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tab, ok := r.tabs[tabID]
	if !ok {
		return usage.Tab{}, usage.ErrTabNotFound
	}
	return tab, nil
}

// QueryTabs lists every known tab ordered by id.
func (r *Registry) QueryTabs(_ context.Context) ([]usage.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tabs := make([]usage.Tab, 0, len(r.tabs))
	for _, tab := range r.tabs {
		tabs = append(tabs, tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

// Len returns the number of known tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
