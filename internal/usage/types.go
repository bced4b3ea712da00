package usage

import (
	"context"
	"errors"
	"time"
)

// NoTab means no tab is believed to be in the foreground.
const NoTab = -1

// WindowIDNone is the window id the host reports when the browser loses focus.
const WindowIDNone = -1

// ErrTabNotFound is returned by a Host when a tab id no longer resolves.
var ErrTabNotFound = errors.New("usage: tab not found")

// Tab is the host's view of a browser tab.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	Status   string `json:"status"` // "loading" or "complete"
}

// Session times one foregrounded tab.
type Session struct {
	TabID     int
	StartTime time.Time
}

// Host is the browser side of the engine: tab lookup and navigation.
type Host interface {
	// GetTab resolves a tab id. Missing tabs yield ErrTabNotFound.
	GetTab(ctx context.Context, tabID int) (Tab, error)

	// Redirect navigates the tab to url.
	Redirect(ctx context.Context, tabID int, url string) error

	// QueryTabs lists every open tab.
	QueryTabs(ctx context.Context) ([]Tab, error)
}

// Notification is a user-facing message about a schedule.
type Notification struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Schedule string `json:"schedule"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
