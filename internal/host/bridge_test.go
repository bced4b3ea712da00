package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/focusguard/internal/usage"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubmitter runs hooks the way the dispatcher does and hands each event
// to the test.
type fakeSubmitter struct {
	events chan usage.Event
}

func (f *fakeSubmitter) Submit(_ context.Context, ev usage.Event) error {
	if ev.Before != nil {
		ev.Before()
	}
	f.events <- ev
	if ev.After != nil {
		ev.After()
	}
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakeSubmitter, *httptest.Server) {
	t.Helper()

	sub := &fakeSubmitter{events: make(chan usage.Event, 16)}
	b := NewBridge(NewRegistry(), zerolog.Nop())
	srv := httptest.NewServer(b.Handler(sub))
	t.Cleanup(func() {
		b.Close()
		srv.Close()
	})
	return b, sub, srv
}

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextEvent(t *testing.T, sub *fakeSubmitter) usage.Event {
	t.Helper()
	select {
	case ev := <-sub.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return usage.Event{}
	}
}

func TestBridge_InboundEvents(t *testing.T) {
	ctx := context.Background()
	b, sub, srv := newTestBridge(t)
	conn := dial(t, srv, "chrome-extension://abcdef")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "tab_updated",
		"tab":  map[string]any{"id": 4, "windowId": 1, "url": "https://example.com/", "active": true, "status": "complete"},
	}))
	ev := nextEvent(t, sub)
	assert.Equal(t, usage.EventTabUpdated, ev.Type)
	assert.Equal(t, "https://example.com/", ev.Tab.URL)

	tab, err := b.GetTab(ctx, 4)
	require.NoError(t, err)
	assert.True(t, tab.Active)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "window_focus_changed", "windowId": -1}))
	ev = nextEvent(t, sub)
	assert.Equal(t, usage.EventWindowFocusChanged, ev.Type)
	assert.Equal(t, usage.WindowIDNone, ev.WindowID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "idle_changed", "idle": map[string]any{"isIdle": true}}))
	ev = nextEvent(t, sub)
	assert.True(t, ev.Idle.IsIdle)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "tab_removed", "tabId": 4}))
	ev = nextEvent(t, sub)
	assert.Equal(t, 4, ev.TabID)
	require.Eventually(t, func() bool {
		_, err := b.GetTab(ctx, 4)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestBridge_Snapshot(t *testing.T) {
	ctx := context.Background()
	b, sub, srv := newTestBridge(t)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "tabs_snapshot",
		"tabs": []map[string]any{
			{"id": 1, "windowId": 1, "url": "https://one.example/"},
			{"id": 2, "windowId": 1, "url": "https://two.example/", "active": true},
		},
	}))
	ev := nextEvent(t, sub)
	assert.Equal(t, usage.EventTabsSnapshot, ev.Type)

	tabs, err := b.QueryTabs(ctx)
	require.NoError(t, err)
	assert.Len(t, tabs, 2)
}

func TestBridge_IgnoresBadMessages(t *testing.T) {
	_, sub, srv := newTestBridge(t)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "mystery"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "tab_updated"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "schedules_changed"}))

	// Only the valid message comes through and the connection survives
	ev := nextEvent(t, sub)
	assert.Equal(t, usage.EventSchedulesChanged, ev.Type)
}

func TestBridge_Commands(t *testing.T) {
	ctx := context.Background()
	b, _, srv := newTestBridge(t)

	assert.ErrorIs(t, b.Redirect(ctx, 1, "https://blocked.example/"), ErrNotConnected)

	conn := dial(t, srv, "moz-extension://abcdef")
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Redirect(ctx, 3, "chrome-extension://focusguard/blocked.html?site=x.com"))
	require.NoError(t, b.Notify(ctx, usage.Notification{ID: "n1", Title: "Schedule Started", Message: "Focus"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var cmd Command
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, Command{Type: "redirect", TabID: 3, URL: "chrome-extension://focusguard/blocked.html?site=x.com"}, cmd)

	cmd = Command{}
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, "notify", cmd.Type)
	assert.Equal(t, "Schedule Started", cmd.Title)
}

func TestBridge_Disconnect(t *testing.T) {
	b, _, srv := newTestBridge(t)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return b.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.Notify(context.Background(), usage.Notification{}), ErrNotConnected)
}

func TestBridge_RejectsWebOrigins(t *testing.T) {
	_, _, srv := newTestBridge(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
