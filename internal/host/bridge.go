package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/idle"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/usage"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // tab snapshots can be large
	sendBuffer     = 64
)

// ErrNotConnected is returned when a command is sent with no extension
// attached to the bridge.
var ErrNotConnected = errors.New("host: no extension connected")

// Submitter queues events for the tracker. *usage.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, ev usage.Event) error
}

// Message is the inbound wire format sent by the extension.
type Message struct {
	Type     string         `json:"type"`
	TabID    int            `json:"tabId,omitempty"`
	WindowID int            `json:"windowId,omitempty"`
	Tab      *usage.Tab     `json:"tab,omitempty"`
	Tabs     []usage.Tab    `json:"tabs,omitempty"`
	Idle     *idle.Snapshot `json:"idle,omitempty"`
}

// Command is the outbound wire format.
type Command struct {
	Type    string `json:"type"`
	TabID   int    `json:"tabId,omitempty"`
	URL     string `json:"url,omitempty"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Bridge connects the engine to the browser extension over a WebSocket. It
// implements usage.Host and usage.Notifier on top of the tab registry; its
// Handler turns inbound messages into dispatcher events.
type Bridge struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewBridge creates a new bridge
func NewBridge(registry *Registry, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		registry: registry,
		logger:   logger.With().Str("component", "bridge").Logger(),
		clients:  make(map[*client]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowOrigin,
	}
	return b
}

// allowOrigin accepts extension pages and non-browser clients. Web pages
// must not be able to drive the engine.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, scheme := range []string{"chrome-extension://", "moz-extension://", "extension://"} {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	return false
}

// Clients returns the number of attached extensions.
func (b *Bridge) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handler returns the WebSocket endpoint. Each connection is served until
// the extension disconnects, with its messages queued on events.
func (b *Bridge) Handler(events Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.serve(w, r, events)
	})
}

func (b *Bridge) serve(w http.ResponseWriter, r *http.Request, events Submitter) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Bridge upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	b.register(c)
	defer b.unregister(c)

	b.logger.Info().Str("remote", r.RemoteAddr).Msg("Extension connected")

	go b.writePump(c)
	b.readPump(r.Context(), c, events)

	b.logger.Info().Str("remote", r.RemoteAddr).Msg("Extension disconnected")
}

func (b *Bridge) register(c *client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	metrics.BridgeClients.Inc()
}

func (b *Bridge) unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		metrics.BridgeClients.Dec()
	}
	b.mu.Unlock()
}

func (b *Bridge) readPump(ctx context.Context, c *client, events Submitter) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn().Err(err).Msg("Bridge read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn().Err(err).Msg("Malformed bridge message")
			continue
		}

		ev, ok := b.toEvent(msg)
		if !ok {
			b.logger.Warn().Str("type", msg.Type).Msg("Unknown bridge message type")
			continue
		}

		if err := events.Submit(ctx, ev); err != nil {
			b.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to queue bridge event")
			return
		}
	}
}

// toEvent maps a message to a dispatcher event. Registry changes ride along
// as hooks so they happen in order with the tracker's handling: new state
// is applied before the handler runs, and a removed tab stays resolvable
// until the handler is done with it.
func (b *Bridge) toEvent(msg Message) (usage.Event, bool) {
	ev := usage.Event{Type: usage.EventType(msg.Type)}

	switch ev.Type {
	case usage.EventTabCreated, usage.EventTabUpdated:
		if msg.Tab == nil {
			return ev, false
		}
		tab := *msg.Tab
		ev.Tab = tab
		ev.TabID = tab.ID
		ev.Before = func() { b.registry.Upsert(tab) }
	case usage.EventTabRemoved:
		tabID := msg.TabID
		ev.TabID = tabID
		ev.After = func() { b.registry.Remove(tabID) }
	case usage.EventTabActivated:
		tabID := msg.TabID
		ev.TabID = tabID
		ev.Before = func() { b.registry.SetActive(tabID) }
	case usage.EventWindowFocusChanged:
		ev.WindowID = msg.WindowID
	case usage.EventIdleChanged:
		if msg.Idle == nil {
			return ev, false
		}
		ev.Idle = *msg.Idle
	case usage.EventTabsSnapshot:
		tabs := msg.Tabs
		ev.Tabs = tabs
		ev.Before = func() { b.registry.Replace(tabs) }
	case usage.EventSchedulesChanged:
	default:
		return ev, false
	}
	return ev, true
}

func (b *Bridge) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.Warn().Err(err).Msg("Bridge write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send queues a command for every attached extension.
func (b *Bridge) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode %s command: %w", cmd.Type, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.clients) == 0 {
		return ErrNotConnected
	}

	delivered := 0
	for c := range b.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			b.logger.Warn().Str("type", cmd.Type).Msg("Bridge send buffer full, dropping command")
		}
	}
	if delivered == 0 {
		return fmt.Errorf("%s command dropped: send buffers full", cmd.Type)
	}
	return nil
}

// GetTab resolves a tab from the registry.
func (b *Bridge) GetTab(ctx context.Context, tabID int) (usage.Tab, error) {
	return b.registry.GetTab(ctx, tabID)
}

// QueryTabs lists the registry's tabs.
func (b *Bridge) QueryTabs(ctx context.Context) ([]usage.Tab, error) {
	return b.registry.QueryTabs(ctx)
}

// Redirect asks the extension to navigate a tab.
func (b *Bridge) Redirect(_ context.Context, tabID int, url string) error {
	return b.send(Command{Type: "redirect", TabID: tabID, URL: url})
}

// Notify asks the extension to show a notification.
func (b *Bridge) Notify(_ context.Context, n usage.Notification) error {
	return b.send(Command{Type: "notify", ID: n.ID, Title: n.Title, Message: n.Message})
}

// Close disconnects every extension.
func (b *Bridge) Close() {
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c.conn)
	}
	b.mu.RUnlock()

	deadline := time.Now().Add(writeWait)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		conn.Close()
	}
}

var (
	_ usage.Host     = (*Bridge)(nil)
	_ usage.Notifier = (*Bridge)(nil)
)
