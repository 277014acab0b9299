// Package web serves the browser surface: a WebSocket hub that pushes
// display events to every connected page and optionally receives the
// page's microphone audio, plus a small JSON API over the turn state and
// history.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/pkg/audio/analysis"
)

const (
	// clientBuffer is the number of queued events per client. A client
	// that falls this far behind is disconnected.
	clientBuffer = 64

	writeTimeout = 5 * time.Second

	// maxAudioMessage bounds a single binary message from a page.
	maxAudioMessage = 64 << 10
)

// Event is one message pushed to connected pages.
type Event struct {
	Kind   string    `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Volume float64   `json:"volume,omitempty"`
	Levels []float64 `json:"levels,omitempty"`
}

// KindLevels is the event kind of volume and band level updates.
const KindLevels = "levels"

// AudioSink receives binary audio messages from pages. Only one page owns
// the microphone at a time; Reset is called whenever ownership is taken or
// released so the sink starts a fresh stream.
type AudioSink interface {
	Push(payload []byte) error
	Reset()
}

type client struct {
	send chan []byte
	// gone is closed when the hub drops the client.
	gone chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.gone) })
}

// Hub fans display events out to WebSocket clients. It is safe for
// concurrent use.
type Hub struct {
	sink     AudioSink
	metrics  *observe.Metrics
	patterns []string

	mu      sync.Mutex
	clients map[*client]struct{}
	// owner is the client whose audio reaches the sink.
	owner *client
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithAudioSink forwards binary messages from pages to sink.
func WithAudioSink(sink AudioSink) HubOption {
	return func(h *Hub) { h.sink = sink }
}

// WithHubMetrics tracks connected clients on m.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin pages matching patterns to connect.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.patterns = append(h.patterns, patterns...) }
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Display implements turn.Display.
func (h *Hub) Display(kind, text string) {
	h.Broadcast(Event{Kind: kind, Text: text})
}

// DisplayLevels implements turn.LevelsDisplay.
func (h *Hub) DisplayLevels(volume float64, bands [analysis.Bands]float64) {
	h.Broadcast(Event{Kind: KindLevels, Volume: volume, Levels: bands[:]})
}

// Broadcast queues ev for every client. Clients whose queue is full are
// dropped.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("web: encode event", "kind", ev.Kind, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("web: client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveClients.Add(context.Background(), 1)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.drop()
	if h.metrics != nil {
		h.metrics.ActiveClients.Add(context.Background(), -1)
	}
	if h.owner == c {
		h.owner = nil
		h.sink.Reset()
		slog.Debug("web: microphone released")
	}
}

// claim reports whether c may stream audio, making it the owner when no
// other client holds the microphone.
func (h *Hub) claim(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.owner {
	case c:
		return true
	case nil:
		if _, ok := h.clients[c]; !ok {
			return false
		}
		h.owner = c
		h.sink.Reset()
		slog.Debug("web: microphone claimed")
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request and serves the client until either side
// closes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.patterns})
	if err != nil {
		slog.Debug("web: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxAudioMessage)

	c := &client{send: make(chan []byte, clientBuffer), gone: make(chan struct{})}
	h.add(c)
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(ctx, cancel, conn, c)

	err = writeLoop(ctx, conn, c)
	switch {
	case errors.Is(err, errSlowClient):
		conn.Close(websocket.StatusPolicyViolation, "client too slow")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		slog.Debug("web: websocket write failed", "err", err)
		conn.CloseNow()
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

var errSlowClient = errors.New("web: client too slow")

func writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.gone:
			return errSlowClient
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// readLoop forwards binary messages from the microphone owner to the sink
// and cancels ctx when the connection ends. Text messages and audio from
// other clients are ignored.
func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	rejected := false
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || h.sink == nil {
			continue
		}
		if !h.claim(c) {
			if !rejected {
				rejected = true
				slog.Debug("web: microphone in use by another client, ignoring audio")
			}
			continue
		}
		if err := h.sink.Push(data); err != nil {
			slog.Debug("web: dropping audio message", "err", err)
		}
	}
}
