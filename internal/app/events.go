package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/radiogate/internal/engine"
)

// Event types pushed on /engine/events.
const (
	EventStatus     = "status"
	EventModeChange = "mode_change"
	EventConfidence = "confidence"
	EventError      = "error"
)

const (
	subscriberBuffer  = 64
	eventWriteTimeout = 2 * time.Second
)

// Event is one JSON frame on the events stream. Exactly one of the payload
// fields is set, matching Type.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`

	Status *engine.Status     `json:"status,omitempty"`
	Mode   *engine.ModeChange `json:"mode,omitempty"`

	// Confidence and Percent are set for confidence events.
	Confidence *float64 `json:"confidence,omitempty"`
	Percent    *int     `json:"percent,omitempty"`

	Error string `json:"error,omitempty"`
}

type subscriber struct {
	id   string
	send chan []byte
}

// hub fans engine events out to WebSocket observers.
//
// publish never blocks: it runs on the router's goroutine. A subscriber
// that falls behind loses events rather than stalling routing.
type hub struct {
	log     *slog.Logger
	origins []string
	status  func() engine.Status

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func newHub(status func() engine.Status, origins []string, log *slog.Logger) *hub {
	return &hub{
		log:     log,
		origins: origins,
		status:  status,
		subs:    make(map[*subscriber]struct{}),
		done:    make(chan struct{}),
	}
}

// attach registers the hub's listeners on ctrl.
func (h *hub) attach(ctrl engine.Controller) {
	ctrl.OnModeChange(func(ev engine.ModeChange) {
		h.publish(Event{Type: EventModeChange, At: ev.At, Mode: &ev})
	})
	ctrl.OnConfidence(func(s engine.ConfidenceSample) {
		v, pct := s.Value, s.Percent()
		h.publish(Event{Type: EventConfidence, At: s.At, Confidence: &v, Percent: &pct})
	})
	ctrl.OnError(func(err error) {
		h.publish(Event{Type: EventError, At: time.Now(), Error: err.Error()})
	})
}

func (h *hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", slog.String("type", ev.Type), slog.Any("err", err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			h.log.Debug("dropping event for slow observer", slog.String("observer_id", s.id))
		}
	}
}

// subscribers returns the number of attached observers.
func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &subscriber{id: uuid.NewString(), send: make(chan []byte, subscriberBuffer)}
	h.subs[s] = struct{}{}
	return s, true
}

func (h *hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// close disconnects every observer. Later connections are refused.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

// ServeHTTP upgrades the request and streams events until the observer
// leaves or the hub closes. The first frame is a status snapshot.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, ok := h.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(s)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("events handshake failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()

	// Observers never send; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	st := h.status()
	snapshot, _ := json.Marshal(Event{Type: EventStatus, At: time.Now(), Status: &st})
	if err := h.write(ctx, conn, snapshot); err != nil {
		return
	}

	h.log.Debug("observer connected", slog.String("observer_id", s.id))
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case data := <-s.send:
			if err := h.write(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func (h *hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
