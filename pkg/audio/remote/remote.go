// Package remote provides an audio.Transport that drives a player attached
// over a WebSocket.
//
// The player (typically a browser page holding two audio elements) connects
// to the handler returned by [Transport.Handler]. Every command is one JSON
// text frame:
//
//	{"id":"6f1c...","op":"volume","channel":"secondary","volume":0.35}
//
// Play and pause are acknowledged by the player with a frame carrying the
// same id:
//
//	{"id":"6f1c...","ok":false,"code":"not_allowed","error":"autoplay denied"}
//
// A not_allowed code is reported as an [audio.PlaybackError] with Blocked
// set. Mute, volume and source commands are queued without awaiting an ack.
// The transport remembers the last commanded state of both channels and
// replays it when a player (re)connects. Only one player is attached at a
// time; a new connection replaces the old one.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/audio/memory"
)

const (
	defaultAckTimeout   = 5 * time.Second
	defaultWriteTimeout = 2 * time.Second
	defaultQueueSize    = 256

	// CodeNotAllowed is the ack code a player sends when it may not start
	// playback without user interaction.
	CodeNotAllowed = "not_allowed"
)

var (
	// ErrNotConnected is returned by Play and Pause while no player is
	// attached, and for awaited commands whose player disconnected.
	ErrNotConnected = errors.New("remote: player not connected")

	// ErrQueueFull is returned when the player is not draining commands.
	ErrQueueFull = errors.New("remote: command queue full")
)

// Command is a server to player frame.
type Command struct {
	ID      string  `json:"id"`
	Op      string  `json:"op"`
	Channel string  `json:"channel"`
	Muted   bool    `json:"muted"`
	Volume  float64 `json:"volume"`
	Source  string  `json:"source,omitempty"`
}

// Ack is a player to server reply to play or pause.
type Ack struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Option is a functional option for configuring the Transport.
type Option func(*Transport)

// WithAckTimeout sets how long Play and Pause wait for the player.
func WithAckTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.ackTimeout = d
		}
	}
}

// WithQueueSize sets the per-connection outbound command buffer.
func WithQueueSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithOriginPatterns allows cross-origin players matching the given host
// patterns. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(t *Transport) {
		t.origins = append(t.origins, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Transport implements audio.Transport for a remote player.
//
// All methods are safe for concurrent use.
type Transport struct {
	ackTimeout time.Duration
	queueSize  int
	origins    []string
	log        *slog.Logger

	state memory.Transport

	mu   sync.Mutex
	conn *playerConn
}

// Compile-time interface assertion.
var _ audio.Transport = (*Transport)(nil)

// New returns a Transport with no player attached.
func New(opts ...Option) *Transport {
	t := &Transport{
		ackTimeout: defaultAckTimeout,
		queueSize:  defaultQueueSize,
		log:        slog.Default().With(slog.String("component", "player")),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// playerConn is one attached player.
type playerConn struct {
	id   string
	ws   *websocket.Conn
	send chan Command
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending map[string]chan Ack
}

func (c *playerConn) close() {
	c.once.Do(func() { close(c.done) })
}

// Handler returns the WebSocket endpoint players attach to.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(t.serve)
}

func (t *Transport) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: t.origins})
	if err != nil {
		t.log.Warn("player handshake failed", slog.Any("err", err))
		return
	}

	c := &playerConn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan Command, t.queueSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan Ack),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go t.writeLoop(ctx, c)
	t.attach(c)
	t.log.Info("player connected", slog.String("player_id", c.id), slog.String("remote", r.RemoteAddr))

	err = t.readLoop(ctx, c)

	t.detach(c)
	c.close()
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		t.log.Info("player disconnected", slog.String("player_id", c.id))
	} else {
		t.log.Warn("player connection lost", slog.String("player_id", c.id), slog.Any("err", err))
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// attach makes c the current player and replays the remembered state.
func (t *Transport) attach(c *playerConn) {
	replay := func(cmd Command) {
		cmd.ID = uuid.NewString()
		select {
		case c.send <- cmd:
		case <-c.done:
		}
	}
	for _, ch := range audio.Channels {
		st := t.state.State(ch)
		name := ch.String()
		if st.Source != "" {
			replay(Command{Op: "source", Channel: name, Source: st.Source})
		}
		replay(Command{Op: "mute", Channel: name, Muted: st.Muted})
		replay(Command{Op: "volume", Channel: name, Volume: st.Volume})
	}

	t.mu.Lock()
	old := t.conn
	t.conn = c
	t.mu.Unlock()
	if old != nil {
		old.close()
		_ = old.ws.Close(websocket.StatusGoingAway, "replaced by a new player")
	}
}

func (t *Transport) detach(c *playerConn) {
	t.mu.Lock()
	if t.conn == c {
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *Transport) current() *playerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) writeLoop(ctx context.Context, c *playerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.send:
			data, err := json.Marshal(cmd)
			if err != nil {
				t.log.Error("failed to encode player command", slog.Any("err", err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, c *playerConn) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.failPending()
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var ack Ack
		if err := json.Unmarshal(data, &ack); err != nil || ack.ID == "" {
			t.log.Debug("ignoring player frame", slog.String("player_id", c.id))
			continue
		}
		c.mu.Lock()
		waiter, ok := c.pending[ack.ID]
		delete(c.pending, ack.ID)
		c.mu.Unlock()
		if ok {
			waiter <- ack
		}
	}
}

// failPending wakes every awaited command with a disconnect.
func (c *playerConn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
}

// Connected reports whether a player is attached.
func (t *Transport) Connected() bool {
	return t.current() != nil
}

// State returns the last commanded state of ch.
func (t *Transport) State(ch audio.Channel) audio.ChannelState {
	return t.state.State(ch)
}

// Play asks the player to start ch and waits for its ack.
func (t *Transport) Play(ctx context.Context, ch audio.Channel) error {
	ack, err := t.await(ctx, Command{Op: "play", Channel: ch.String()})
	if err != nil {
		return &audio.PlaybackError{Channel: ch, Reason: err.Error()}
	}
	if !ack.OK {
		return &audio.PlaybackError{Channel: ch, Blocked: ack.Code == CodeNotAllowed, Reason: ack.Error}
	}
	return t.state.Play(ctx, ch)
}

// Pause asks the player to pause ch and waits for its ack.
func (t *Transport) Pause(ctx context.Context, ch audio.Channel) error {
	ack, err := t.await(ctx, Command{Op: "pause", Channel: ch.String()})
	if err != nil {
		return fmt.Errorf("remote: pause %s: %w", ch, err)
	}
	if !ack.OK {
		return fmt.Errorf("remote: pause %s: %s", ch, ack.Error)
	}
	return t.state.Pause(ctx, ch)
}

// SetMuted queues a mute command.
func (t *Transport) SetMuted(ch audio.Channel, muted bool) error {
	_ = t.state.SetMuted(ch, muted)
	return t.enqueue(Command{Op: "mute", Channel: ch.String(), Muted: muted})
}

// SetVolume queues a volume command. volume is clamped to [0, 1].
func (t *Transport) SetVolume(ch audio.Channel, volume float64) error {
	v := audio.ClampVolume(volume)
	_ = t.state.SetVolume(ch, v)
	return t.enqueue(Command{Op: "volume", Channel: ch.String(), Volume: v})
}

// SetSource queues a source command.
func (t *Transport) SetSource(ch audio.Channel, source string) error {
	_ = t.state.SetSource(ch, source)
	return t.enqueue(Command{Op: "source", Channel: ch.String(), Source: source})
}

// enqueue sends cmd to the current player without blocking. With no player
// attached the command is dropped; the remembered state is replayed on
// connect.
func (t *Transport) enqueue(cmd Command) error {
	c := t.current()
	if c == nil {
		return nil
	}
	cmd.ID = uuid.NewString()
	select {
	case c.send <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (t *Transport) await(ctx context.Context, cmd Command) (Ack, error) {
	c := t.current()
	if c == nil {
		return Ack{}, ErrNotConnected
	}
	cmd.ID = uuid.NewString()
	waiter := make(chan Ack, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	select {
	case c.send <- cmd:
	case <-c.done:
		return Ack{}, ErrNotConnected
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}

	timer := time.NewTimer(t.ackTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-waiter:
		if !ok {
			return Ack{}, ErrNotConnected
		}
		return ack, nil
	case <-c.done:
		return Ack{}, ErrNotConnected
	case <-timer.C:
		return Ack{}, fmt.Errorf("remote: %s %s: no ack within %v", cmd.Op, cmd.Channel, t.ackTimeout)
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}
