// Package remote provides a classifier.Engine that receives score vectors
// from a classification service over a WebSocket.
//
// The service runs the model next to the audio input (for example in a
// browser using a speech-commands recogniser) and streams one JSON text frame
// per classification window:
//
//	{"type":"result","scores":[0.02,0.97],"labels":["_background_noise_","ad"]}
//
// On connect the client sends the listen options, and on Close it sends a
// stop message before closing the socket:
//
//	{"type":"listen","probability_threshold":0.75,"overlap_factor":0.5}
//	{"type":"stop"}
//
// Frames with any other type are ignored.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

const (
	defaultBuffer       = 64
	defaultStopDeadline = time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithAPIKey sets a bearer token sent in the Authorization header.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithBuffer sets the capacity of each session's Results channel.
func WithBuffer(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements classifier.Engine over a WebSocket stream.
type Provider struct {
	url        string
	apiKey     string
	buffer     int
	httpClient *http.Client
}

// Ensure Provider implements classifier.Engine at compile time.
var _ classifier.Engine = (*Provider)(nil)

// New creates a Provider for the service at baseURL. http and https URLs are
// rewritten to ws and wss.
func New(baseURL string, opts ...Option) (*Provider, error) {
	u, err := normalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	p := &Provider{url: u, buffer: defaultBuffer}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func normalizeURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("remote: base URL must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("remote: parse base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// URL returns the WebSocket endpoint the provider dials.
func (p *Provider) URL() string { return p.url }

// listenMessage is sent once after the handshake.
type listenMessage struct {
	Type                 string  `json:"type"`
	ProbabilityThreshold float64 `json:"probability_threshold"`
	OverlapFactor        float64 `json:"overlap_factor"`
}

// serverMessage is any frame received from the service.
type serverMessage struct {
	Type   string    `json:"type"`
	Scores []float64 `json:"scores"`
	Labels []string  `json:"labels"`
}

// Listen dials the service and starts streaming results.
func (p *Provider) Listen(ctx context.Context, cfg classifier.Config) (classifier.SessionHandle, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &websocket.DialOptions{HTTPClient: p.httpClient}
	if p.apiKey != "" {
		opts.HTTPHeader = http.Header{}
		opts.HTTPHeader.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, p.url, opts)
	if err != nil {
		return nil, fmt.Errorf("remote: dial: %w", err)
	}

	hello, err := json.Marshal(listenMessage{
		Type:                 "listen",
		ProbabilityThreshold: cfg.ProbabilityThreshold,
		OverlapFactor:        cfg.OverlapFactor,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal")
		return nil, fmt.Errorf("remote: marshal listen: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "listen failed")
		return nil, fmt.Errorf("remote: send listen: %w", err)
	}

	sess := &session{
		conn:    conn,
		results: make(chan classifier.Result, p.buffer),
		done:    make(chan struct{}),
	}
	sess.wg.Add(1)
	go sess.readLoop(ctx)
	return sess, nil
}

// ---- session ----

// session is a live listen stream. It implements classifier.SessionHandle.
type session struct {
	conn    *websocket.Conn
	results chan classifier.Result

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Results returns the channel of classification results.
func (s *session) Results() <-chan classifier.Result { return s.results }

// Err returns the error that ended the stream, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a stop message and closes the socket.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), defaultStopDeadline)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`))
		cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// readLoop decodes frames and forwards result messages until the socket
// closes.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if !s.closing() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.mu.Lock()
				s.err = fmt.Errorf("remote: read: %w", err)
				s.mu.Unlock()
			}
			return
		}

		r, ok := parseMessage(data)
		if !ok {
			continue
		}
		select {
		case s.results <- r:
		case <-s.done:
			return
		}
	}
}

// parseMessage decodes a frame into a Result. Non-result or malformed frames
// report false.
func parseMessage(data []byte) (classifier.Result, bool) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return classifier.Result{}, false
	}
	if msg.Type != "result" {
		return classifier.Result{}, false
	}
	return classifier.Result{
		Scores: msg.Scores,
		Labels: msg.Labels,
		At:     time.Now(),
	}, true
}
