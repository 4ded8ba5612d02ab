// Package mock provides test doubles for the classifier package interfaces.
//
// Use Engine to verify that sessions are opened with the expected Config.
// Use Session to push scripted results into a consumer and to end the stream
// with or without an error.
//
// Example:
//
//	eng := &mock.Engine{}
//	handle, _ := eng.Listen(ctx, cfg)
//	eng.LastSession().Send(classifier.Result{Scores: []float64{0.1, 0.9}})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// DefaultBuffer is the Results capacity of sessions created by [Engine].
const DefaultBuffer = 64

// Engine is a mock implementation of classifier.Engine.
type Engine struct {
	mu sync.Mutex

	// Session, if non-nil, is returned by every Listen call. Otherwise each
	// call creates a fresh [Session] that is retrievable via LastSession.
	Session classifier.SessionHandle

	// ListenErr, if non-nil, is returned as the error from Listen.
	ListenErr error

	// ListenCalls records the Config of every Listen call in order.
	ListenCalls []classifier.Config

	sessions []*Session
}

// Listen records the call and returns Session, ListenErr.
func (e *Engine) Listen(ctx context.Context, cfg classifier.Config) (classifier.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ListenCalls = append(e.ListenCalls, cfg)
	if e.ListenErr != nil {
		return nil, e.ListenErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	s := NewSession(DefaultBuffer)
	e.sessions = append(e.sessions, s)
	return s, nil
}

// LastSession returns the most recent session created by Listen, or nil.
func (e *Engine) LastSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// ListenCount returns how many times Listen was called.
func (e *Engine) ListenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ListenCalls)
}

// Ensure Engine implements classifier.Engine at compile time.
var _ classifier.Engine = (*Engine)(nil)

// Session is a mock implementation of classifier.SessionHandle.
type Session struct {
	mu      sync.Mutex
	results chan classifier.Result
	ended   bool
	err     error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session whose Results channel holds up to buffer
// undelivered results.
func NewSession(buffer int) *Session {
	return &Session{results: make(chan classifier.Result, buffer)}
}

// Results returns the result channel.
func (s *Session) Results() <-chan classifier.Result { return s.results }

// Send delivers r to the consumer and reports whether the session was still
// open. Send blocks while the buffer is full.
func (s *Session) Send(r classifier.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.results <- r
	return true
}

// SendScores is shorthand for Send with only Scores set.
func (s *Session) SendScores(scores ...float64) bool {
	return s.Send(classifier.Result{Scores: scores})
}

// Fail ends the session with err.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.ended = true
	close(s.results)
}

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, ends the session and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.ended {
		s.ended = true
		close(s.results)
	}
	return s.CloseErr
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Ensure Session implements classifier.SessionHandle at compile time.
var _ classifier.SessionHandle = (*Session)(nil)
