package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a preferred value and its fallbacks, each behind its own
// [CircuitBreaker]. Members are tried in the order they were added.
type Group[T any] struct {
	cfg BreakerConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewGroup returns an empty group. cfg is the template for every member's
// breaker; its Name is replaced by the member name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg.withDefaults()}
}

// Add appends a member.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// States returns the breaker state per member name.
func (g *Group[T]) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Do calls fn with each member in order until one succeeds and returns that
// result and member name. When all fail the error wraps [ErrAllFailed] and
// the last member error. Do is a function because methods cannot declare
// type parameters.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, string, error) {
	g.mu.RLock()
	members := append([]member[T](nil), g.members...)
	g.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for _, m := range members {
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		if err == nil {
			return res, m.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.cfg.Logger.Debug("skipping endpoint with open circuit", slog.String("endpoint", m.name))
			continue
		}
		g.cfg.Logger.Warn("endpoint failed, trying next", slog.String("endpoint", m.name), slog.Any("err", err))
	}
	if lastErr == nil {
		lastErr = errors.New("group is empty")
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
