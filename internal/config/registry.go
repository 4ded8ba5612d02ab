package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/radiogate/pkg/audio"
	"github.com/MrWong99/radiogate/pkg/provider/classifier"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	classifier map[string]func(ProviderEntry) (classifier.Engine, error)
	transport  map[string]func(ProviderEntry) (audio.Transport, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifier: make(map[string]func(ProviderEntry) (classifier.Engine, error)),
		transport:  make(map[string]func(ProviderEntry) (audio.Transport, error)),
	}
}

// RegisterClassifier registers a classifier engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterTransport registers an audio transport factory under name.
func (r *Registry) RegisterTransport(name string, factory func(ProviderEntry) (audio.Transport, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport[name] = factory
}

// CreateClassifier instantiates a classifier engine using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Engine, error) {
	r.mu.RLock()
	factory, ok := r.classifier[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTransport instantiates an audio transport using the factory
// registered under entry.Name.
func (r *Registry) CreateTransport(entry ProviderEntry) (audio.Transport, error) {
	r.mu.RLock()
	factory, ok := r.transport[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
