package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voicesim/pkg/audio"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// Registry maps backend names to constructor functions for microphones and
// audio outputs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	input  map[string]func(DeviceEntry) (audio.Microphone, error)
	output map[string]func(DeviceEntry) (audio.Output, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		input:  make(map[string]func(DeviceEntry) (audio.Microphone, error)),
		output: make(map[string]func(DeviceEntry) (audio.Output, error)),
	}
}

// RegisterMicrophone registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterMicrophone(name string, factory func(DeviceEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers a playback backend factory under name.
func (r *Registry) RegisterOutput(name string, factory func(DeviceEntry) (audio.Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateMicrophone instantiates the capture backend registered under entry.Name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateMicrophone(entry DeviceEntry) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.input[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateOutput instantiates the playback backend registered under entry.Name.
func (r *Registry) CreateOutput(entry DeviceEntry) (audio.Output, error) {
	r.mu.RLock()
	factory, ok := r.output[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}
