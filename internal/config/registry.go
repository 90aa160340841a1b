package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/readaloud/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTTS] for a provider
// name nothing was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a TTS provider from its providers entry.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// Registry maps provider names, compared case-insensitively, to factories.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
}

func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]TTSFactory)}
}

// RegisterTTS registers factory under name, replacing an earlier one.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[strings.ToLower(name)] = factory
}

// CreateTTS runs the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[strings.ToLower(entry.Name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts %q (known: %s)", ErrProviderNotRegistered, entry.Name, strings.Join(r.Names(), ", "))
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create tts %q: %w", entry.Name, err)
	}
	return p, nil
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tts))
}
