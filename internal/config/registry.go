package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aulavoz/voicetutor/pkg/audio"
	"github.com/aulavoz/voicetutor/pkg/provider/llm"
	"github.com/aulavoz/voicetutor/pkg/provider/stt"
	"github.com/aulavoz/voicetutor/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	stt   map[string]func(ProviderEntry) (stt.Provider, error)
	llm   map[string]func(ProviderEntry) (llm.Provider, error)
	tts   map[string]func(ProviderEntry) (tts.Provider, error)
	audio map[string]func(ProviderEntry) (audio.Platform, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:   make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:   make(map[string]func(ProviderEntry) (tts.Provider, error)),
		audio: make(map[string]func(ProviderEntry) (audio.Platform, error)),
	}
}

// RegisterSTT registers an STT factory under name, replacing any previous
// one.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterAudio registers an audio platform factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateSTT builds the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, "stt", entry)
}

// CreateLLM builds the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry)
}

// CreateTTS builds the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, r.tts, "tts", entry)
}

// CreateAudio builds the audio platform registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	return create(&r.mu, r.audio, "audio", entry)
}

// Names lists the registered names for kind ("stt", "llm", "tts" or
// "audio"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		names = keys(r.stt)
	case "llm":
		names = keys(r.llm)
	case "tts":
		names = keys(r.tts)
	case "audio":
		names = keys(r.audio)
	}
	sort.Strings(names)
	return names
}

func create[T any](mu *sync.RWMutex, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, entry.Name, err)
	}
	return p, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
