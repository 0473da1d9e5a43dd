package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/parleyvoice/parley/pkg/provider/asr"
	"github.com/parleyvoice/parley/pkg/provider/asr/deepgram"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/llm/anyllm"
	"github.com/parleyvoice/parley/pkg/provider/llm/openai"
	"github.com/parleyvoice/parley/pkg/provider/tts"
	"github.com/parleyvoice/parley/pkg/provider/tts/elevenlabs"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// constructor has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their factory constructors for each
// provider kind. The constructors bind credentials and model selection from
// a [ProviderEntry]; the returned factories are then called per session (and
// per renegotiated format) to build provider instances. Safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(ProviderEntry) (asr.Factory, error)
	tts map[string]func(ProviderEntry) (tts.Factory, error)
	llm map[string]func(ProviderEntry) (llm.Factory, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(ProviderEntry) (asr.Factory, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Factory, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Factory, error)),
	}
}

// RegisterASR registers a transcriber factory constructor under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, ctor func(ProviderEntry) (asr.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = ctor
}

// RegisterTTS registers a synthesizer factory constructor under name.
func (r *Registry) RegisterTTS(name string, ctor func(ProviderEntry) (tts.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = ctor
}

// RegisterLLM registers a completion factory constructor under name.
func (r *Registry) RegisterLLM(name string, ctor func(ProviderEntry) (llm.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = ctor
}

// CreateASR builds the transcriber factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no constructor is registered.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Factory, error) {
	r.mu.RLock()
	ctor, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return ctor(entry)
}

// CreateTTS builds the synthesizer factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Factory, error) {
	r.mu.RLock()
	ctor, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return ctor(entry)
}

// CreateLLM builds the completion factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Factory, error) {
	r.mu.RLock()
	ctor, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return ctor(entry)
}

// DefaultRegistry returns a registry with all built-in providers registered:
// Deepgram for recognition, ElevenLabs for synthesis, the native OpenAI
// client for "openai" completions, and any-llm backends for the remaining
// completion providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterASR("deepgram", func(entry ProviderEntry) (asr.Factory, error) {
		if entry.APIKey == "" {
			return nil, errors.New("config: providers.asr.api_key is required for deepgram")
		}
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return func(cfg asr.Config) (asr.Transcriber, error) {
			return deepgram.New(entry.APIKey, cfg, opts...)
		}, nil
	})

	r.RegisterTTS("elevenlabs", func(entry ProviderEntry) (tts.Factory, error) {
		if entry.APIKey == "" {
			return nil, errors.New("config: providers.tts.api_key is required for elevenlabs")
		}
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return func(cfg tts.Config) (tts.Synthesizer, error) {
			return elevenlabs.New(entry.APIKey, cfg, opts...)
		}, nil
	})

	r.RegisterLLM("openai", func(entry ProviderEntry) (llm.Factory, error) {
		if entry.APIKey == "" {
			return nil, errors.New("config: providers.llm.api_key is required for openai")
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return func() (llm.Completion, error) {
			return openai.New(entry.APIKey, entry.Model, opts...)
		}, nil
	})

	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		provider := name
		r.RegisterLLM(provider, func(entry ProviderEntry) (llm.Factory, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return func() (llm.Completion, error) {
				return anyllm.New(provider, entry.Model, opts...)
			}, nil
		})
	}

	return r
}
