package config_test

import (
	"errors"
	"testing"

	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/pkg/provider/asr"
)

func TestRegistry_UnregisteredProvider(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateASR(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_CreateUsesRegisteredConstructor(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var gotEntry config.ProviderEntry
	r.RegisterASR("custom", func(entry config.ProviderEntry) (asr.Factory, error) {
		gotEntry = entry
		return func(cfg asr.Config) (asr.Transcriber, error) { return nil, nil }, nil
	})

	factory, err := r.CreateASR(config.ProviderEntry{Name: "custom", APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("CreateASR: %v", err)
	}
	if factory == nil {
		t.Fatal("factory is nil")
	}
	if gotEntry.APIKey != "k" || gotEntry.Model != "m" {
		t.Errorf("constructor received entry %+v", gotEntry)
	}
}

func TestDefaultRegistry_BuiltinProviders(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()

	if _, err := r.CreateASR(config.ProviderEntry{Name: "deepgram", APIKey: "dg-test"}); err != nil {
		t.Errorf("deepgram: %v", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "xi-test"}); err != nil {
		t.Errorf("elevenlabs: %v", err)
	}
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "ollama", Model: "llama3.2"}); err != nil {
		t.Errorf("ollama: %v", err)
	}
}

func TestDefaultRegistry_MissingCredentials(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()

	if _, err := r.CreateASR(config.ProviderEntry{Name: "deepgram"}); err == nil {
		t.Error("deepgram without api_key should fail")
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); err == nil {
		t.Error("elevenlabs without api_key should fail")
	}
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai without api_key should fail")
	}
}

func TestDefaultRegistry_AnyLLMFactoryBuilds(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()

	factory, err := r.CreateLLM(config.ProviderEntry{Name: "ollama", Model: "llama3.2"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	c, err := factory()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if c == nil {
		t.Fatal("factory returned nil completion")
	}
	_ = c.Close()
}
