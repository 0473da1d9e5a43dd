package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"deepgram"},
	"tts": {"elevenlabs"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// validCodecs lists wire codecs the transcoder supports.
var validCodecs = []string{"opus", "pcm"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required; sessions cannot start without a transcriber"))
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; sessions will reply with text only")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; utterances will not receive replies")
	}

	// Wire format
	if c := cfg.Voice.Format.Codec; c != "" && !slices.Contains(validCodecs, c) {
		errs = append(errs, fmt.Errorf("voice.format.codec %q is invalid; valid values: %v", c, validCodecs))
	}
	if err := cfg.Voice.Format.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice.format: %w", err))
	}

	// Policy ranges
	if t := cfg.Voice.VAD.Threshold; t < 0 {
		errs = append(errs, fmt.Errorf("voice.vad.threshold %.0f must not be negative", t))
	}
	if n := cfg.Voice.VAD.ConsecutiveFrames; n < 0 {
		errs = append(errs, fmt.Errorf("voice.vad.consecutive_frames %d must not be negative", n))
	}
	if d := cfg.Voice.ReadyDelay; d < 0 {
		errs = append(errs, fmt.Errorf("voice.ready_delay %v must not be negative", d))
	}
	if d := cfg.Voice.FixedDelay; d < 0 {
		errs = append(errs, fmt.Errorf("voice.fixed_delay %v must not be negative", d))
	}

	// RTC
	for i, srv := range cfg.RTC.ICEServers {
		if len(srv.URLs) == 0 {
			errs = append(errs, fmt.Errorf("rtc.ice_servers[%d].urls is required", i))
		}
	}
	if d := cfg.RTC.ICETimeout; d < 0 {
		errs = append(errs, fmt.Errorf("rtc.ice_timeout %v must not be negative", d))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
