// Package config provides the configuration schema, loader, and provider
// registry for the Parley voice transport server.
package config

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/parleyvoice/parley/pkg/audio/codec"
)

// LogLevel controls log verbosity for the Parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
	RTC       RTCConfig       `yaml:"rtc"`
}

// ServerConfig holds network and logging settings for the Parley server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	ASR ProviderEntry `yaml:"asr"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "deepgram", "elevenlabs", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "nova-3", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig holds the per-session conversation policy.
type VoiceConfig struct {
	// Format is the default wire audio format offered to clients before any
	// handshake.
	Format FormatConfig `yaml:"format"`

	// Synthesis is the PCM format requested from the TTS provider. Zero
	// values mean mono at the wire sample rate.
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// VAD configures barge-in detection.
	VAD VADConfig `yaml:"vad"`

	// Echo configures self-echo suppression.
	Echo EchoConfig `yaml:"echo"`

	// SystemPrompt is prepended to every completion query.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature for completion sampling. Zero means provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion replies. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Language hints the transcriber (e.g., "en").
	Language string `yaml:"language"`

	// TTSVoice selects the synthesis voice, provider-specific.
	TTSVoice string `yaml:"tts_voice"`

	// Blacklist of filler words discarded before the LLM. Empty uses the
	// built-in default.
	Blacklist []string `yaml:"blacklist"`

	// ReadyDelay is the grace period after the transcriber connects before
	// the session announces readiness.
	ReadyDelay time.Duration `yaml:"ready_delay"`

	// FixedDelay switches TTS pacing to fixed-cadence mode. Zero means
	// adaptive pacing at the wire frame duration.
	FixedDelay time.Duration `yaml:"fixed_delay"`
}

// FormatConfig is the YAML shape of a wire audio format.
type FormatConfig struct {
	Codec         string `yaml:"codec"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	FrameDuration int    `yaml:"frame_duration"` // milliseconds
}

// Format converts the YAML shape to a codec.Format, applying defaults for
// unset fields (pcm, 16 kHz mono, 60 ms frames).
func (f FormatConfig) Format() codec.Format {
	out := codec.Format{
		Codec:         f.Codec,
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		FrameDuration: time.Duration(f.FrameDuration) * time.Millisecond,
	}
	if out.Codec == "" {
		out.Codec = codec.PCM
	}
	if out.SampleRate == 0 {
		out.SampleRate = 16000
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.FrameDuration == 0 {
		out.FrameDuration = 60 * time.Millisecond
	}
	return out
}

// SynthesisConfig is the PCM format requested from the synthesis provider.
type SynthesisConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// VADConfig tunes barge-in detection.
type VADConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Threshold         float64 `yaml:"threshold"`
	ConsecutiveFrames int     `yaml:"consecutive_frames"`
}

// EchoConfig tunes self-echo suppression.
type EchoConfig struct {
	Enabled          bool    `yaml:"enabled"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	EchoThreshold    float64 `yaml:"echo_threshold"`
}

// RTCConfig holds peer-to-peer call transport settings.
type RTCConfig struct {
	// ICEServers for NAT traversal.
	ICEServers []ICEServerConfig `yaml:"ice_servers"`

	// ICETimeout bounds candidate gathering. Zero uses the built-in default.
	ICETimeout time.Duration `yaml:"ice_timeout"`

	// Codec names the outbound track codec: opus, pcmu, pcma or g722.
	Codec string `yaml:"codec"`

	// StreamID labels the outbound audio track.
	StreamID string `yaml:"stream_id"`
}

// ICEServerConfig is the YAML shape of one STUN/TURN server entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// WebRTCServers converts the YAML entries to pion's configuration type.
func (r RTCConfig) WebRTCServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(r.ICEServers))
	for _, s := range r.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}
