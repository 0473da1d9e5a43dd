// Package elevenlabs provides an ElevenLabs-backed Synthesizer using the
// ElevenLabs streaming WebSocket API. It implements the tts.Synthesizer
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/pkg/provider/tts"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel   = "eleven_flash_v2_5"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithEndpointFormat overrides the WebSocket URL format (for tests).
func WithEndpointFormat(format string) Option {
	return func(s *Synthesizer) {
		s.endpointFmt = format
	}
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs streaming
// API. Each Synthesize call opens one stream-input connection for that
// utterance; the connection closes when the utterance is flushed.
type Synthesizer struct {
	apiKey      string
	model       string
	endpointFmt string
	cfg         tts.Config

	closed atomic.Bool
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a Synthesizer bound to cfg. apiKey must be non-empty.
func New(apiKey string, cfg tts.Config, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoiceID
	}
	s := &Synthesizer{
		apiKey:      apiKey,
		model:       defaultModel,
		endpointFmt: wsEndpointFmt,
		cfg:         cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text flushes and ends the stream.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Synthesize streams one utterance. The returned channel emits raw PCM chunks
// at the configured sample rate and closes when synthesis completes or ctx is
// cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if s.closed.Load() {
		return nil, errors.New("elevenlabs: synthesizer is closed")
	}
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	wsURL := fmt.Sprintf(s.endpointFmt, s.cfg.Voice, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// Authenticate and configure the stream. ElevenLabs requires a non-empty
	// first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      s.apiKey,
		OutputFormat:  outputFormat(s.cfg.SampleRate),
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Send the utterance followed by the flush marker.
	msgBytes, _ := json.Marshal(textMessage{Text: text})
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send text")
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flushBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to flush")
		return nil, fmt.Errorf("elevenlabs: flush: %w", err)
	}

	audioCh := make(chan []byte, 256)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// Close marks the synthesizer closed. Per-utterance connections close
// themselves, so there is no shared connection to tear down. Idempotent.
func (s *Synthesizer) Close() error {
	s.closed.Store(true)
	return nil
}

// outputFormat maps a sample rate to the ElevenLabs output_format value.
func outputFormat(sampleRate int) string {
	switch sampleRate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
		return fmt.Sprintf("pcm_%d", sampleRate)
	default:
		return "pcm_16000"
	}
}
