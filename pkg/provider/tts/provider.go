// Package tts defines the speech synthesis capability consumed by voice
// sessions.
//
// A Synthesizer wraps a synthesis service (e.g., ElevenLabs, or a local
// model) behind a text-in/frames-out interface. Audio is emitted as a stream
// of PCM frames so the session can pace, transcode, and cancel output
// mid-utterance without waiting for the whole clip.
package tts

import "context"

// Config carries the per-session synthesis parameters a Synthesizer is built
// for. A new Synthesizer must be constructed when these change.
type Config struct {
	// SampleRate of the PCM audio to produce, in Hz.
	SampleRate int

	// Channels is the interleaved channel count to produce.
	Channels int

	// Voice is the provider-specific voice identifier. Empty uses the
	// provider default.
	Voice string
}

// Synthesizer is the abstraction over any synthesis backend.
type Synthesizer interface {
	// Synthesize converts text into a stream of PCM frames at the configured
	// format. The returned channel is closed when synthesis completes or ctx
	// is cancelled; cancellation between frames is how barge-in stops
	// playback, so implementations must honor ctx promptly.
	//
	// Returns a non-nil error only if the stream cannot be started.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// Factory constructs a Synthesizer bound to cfg. Sessions call it at start
// and again on every format renegotiation.
type Factory func(cfg Config) (Synthesizer, error)
