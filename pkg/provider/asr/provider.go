// Package asr defines the speech recognition capability consumed by voice
// sessions.
//
// A Transcriber wraps a streaming recognition service (e.g., Deepgram, or a
// local model) behind a uniform audio-in/results-out interface. Sessions own
// their Transcriber exclusively: one instance per session per negotiated
// sample rate, recreated on format renegotiation.
//
// Result and error delivery is channel-based so that consuming them never
// blocks the session's own audio loop.
package asr

import "context"

// Result is one recognition event. Streaming recognizers re-emit the full
// utterance text on every partial; consumers diff against their accumulated
// transcript to extract the increment.
type Result struct {
	// Text is the full utterance text so far.
	Text string

	// Final marks the end of the utterance; the next Result starts a new one.
	Final bool
}

// Config carries the per-session stream parameters a Transcriber is built
// for. A new Transcriber must be constructed when these change.
type Config struct {
	// SampleRate of the PCM audio that will be sent, in Hz.
	SampleRate int

	// Channels is the interleaved channel count of the PCM audio.
	Channels int

	// Language hint in BCP-47 form ("en-US"). Empty lets the provider detect.
	Language string
}

// Transcriber is the abstraction over any streaming recognition backend.
//
// Lifecycle: Connect once, SendAudio repeatedly, Disconnect once. Disconnect
// must be idempotent and must close the Results and Errors channels so
// consumers unwind.
type Transcriber interface {
	// Connect establishes the streaming connection. Blocking; honors ctx.
	Connect(ctx context.Context) error

	// SendAudio submits one PCM chunk. Must not block on recognition;
	// implementations buffer internally.
	SendAudio(chunk []byte) error

	// Results emits partial and final recognition events. Closed on
	// Disconnect or unrecoverable stream failure.
	Results() <-chan Result

	// Errors emits stream errors the implementation could not retry away.
	// Consumers classify them; the channel closes with Results.
	Errors() <-chan error

	// Disconnect flushes and tears down the stream. Idempotent.
	Disconnect() error
}

// Factory constructs a Transcriber bound to cfg. Sessions call it at start
// and again on every format renegotiation.
type Factory func(cfg Config) (Transcriber, error)
