// Package state holds the per-session conversation state: the accumulated
// partial transcript, whether synthesized speech is currently playing, the
// cooperative TTS cancellation flag, and the fatal-error latch.
package state

import (
	"context"
	"sync"
)

// Manager is the single source of truth for a session's conversation state.
// Safe for concurrent use; the audio hot path and the synthesis pipeline
// touch it from different goroutines.
type Manager struct {
	mu sync.Mutex

	transcript      string
	ttsPlaying      bool
	cancelRequested bool
	ttsCancel       context.CancelFunc
	fatal           bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{}
}

// UpdateTranscript records a new partial or final recognizer result and
// returns the incremental delta relative to the previously accumulated
// transcript. Recognizers re-emit the full utterance on each partial, so
// "hello" followed by "hello world" yields " world". A result that is not an
// extension of the accumulated text starts a new utterance and is returned
// whole. A final result clears the accumulation for the next utterance.
func (m *Manager) UpdateTranscript(text string, final bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := text
	if m.transcript != "" && len(text) >= len(m.transcript) && text[:len(m.transcript)] == m.transcript {
		delta = text[len(m.transcript):]
	}

	if final {
		m.transcript = ""
	} else {
		m.transcript = text
	}
	return delta
}

// BeginTTSTurn marks the start of a synthesized-speech turn. It returns a
// context derived from parent that CancelTTS aborts, and resets the
// cancellation flag from any previous turn.
func (m *Manager) BeginTTSTurn(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	if m.ttsCancel != nil {
		m.ttsCancel()
	}
	m.ttsPlaying = true
	m.cancelRequested = false
	m.ttsCancel = cancel
	m.mu.Unlock()

	return ctx
}

// EndTTSTurn marks the natural end of a synthesized-speech turn.
func (m *Manager) EndTTSTurn() {
	m.mu.Lock()
	if m.ttsCancel != nil {
		m.ttsCancel()
		m.ttsCancel = nil
	}
	m.ttsPlaying = false
	m.mu.Unlock()
}

// CancelTTS requests cooperative cancellation of the in-flight turn (barge-in)
// and clears the playing flag. The synthesis pipeline polls CancelRequested
// between frames; it is never forcibly killed.
func (m *Manager) CancelTTS() {
	m.mu.Lock()
	if m.ttsPlaying {
		m.cancelRequested = true
	}
	if m.ttsCancel != nil {
		m.ttsCancel()
		m.ttsCancel = nil
	}
	m.ttsPlaying = false
	m.mu.Unlock()
}

// IsTTSPlaying reports whether a synthesized-speech turn is in flight.
func (m *Manager) IsTTSPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttsPlaying
}

// CancelRequested reports whether the current/last turn was asked to stop.
func (m *Manager) CancelRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelRequested
}

// SetFatal latches the fatal-error flag. Once set, the session goes inert
// until explicitly stopped.
func (m *Manager) SetFatal() {
	m.mu.Lock()
	m.fatal = true
	m.mu.Unlock()
}

// Fatal reports whether a fatal error was recorded.
func (m *Manager) Fatal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Clear resets everything, cancelling any in-flight turn. Called on
// new-session messages and on session stop.
func (m *Manager) Clear() {
	m.mu.Lock()
	if m.ttsCancel != nil {
		m.ttsCancel()
		m.ttsCancel = nil
	}
	m.transcript = ""
	m.ttsPlaying = false
	m.cancelRequested = false
	m.fatal = false
	m.mu.Unlock()
}
