// Package mock provides a test double for the asr.Transcriber interface.
//
// Use Transcriber to feed controlled recognition results to consumers and to
// inspect which audio chunks were delivered:
//
//	tr := mock.NewTranscriber()
//	tr.EmitResult(asr.Result{Text: "hello", Final: false})
package mock

import (
	"context"
	"sync"

	"github.com/parleyvoice/parley/pkg/provider/asr"
)

// Transcriber is a mock implementation of asr.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// DisconnectErr, if non-nil, is returned by the first Disconnect call.
	DisconnectErr error

	// --- Call records ---

	// ConnectCalls is the number of times Connect was called.
	ConnectCalls int

	// DisconnectCalls is the number of times Disconnect was called.
	DisconnectCalls int

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	results chan asr.Result
	errs    chan error
	closed  bool
}

// NewTranscriber creates a mock with buffered result/error channels.
func NewTranscriber() *Transcriber {
	return &Transcriber{
		results: make(chan asr.Result, 16),
		errs:    make(chan error, 16),
	}
}

var _ asr.Transcriber = (*Transcriber)(nil)

// Connect records the call and returns ConnectErr.
func (t *Transcriber) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ConnectCalls++
	return t.ConnectErr
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (t *Transcriber) SendAudio(chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := make([]byte, len(chunk))
	copy(c, chunk)
	t.SendAudioCalls = append(t.SendAudioCalls, c)
	return t.SendAudioErr
}

// Results returns the channel fed by EmitResult.
func (t *Transcriber) Results() <-chan asr.Result { return t.results }

// Errors returns the channel fed by EmitError.
func (t *Transcriber) Errors() <-chan error { return t.errs }

// Disconnect records the call and closes the channels on first use.
func (t *Transcriber) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DisconnectCalls++
	if !t.closed {
		t.closed = true
		close(t.results)
		close(t.errs)
		if t.DisconnectErr != nil {
			return t.DisconnectErr
		}
	}
	return nil
}

// EmitResult delivers one recognition event to the consumer. No-op after
// Disconnect.
func (t *Transcriber) EmitResult(r asr.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.results <- r
}

// EmitError delivers one stream error to the consumer. No-op after
// Disconnect.
func (t *Transcriber) EmitError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.errs <- err
}

// SentAudio returns a snapshot of all chunks delivered via SendAudio.
func (t *Transcriber) SentAudio() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.SendAudioCalls))
	copy(out, t.SendAudioCalls)
	return out
}
