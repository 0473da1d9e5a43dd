// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to emit controlled PCM frames and verify the text that was
// synthesized:
//
//	s := &mock.Synthesizer{Frames: [][]byte{frame1, frame2}}
//	ch, _ := s.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Frames is the sequence of PCM frames emitted per Synthesize call.
	Frames [][]byte

	// SynthesizeErr, if non-nil, is returned by Synthesize instead of a
	// channel.
	SynthesizeErr error

	// BlockBetweenFrames, if non-nil, is received from before each frame
	// after the first. Lets tests hold the stream open to exercise
	// cancellation between frames.
	BlockBetweenFrames chan struct{}

	// --- Call records ---

	// SynthesizeCalls records the text of every Synthesize call.
	SynthesizeCalls []string

	// CloseCalls is the number of times Close was called.
	CloseCalls int
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and streams Frames on the returned channel,
// honoring ctx cancellation between frames.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, text)
	err := s.SynthesizeErr
	frames := make([][]byte, len(s.Frames))
	copy(frames, s.Frames)
	block := s.BlockBetweenFrames
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for i, f := range frames {
			if i > 0 && block != nil {
				select {
				case <-block:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close records the call.
func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Synthesized returns a snapshot of all text passed to Synthesize.
func (s *Synthesizer) Synthesized() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SynthesizeCalls))
	copy(out, s.SynthesizeCalls)
	return out
}

// CloseCount returns how many times Close was called.
func (s *Synthesizer) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}
