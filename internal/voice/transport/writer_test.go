package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleyvoice/parley/internal/voice/errclass"
	"github.com/parleyvoice/parley/pkg/audio/codec"
)

// fakeConn records everything written to it. WriteText can be made to block
// until release is closed, to back the queue up.
type fakeConn struct {
	mu      sync.Mutex
	texts   [][]byte
	bins    [][]byte
	closed  bool
	release chan struct{}
}

func (c *fakeConn) Read(ctx context.Context) (Kind, []byte, error) {
	<-ctx.Done()
	return KindText, nil, ctx.Err()
}

func (c *fakeConn) WriteText(ctx context.Context, data []byte) error {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteBinary(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bins = append(c.bins, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) textCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func (c *fakeConn) lastText(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		t.Fatal("no text messages written")
	}
	var m map[string]any
	if err := json.Unmarshal(c.texts[len(c.texts)-1], &m); err != nil {
		t.Fatalf("unmarshal last text message: %v", err)
	}
	return m
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// fakeClock drives the pacing hooks deterministically. Sleeping advances the
// clock and records the requested duration.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

func (c *fakeClock) lastSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps[len(c.sleeps)-1]
}

func newTestWriter(t *testing.T, conn Conn, cfg Config) *Writer {
	t.Helper()
	w := NewWriter(conn, cfg)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSendWelcomeIssuesSessionID(t *testing.T) {
	conn := &fakeConn{}
	w := newTestWriter(t, conn, Config{})

	format := codec.Format{Codec: codec.Opus, SampleRate: 48000, Channels: 2, FrameDuration: 20 * time.Millisecond}
	id, err := w.SendWelcome(format, []string{"barge_in"})
	if err != nil {
		t.Fatalf("SendWelcome: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session id")
	}
	if got := w.SessionID(); got != id {
		t.Fatalf("SessionID() = %q, want %q", got, id)
	}

	waitFor(t, func() bool { return conn.textCount() == 1 })
	msg := conn.lastText(t)
	if msg["type"] != "hello" {
		t.Errorf("type = %v, want hello", msg["type"])
	}
	if msg["session_id"] != id {
		t.Errorf("session_id = %v, want %q", msg["session_id"], id)
	}
	params, ok := msg["audio_params"].(map[string]any)
	if !ok {
		t.Fatal("missing audio_params")
	}
	if params["format"] != "opus" || params["sample_rate"] != float64(48000) {
		t.Errorf("unexpected audio params: %v", params)
	}
	if params["frame_duration"] != float64(20) {
		t.Errorf("frame_duration = %v, want 20", params["frame_duration"])
	}
}

func TestControlMessagesTagSession(t *testing.T) {
	conn := &fakeConn{}
	w := newTestWriter(t, conn, Config{})

	format := codec.Format{Codec: codec.PCM, SampleRate: 16000, Channels: 1, FrameDuration: 60 * time.Millisecond}
	id, err := w.SendWelcome(format, nil)
	if err != nil {
		t.Fatalf("SendWelcome: %v", err)
	}

	if err := w.SendASRResult("hello", true); err != nil {
		t.Fatalf("SendASRResult: %v", err)
	}
	waitFor(t, func() bool { return conn.textCount() == 2 })
	msg := conn.lastText(t)
	if msg["type"] != "asr" || msg["text"] != "hello" || msg["final"] != true {
		t.Errorf("unexpected asr message: %v", msg)
	}
	if msg["session_id"] != id {
		t.Errorf("session_id = %v, want %q", msg["session_id"], id)
	}

	if err := w.SendTTSStart(); err != nil {
		t.Fatalf("SendTTSStart: %v", err)
	}
	waitFor(t, func() bool { return conn.textCount() == 3 })
	msg = conn.lastText(t)
	if msg["type"] != "tts" || msg["state"] != "start" {
		t.Errorf("unexpected tts marker: %v", msg)
	}
}

func TestControlQueueDropsWhenFull(t *testing.T) {
	conn := &fakeConn{release: make(chan struct{})}
	w := newTestWriter(t, conn, Config{ControlQueueSize: 1})

	// First message is taken by the send loop and blocks inside WriteText,
	// the second fills the queue. Eventually a send must be dropped.
	var dropped error
	for i := 0; i < 5 && dropped == nil; i++ {
		dropped = w.SendConnected()
		time.Sleep(5 * time.Millisecond)
	}
	if dropped == nil {
		t.Fatal("expected a dropped message once the queue filled")
	}
	if !errors.Is(dropped, ErrQueueFull) {
		t.Errorf("error = %v, want ErrQueueFull", dropped)
	}
	var classified *errclass.Error
	if !errors.As(dropped, &classified) || classified.Kind != errclass.Transport {
		t.Errorf("expected Transport classification, got %v", dropped)
	}

	close(conn.release)
}

func TestFlowControlPreBuffersThenPaces(t *testing.T) {
	conn := &fakeConn{}
	clock := newFakeClock()
	w := newTestWriter(t, conn, Config{PreBufferFrames: 3})
	w.sleep = clock.sleep
	w.now = clock.now

	const frameDur = 60 * time.Millisecond
	frame := make([]byte, 1920)

	for i := 0; i < 3; i++ {
		if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if n := clock.sleepCount(); n != 0 {
		t.Fatalf("pre-buffer frames slept %d times, want 0", n)
	}

	// Steady state: each frame waits out the remainder of one frame
	// duration relative to the previous actual send.
	for i := 0; i < 4; i++ {
		if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
			t.Fatalf("paced frame %d: %v", i, err)
		}
		if got := clock.lastSleep(); got != frameDur {
			t.Fatalf("paced frame %d slept %v, want %v", i, got, frameDur)
		}
	}
	if n := clock.sleepCount(); n != 4 {
		t.Fatalf("slept %d times, want 4", n)
	}
}

func TestFlowControlResyncsAfterStall(t *testing.T) {
	conn := &fakeConn{}
	clock := newFakeClock()
	w := newTestWriter(t, conn, Config{PreBufferFrames: 1})
	w.sleep = clock.sleep
	w.now = clock.now

	const frameDur = 60 * time.Millisecond
	frame := make([]byte, 1920)

	if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
		t.Fatalf("pre-buffer frame: %v", err)
	}
	if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
		t.Fatalf("paced frame: %v", err)
	}
	before := clock.sleepCount()

	// Simulate a long upstream stall: the next frame arrives far past its
	// schedule. It must go out with no sleep and no catch-up burst.
	clock.advance(500 * time.Millisecond)
	if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
		t.Fatalf("stalled frame: %v", err)
	}
	if clock.sleepCount() != before {
		t.Fatal("stalled frame should resynchronize without sleeping")
	}

	// The frame after the stall paces off the stalled frame's actual send
	// time, not the pre-stall schedule.
	if err := w.SendTTSAudioWithFlowControl(frame, frameDur, 0); err != nil {
		t.Fatalf("post-stall frame: %v", err)
	}
	if got := clock.lastSleep(); got != frameDur {
		t.Fatalf("post-stall frame slept %v, want %v", got, frameDur)
	}
}

func TestFlowControlFixedDelay(t *testing.T) {
	conn := &fakeConn{}
	clock := newFakeClock()
	w := newTestWriter(t, conn, Config{PreBufferFrames: 1})
	w.sleep = clock.sleep
	w.now = clock.now

	const delay = 30 * time.Millisecond
	frame := make([]byte, 640)

	if err := w.SendTTSAudioWithFlowControl(frame, 60*time.Millisecond, delay); err != nil {
		t.Fatalf("pre-buffer frame: %v", err)
	}

	// 10ms of real work elapsed since the last send; only the remaining
	// 20ms should be slept.
	clock.advance(10 * time.Millisecond)
	if err := w.SendTTSAudioWithFlowControl(frame, 60*time.Millisecond, delay); err != nil {
		t.Fatalf("fixed-delay frame: %v", err)
	}
	if got := clock.lastSleep(); got != 20*time.Millisecond {
		t.Fatalf("slept %v, want 20ms", got)
	}

	// Already past the delay: no sleep at all.
	before := clock.sleepCount()
	clock.advance(delay * 2)
	if err := w.SendTTSAudioWithFlowControl(frame, 60*time.Millisecond, delay); err != nil {
		t.Fatalf("late fixed-delay frame: %v", err)
	}
	if clock.sleepCount() != before {
		t.Fatal("late frame should not sleep in fixed-delay mode")
	}
}

func TestResetTTSFlowControlStartsNewTurn(t *testing.T) {
	conn := &fakeConn{}
	clock := newFakeClock()
	w := newTestWriter(t, conn, Config{PreBufferFrames: 2})
	w.sleep = clock.sleep
	w.now = clock.now

	frame := make([]byte, 640)
	for i := 0; i < 3; i++ {
		if err := w.SendTTSAudioWithFlowControl(frame, 60*time.Millisecond, 0); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if n := clock.sleepCount(); n != 1 {
		t.Fatalf("slept %d times, want 1", n)
	}

	w.ResetTTSFlowControl()

	// A fresh turn gets a fresh pre-buffer.
	for i := 0; i < 2; i++ {
		if err := w.SendTTSAudioWithFlowControl(frame, 60*time.Millisecond, 0); err != nil {
			t.Fatalf("new turn frame %d: %v", i, err)
		}
	}
	if n := clock.sleepCount(); n != 1 {
		t.Fatalf("pre-buffer after reset slept, total %d sleeps want 1", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	w := NewWriter(conn, Config{})
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("underlying connection not closed")
	}
}
