// Package transport provides the asynchronous, buffered message path between
// a voice session and its client, plus the pacing algorithm that releases
// synthesized audio at real-time cadence instead of as fast as the network
// allows.
//
// Control messages and binary audio travel through two independent queues,
// each drained by its own send loop, so a slow audio stream can never stall
// control traffic and vice versa. Enqueueing never blocks the caller: a full
// queue drops the message and logs it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyvoice/parley/internal/voice/errclass"
	"github.com/parleyvoice/parley/pkg/audio/codec"
)

// Defaults applied by NewWriter when the corresponding Config field is zero.
const (
	DefaultControlQueueSize = 100
	DefaultAudioQueueSize   = 100
	DefaultPreBufferFrames  = 5
	DefaultResyncSlack      = 20 * time.Millisecond
	DefaultWriteTimeout     = 5 * time.Second
)

// ErrQueueFull is wrapped into the Transport-classified error returned when
// an outbound queue is saturated.
var ErrQueueFull = errors.New("transport: queue full, message dropped")

// Config tunes a Writer.
type Config struct {
	// ControlQueueSize buffers serialized control messages.
	ControlQueueSize int

	// AudioQueueSize buffers outbound audio frames.
	AudioQueueSize int

	// PreBufferFrames is how many frames of each synthesized-speech turn are
	// sent immediately before pacing kicks in, giving the client initial
	// buffer depth.
	PreBufferFrames int

	// ResyncSlack is how far behind the ideal schedule a send may fall
	// before the pacing clock resynchronizes to "now" instead of trying to
	// catch up.
	ResyncSlack time.Duration

	// WriteTimeout bounds each underlying connection write.
	WriteTimeout time.Duration

	// Logger for drop and teardown events. Nil uses slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ControlQueueSize <= 0 {
		c.ControlQueueSize = DefaultControlQueueSize
	}
	if c.AudioQueueSize <= 0 {
		c.AudioQueueSize = DefaultAudioQueueSize
	}
	if c.PreBufferFrames <= 0 {
		c.PreBufferFrames = DefaultPreBufferFrames
	}
	if c.ResyncSlack <= 0 {
		c.ResyncSlack = DefaultResyncSlack
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// flowControl is the pacing state of one synthesized-speech turn.
type flowControl struct {
	packetCount  int
	lastSendTime time.Time
}

// Writer is the outbound half of the session transport. Safe for concurrent
// use; the flow-control sleep never holds any lock.
type Writer struct {
	conn Conn
	cfg  Config
	log  *slog.Logger

	control chan []byte
	audio   chan []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu        sync.Mutex
	sessionID string
	fc        *flowControl

	sleep func(time.Duration) // test hook
	now   func() time.Time    // test hook
}

// NewWriter starts the two send loops over conn. Call Close to stop them.
func NewWriter(conn Conn, cfg Config) *Writer {
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		conn:    conn,
		cfg:     cfg,
		log:     cfg.Logger,
		control: make(chan []byte, cfg.ControlQueueSize),
		audio:   make(chan []byte, cfg.AudioQueueSize),
		cancel:  cancel,
		sleep:   time.Sleep,
		now:     time.Now,
	}

	w.wg.Add(2)
	go w.sendLoop(ctx, w.control, w.conn.WriteText)
	go w.sendLoop(ctx, w.audio, w.conn.WriteBinary)
	return w
}

// sendLoop drains one queue into the connection until the writer closes.
func (w *Writer) sendLoop(ctx context.Context, queue <-chan []byte, write func(context.Context, []byte) error) {
	defer w.wg.Done()
	for {
		select {
		case data := <-queue:
			wctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
			err := write(wctx, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("transport: write failed", "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the send loops and closes the connection. Idempotent.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
		err = w.conn.Close()
	})
	return err
}

// SessionID returns the identifier issued by the last welcome exchange, or
// empty before any handshake.
func (w *Writer) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// ─── Control messages ───

// SendConnected announces that the session is ready for audio.
func (w *Writer) SendConnected() error {
	return w.sendControl(connectedMessage{Type: "connected"})
}

// SendPong answers a client heartbeat.
func (w *Writer) SendPong() error {
	return w.sendControl(pongMessage{Type: "pong"})
}

// SendError reports a classified error to the client. fatal tells the client
// the session is inert until restarted.
func (w *Writer) SendError(message string, fatal bool) error {
	return w.sendControl(errorMessage{Type: "error", Message: message, Fatal: fatal})
}

// SendASRResult notifies the client of a recognition event.
func (w *Writer) SendASRResult(text string, final bool) error {
	return w.sendControl(asrResultMessage{Type: "asr", Text: text, Final: final, SessionID: w.SessionID()})
}

// SendLLMResponse delivers the model's textual reply.
func (w *Writer) SendLLMResponse(text string) error {
	return w.sendControl(llmResponseMessage{Type: "llm", Text: text, SessionID: w.SessionID()})
}

// SendTTSStart marks the beginning of a synthesized-speech turn.
func (w *Writer) SendTTSStart() error {
	return w.sendControl(ttsMarkerMessage{Type: "tts", State: "start", SessionID: w.SessionID()})
}

// SendTTSEnd marks the end of a synthesized-speech turn.
func (w *Writer) SendTTSEnd() error {
	return w.sendControl(ttsMarkerMessage{Type: "tts", State: "stop", SessionID: w.SessionID()})
}

// SendWelcome acknowledges a format handshake. It generates a fresh session
// identifier, tags all subsequent messages with it, and returns it.
func (w *Writer) SendWelcome(format codec.Format, features []string) (string, error) {
	id := uuid.NewString()

	w.mu.Lock()
	w.sessionID = id
	w.mu.Unlock()

	msg := welcomeMessage{
		Type:      TypeHello,
		Version:   protocolVersion,
		Transport: "websocket",
		SessionID: id,
		AudioParams: AudioParams{
			Format:        format.Codec,
			SampleRate:    format.SampleRate,
			Channels:      format.Channels,
			FrameDuration: int(format.FrameDuration.Milliseconds()),
		},
		Features: features,
	}
	if err := w.sendControl(msg); err != nil {
		return "", err
	}
	return id, nil
}

// sendControl serializes v and enqueues it. A full queue drops the message:
// control messages are not guaranteed-delivery and must never block the
// session loops.
func (w *Writer) sendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal control message: %w", err)
	}
	select {
	case w.control <- data:
		return nil
	default:
		w.log.Warn("transport: control queue full, dropping message", "size", len(data))
		return errclass.Wrap(errclass.Transport, ErrQueueFull)
	}
}

// ─── TTS flow control ───

// SendTTSAudioWithFlowControl enqueues one synthesized audio frame, pacing
// the call to playback rate. The first PreBufferFrames frames of a turn go
// out immediately; afterwards each send waits for one frameDuration since
// the previous actual send (or for fixedDelay when given). Falling behind
// schedule by more than the resync slack skips the wait and resets the
// pacing clock, so a stalled frame never triggers a catch-up burst.
//
// Call ResetTTSFlowControl at the start of every synthesized-speech turn.
func (w *Writer) SendTTSAudioWithFlowControl(frame []byte, frameDuration, fixedDelay time.Duration) error {
	w.mu.Lock()
	if w.fc == nil {
		w.fc = &flowControl{lastSendTime: w.now()}
	}
	count := w.fc.packetCount
	w.fc.packetCount++
	last := w.fc.lastSendTime
	w.mu.Unlock()

	// The sleep happens outside any lock: pacing must not block concurrent
	// control traffic or state access.
	if count >= w.cfg.PreBufferFrames {
		if fixedDelay > 0 {
			if wait := fixedDelay - w.now().Sub(last); wait > 0 {
				w.sleep(wait)
			}
		} else {
			wait := last.Add(frameDuration).Sub(w.now())
			switch {
			case wait > 0:
				w.sleep(wait)
			case -wait > w.cfg.ResyncSlack:
				// Far behind schedule; send now and let the post-send
				// timestamp update resynchronize the reference clock.
			}
		}
	}

	select {
	case w.audio <- frame:
	default:
		w.log.Warn("transport: audio queue full, dropping frame", "size", len(frame))
		return errclass.Wrap(errclass.Transport, ErrQueueFull)
	}

	// Reference the actual send instant, not the scheduled one, so timing
	// error never accumulates across frames.
	w.mu.Lock()
	if w.fc != nil {
		w.fc.lastSendTime = w.now()
	}
	w.mu.Unlock()
	return nil
}

// ResetTTSFlowControl clears the pacing state for a new synthesized-speech
// turn.
func (w *Writer) ResetTTSFlowControl() {
	w.mu.Lock()
	w.fc = nil
	w.mu.Unlock()
}
