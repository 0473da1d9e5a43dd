package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/resilience"
	"github.com/parleyvoice/parley/internal/voice/errclass"
	"github.com/parleyvoice/parley/internal/voice/state"
	"github.com/parleyvoice/parley/internal/voice/transport"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/codec"
	"github.com/parleyvoice/parley/pkg/audio/echo"
	"github.com/parleyvoice/parley/pkg/audio/vad"
	"github.com/parleyvoice/parley/pkg/provider/asr"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// DefaultReadyDelay is the grace period after the transcriber connects before
// the session announces readiness, letting the provider's stream stabilize.
const DefaultReadyDelay = 300 * time.Millisecond

// Config carries the per-session policy fixed at creation time.
type Config struct {
	// Format is the initial wire audio format. Renegotiable via a hello
	// handshake mid-session.
	Format codec.Format

	// Synthesis is the format the TTS provider is asked to emit. Zero means
	// mono at the wire sample rate. The outbound path converts from this to
	// the wire format.
	Synthesis audio.Format

	// VAD configures barge-in detection. Set once from policy data, not
	// renegotiated mid-call.
	VAD vad.Config

	// Echo configures self-echo suppression.
	Echo echo.Config

	// LLM tunes completion queries.
	LLM llm.Options

	// TTSVoice selects the synthesis voice, provider-specific.
	TTSVoice string

	// Language hints the transcriber, e.g. "en".
	Language string

	// Features advertised in the welcome acknowledgement.
	Features []string

	// Blacklist of filler words discarded before the LLM. Nil uses the
	// built-in default.
	Blacklist []string

	// ReadyDelay overrides DefaultReadyDelay.
	ReadyDelay time.Duration

	// FixedDelay switches TTS pacing to fixed-cadence mode. Zero means
	// adaptive pacing at the wire frame duration.
	FixedDelay time.Duration

	// Transport tunes the outbound writer.
	Transport transport.Config

	// Logger for session events. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics instance. Nil uses observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Session is one client conversation. Create with New, drive with Run (or
// Start for manual control), release with Stop.
type Session struct {
	cfg       Config
	providers Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	conn   transport.Conn
	writer *transport.Writer
	state  *state.Manager
	vad    *vad.Detector
	echo   *echo.Manager
	proc   *processor

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu guards the renegotiable session state. The hot audio path takes
	// only a read lock to snapshot provider references, then operates
	// outside the lock.
	mu         sync.RWMutex
	active     bool
	format     codec.Format
	transcoder codec.Transcoder
	asr        asr.Transcriber
	tts        tts.Synthesizer
	llm        llm.Completion

	stopOnce sync.Once
}

// New builds a session over conn. The transcoder for the initial wire format
// is constructed eagerly; provider instances are created in Start.
func New(conn transport.Conn, providers Providers, cfg Config) (*Session, error) {
	if err := providers.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("voice: initial format: %w", err)
	}
	if cfg.ReadyDelay <= 0 {
		cfg.ReadyDelay = DefaultReadyDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	transcoder, err := codec.New(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("voice: transcoder: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		providers:  providers,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		conn:       conn,
		writer:     transport.NewWriter(conn, cfg.Transport),
		state:      state.New(),
		vad:        vad.New(cfg.VAD),
		echo:       echo.New(cfg.Echo),
		done:       make(chan struct{}),
		format:     cfg.Format,
		transcoder: transcoder,
	}
	s.proc = newProcessor(s, cfg.Blacklist)
	return s, nil
}

// Run starts the session and blocks until the client disconnects or ctx is
// cancelled, then releases all resources.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Stop()
		return err
	}
	<-s.done
	s.Stop()
	return nil
}

// Start connects the mandatory transcriber, waits the ready grace period,
// announces readiness, and launches the inbound read loop. A transcriber
// failure here is fatal to the session; synthesis and completion providers
// are built too but may fail and surface later as recoverable errors.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	a, err := s.newTranscriber(s.format)
	if err != nil {
		return errclass.Wrap(errclass.Fatal, err)
	}

	t, err := s.providers.TTS(s.synthesisConfig(s.format))
	if err != nil {
		s.log.Warn("synthesizer unavailable, continuing without speech output", "error", err)
	}
	l, err := s.providers.LLM()
	if err != nil {
		s.log.Warn("completion provider unavailable, continuing without replies", "error", err)
	}
	if l != nil {
		// The breaker spans the whole session; renegotiation keeps the
		// completion instance, so failure history carries over.
		l = resilience.GuardCompletion(l, resilience.NewBreaker(resilience.BreakerConfig{Name: "llm"}))
	}

	s.mu.Lock()
	s.asr, s.tts, s.llm = a, t, l
	s.active = true
	s.mu.Unlock()

	go s.consumeASR(a)

	// Let the recognition stream stabilize before accepting audio.
	select {
	case <-time.After(s.cfg.ReadyDelay):
	case <-s.ctx.Done():
		return s.ctx.Err()
	}

	if err := s.writer.SendConnected(); err != nil {
		s.log.Warn("connected notification dropped", "error", err)
	}
	s.metrics.ActiveSessions.Add(s.ctx, 1)

	go s.readLoop()
	return nil
}

// Stop releases every session resource: cancels the internal context,
// disconnects the transcriber, closes synthesis and completion providers,
// closes the transport, and clears conversation and echo state. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.active
		s.active = false
		a, t, l := s.asr, s.tts, s.llm
		s.asr, s.tts, s.llm = nil, nil, nil
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		if a != nil {
			a.Disconnect()
		}
		if t != nil {
			_ = t.Close()
		}
		if l != nil {
			_ = l.Close()
		}
		if err := s.writer.Close(); err != nil {
			s.log.Debug("transport close", "error", err)
		}
		s.state.Clear()
		s.echo.Clear()

		if started {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.log.Info("session stopped", "session_id", s.writer.SessionID())
	})
}

// readLoop drains the transport until it errors or the session context ends.
func (s *Session) readLoop() {
	defer close(s.done)
	for {
		kind, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug("transport read ended", "error", err)
			}
			return
		}
		s.dispatch(kind, data)
	}
}

// dispatch routes one inbound message, converting panics in any per-message
// processing step into a recoverable error for that message only.
func (s *Session) dispatch(kind transport.Kind, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic handling inbound message", "panic", r, "kind", kind)
		}
	}()

	var err error
	switch kind {
	case transport.KindBinary:
		err = s.HandleAudio(data)
	default:
		err = s.HandleText(data)
	}
	if err != nil {
		s.log.Warn("inbound message handling failed", "error", err, "kind", kind)
	}
}

// HandleAudio is the hot path for one inbound wire-encoded audio chunk.
//
// While synthesized speech is playing, the microphone window belongs to the
// playback stream: the chunk reaches the transcriber only on a positive
// barge-in verdict, which also cancels the in-flight synthesis. Otherwise
// suppression still runs so the echo statistics stay current. Outside
// playback, the chunk is forwarded unless the echo manager rejects it.
func (s *Session) HandleAudio(data []byte) error {
	if s.state.Fatal() {
		return nil
	}

	s.mu.RLock()
	active, transcoder, a := s.active, s.transcoder, s.asr
	s.mu.RUnlock()
	if !active {
		return errclass.Wrap(errclass.Recoverable, errors.New("voice: session not active"))
	}

	pcm, err := transcoder.Decode(data)
	if err != nil {
		s.log.Warn("dropping undecodable audio chunk", "error", err, "size", len(data))
		return nil
	}

	if s.state.IsTTSPlaying() {
		if s.vad.CheckBargeIn(pcm, true) {
			s.state.CancelTTS()
			s.metrics.BargeIns.Add(s.ctx, 1)
			s.log.Info("barge-in detected, cancelling playback")

			filtered, forward := s.echo.ProcessInputAudio(pcm, false)
			if forward && a != nil {
				return s.forwardToASR(a, filtered)
			}
			return nil
		}
		s.echo.ProcessInputAudio(pcm, true)
		return nil
	}

	filtered, forward := s.echo.ProcessInputAudio(pcm, false)
	if !forward {
		return nil
	}
	if a == nil {
		return errclass.Wrap(errclass.Recoverable, errors.New("voice: no transcriber attached"))
	}
	return s.forwardToASR(a, filtered)
}

func (s *Session) forwardToASR(a asr.Transcriber, pcm []byte) error {
	err := a.SendAudio(pcm)
	if err == nil {
		return nil
	}
	if kind := errclass.Classify(err); kind == errclass.Fatal {
		s.failFatal(err)
		return nil
	}
	return errclass.Wrap(errclass.Recoverable, err)
}

// HandleText parses and dispatches one structured control message.
func (s *Session) HandleText(data []byte) error {
	var msg transport.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errclass.Wrap(errclass.Recoverable, fmt.Errorf("voice: malformed control message: %w", err))
	}

	switch msg.Type {
	case transport.TypeHello:
		return s.handleHello(msg)
	case transport.TypeNewSession:
		s.resetConversation()
		_, err := s.writer.SendWelcome(s.currentFormat(), s.cfg.Features)
		return err
	case transport.TypePing:
		return s.writer.SendPong()
	default:
		// Free-form text messages go straight into the LLM pipeline.
		if msg.Text != "" {
			s.proc.Submit(msg.Text)
		}
		return nil
	}
}

// handleHello renegotiates the wire format mid-session: rebuild the
// transcoder, tear down the old recognition and synthesis instances exactly
// once, connect replacements bound to the new sample rate, then acknowledge
// with a fresh session identifier. A failure aborts the renegotiation but
// keeps the session alive.
func (s *Session) handleHello(msg transport.InboundMessage) error {
	if msg.AudioParams == nil {
		err := errors.New("voice: hello without audio_params")
		_ = s.writer.SendError(err.Error(), false)
		return errclass.Wrap(errclass.Negotiation, err)
	}

	f := codec.Format{
		Codec:         msg.AudioParams.Format,
		SampleRate:    msg.AudioParams.SampleRate,
		Channels:      msg.AudioParams.Channels,
		FrameDuration: time.Duration(msg.AudioParams.FrameDuration) * time.Millisecond,
	}
	transcoder, err := codec.New(f)
	if err != nil {
		_ = s.writer.SendError(fmt.Sprintf("unsupported audio format: %v", err), false)
		return errclass.Wrap(errclass.Negotiation, err)
	}

	// Old instances go down first; the read loop is single-threaded, so no
	// audio is processed until the swap completes.
	s.mu.Lock()
	oldASR, oldTTS := s.asr, s.tts
	s.asr, s.tts = nil, nil
	s.mu.Unlock()

	if oldASR != nil {
		oldASR.Disconnect()
	}
	if oldTTS != nil {
		_ = oldTTS.Close()
	}

	newASR, err := s.newTranscriber(f)
	if err != nil {
		_ = s.writer.SendError(fmt.Sprintf("recognition unavailable: %v", err), false)
		return errclass.Wrap(errclass.Negotiation, err)
	}
	newTTS, err := s.providers.TTS(s.synthesisConfig(f))
	if err != nil {
		s.log.Warn("synthesizer unavailable, continuing without speech output", "error", err)
	}

	s.mu.Lock()
	s.format, s.transcoder = f, transcoder
	s.asr, s.tts = newASR, newTTS
	s.mu.Unlock()

	go s.consumeASR(newASR)
	s.resetConversation()

	id, err := s.writer.SendWelcome(f, s.cfg.Features)
	if err != nil {
		return err
	}
	s.log.Info("format renegotiated", "format", f, "session_id", id)
	return nil
}

// newTranscriber builds and connects a recognition instance for the given
// wire format. Decoded PCM arrives at the wire rate, so that is what the
// provider is bound to.
func (s *Session) newTranscriber(f codec.Format) (asr.Transcriber, error) {
	a, err := s.providers.ASR(asr.Config{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Language:   s.cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: build transcriber: %w", err)
	}
	if err := a.Connect(s.ctx); err != nil {
		return nil, fmt.Errorf("voice: connect transcriber: %w", err)
	}
	return a, nil
}

// synthesisFormat is the PCM format the synthesizer emits; the outbound path
// converts from this to the wire format.
func (s *Session) synthesisFormat(wire codec.Format) audio.Format {
	if s.cfg.Synthesis.SampleRate > 0 {
		return s.cfg.Synthesis
	}
	return audio.Format{SampleRate: wire.SampleRate, Channels: 1}
}

func (s *Session) synthesisConfig(wire codec.Format) tts.Config {
	sf := s.synthesisFormat(wire)
	return tts.Config{
		SampleRate: sf.SampleRate,
		Channels:   sf.Channels,
		Voice:      s.cfg.TTSVoice,
	}
}

func (s *Session) currentFormat() codec.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// resetConversation clears all per-utterance state for a fresh exchange.
func (s *Session) resetConversation() {
	s.state.Clear()
	s.echo.Clear()
	s.vad.Reset()
	s.proc.reset()
	s.writer.ResetTTSFlowControl()
}

// consumeASR forwards recognition events from one transcriber instance until
// its channels close (on disconnect).
func (s *Session) consumeASR(a asr.Transcriber) {
	results, errs := a.Results(), a.Errors()
	for results != nil || errs != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.handleASRResult(res)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.handleASRError(err)
		}
	}
}

// handleASRResult computes the incremental delta against the accumulated
// transcript and feeds it downstream.
func (s *Session) handleASRResult(res asr.Result) {
	delta := s.state.UpdateTranscript(res.Text, res.Final)
	s.metrics.ASRResults.Add(s.ctx, 1, metric.WithAttributes(attribute.Bool("final", res.Final)))

	if err := s.writer.SendASRResult(res.Text, res.Final); err != nil {
		s.log.Debug("asr notification dropped", "error", err)
	}
	if delta != "" || res.Final {
		s.proc.ProcessTranscript(delta, res.Final)
	}
}

// handleASRError classifies a recognition stream error. Fatal faults make
// the session inert; everything else is absorbed, the provider retries
// internally.
func (s *Session) handleASRError(err error) {
	kind := errclass.Classify(err)
	s.metrics.ProviderErrors.Add(s.ctx, 1, metric.WithAttributes(
		attribute.String("kind", "asr"),
		attribute.String("class", kind.String()),
	))
	if kind == errclass.Fatal {
		s.failFatal(err)
		return
	}
	s.log.Warn("recognition error absorbed", "error", err, "class", kind)
}

// failFatal latches the fatal flag and tells the client. Further audio is
// silently ignored until the session is stopped.
func (s *Session) failFatal(err error) {
	s.state.SetFatal()
	s.log.Error("fatal provider error, session inert", "error", err)
	if serr := s.writer.SendError(err.Error(), true); serr != nil {
		s.log.Debug("fatal notification dropped", "error", serr)
	}
}
