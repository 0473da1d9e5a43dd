package voice

import (
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/parleyvoice/parley/internal/voice/errclass"
	"github.com/parleyvoice/parley/internal/voice/textfilter"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/codec"
	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// processor turns finished utterances into spoken replies: filler filtering,
// one completion query, then a paced synthesis turn. Transcript deltas are
// buffered until the recognizer marks the utterance final.
type processor struct {
	s      *Session
	filter *textfilter.Filter

	mu        sync.Mutex
	utterance strings.Builder
}

func newProcessor(s *Session, blacklist []string) *processor {
	return &processor{
		s:      s,
		filter: textfilter.New(blacklist),
	}
}

// ProcessTranscript accumulates one incremental delta. On a final result the
// buffered utterance is submitted to the reply pipeline.
func (p *processor) ProcessTranscript(delta string, final bool) {
	p.mu.Lock()
	p.utterance.WriteString(delta)
	if !final {
		p.mu.Unlock()
		return
	}
	text := strings.TrimSpace(p.utterance.String())
	p.utterance.Reset()
	p.mu.Unlock()

	if text == "" {
		return
	}
	p.Submit(text)
}

// Submit runs one complete user utterance through the reply pipeline. The
// turn runs on its own goroutine so recognition events are never blocked
// behind provider latency.
func (p *processor) Submit(text string) {
	if !p.filter.ShouldProcess(text) {
		p.s.metrics.FilteredUtterances.Add(p.s.ctx, 1)
		p.s.log.Debug("utterance filtered as filler", "text", text)
		return
	}
	go p.runTurn(text)
}

// reset drops any partially accumulated utterance.
func (p *processor) reset() {
	p.mu.Lock()
	p.utterance.Reset()
	p.mu.Unlock()
}

func (p *processor) runTurn(text string) {
	defer func() {
		if r := recover(); r != nil {
			p.s.log.Error("panic in reply turn", "panic", r)
		}
	}()

	s := p.s
	s.mu.RLock()
	completion, synth, transcoder, wire := s.llm, s.tts, s.transcoder, s.format
	s.mu.RUnlock()

	if completion == nil {
		s.log.Warn("no completion provider, dropping utterance", "text", text)
		return
	}

	start := time.Now()
	reply, err := completion.Query(s.ctx, text, s.cfg.LLM)
	s.metrics.LLMDuration.Record(s.ctx, time.Since(start).Seconds())
	if err != nil {
		p.reportProviderError("llm", err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	if err := s.writer.SendLLMResponse(reply); err != nil {
		s.log.Debug("llm response notification dropped", "error", err)
	}
	if synth == nil || transcoder == nil {
		return
	}
	p.speak(reply, synth, transcoder, wire)
}

// speak streams one synthesized-speech turn to the client, converting from
// the synthesis format to the wire format and pacing frames to playback
// rate. Cancellation is cooperative: the flag is polled between frames and
// the remaining synthesis output is drained without sending.
func (p *processor) speak(text string, synth tts.Synthesizer, transcoder codec.Transcoder, wire codec.Format) {
	s := p.s

	ttsCtx := s.state.BeginTTSTurn(s.ctx)
	defer func() {
		s.state.EndTTSTurn()
		if err := s.writer.SendTTSEnd(); err != nil {
			s.log.Debug("tts end marker dropped", "error", err)
		}
	}()

	s.writer.ResetTTSFlowControl()
	if err := s.writer.SendTTSStart(); err != nil {
		s.log.Debug("tts start marker dropped", "error", err)
	}

	start := time.Now()
	chunks, err := synth.Synthesize(ttsCtx, text)
	if err != nil {
		p.reportProviderError("tts", err)
		return
	}

	sf := s.synthesisFormat(wire)
	converter := &audio.FormatConverter{
		Target: audio.Format{SampleRate: wire.SampleRate, Channels: wire.Channels},
	}
	framer := audio.NewFramer(wire.PCMBytesPerFrame())

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if tail := framer.Flush(); tail != nil {
					p.sendFrame(tail, transcoder, wire)
				}
				s.metrics.TTSDuration.Record(s.ctx, time.Since(start).Seconds())
				return
			}
			if s.state.CancelRequested() {
				go audio.Drain(chunks)
				return
			}
			converted := converter.Convert(audio.Frame{
				Data:       chunk,
				SampleRate: sf.SampleRate,
				Channels:   sf.Channels,
			})
			for _, frame := range framer.Push(converted.Data) {
				if s.state.CancelRequested() {
					go audio.Drain(chunks)
					return
				}
				p.sendFrame(frame, transcoder, wire)
			}
		case <-ttsCtx.Done():
			go audio.Drain(chunks)
			return
		}
	}
}

// sendFrame records one outbound PCM frame in the echo window, encodes it to
// the wire codec, and hands it to the paced transport.
func (p *processor) sendFrame(pcm []byte, transcoder codec.Transcoder, wire codec.Format) {
	s := p.s

	s.echo.RecordOutput(pcm)
	encoded, err := transcoder.Encode(pcm)
	if err != nil {
		s.log.Warn("dropping unencodable synthesis frame", "error", err, "size", len(pcm))
		return
	}
	if err := s.writer.SendTTSAudioWithFlowControl(encoded, wire.FrameDuration, s.cfg.FixedDelay); err != nil {
		s.metrics.DroppedMessages.Add(s.ctx, 1, metric.WithAttributes(attribute.String("queue", "audio")))
		return
	}
	s.metrics.TTSFrames.Add(s.ctx, 1)
}

func (p *processor) reportProviderError(kind string, err error) {
	s := p.s
	class := errclass.Classify(err)
	s.metrics.ProviderErrors.Add(s.ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("class", class.String()),
	))
	if class == errclass.Fatal {
		s.failFatal(err)
		return
	}
	s.log.Warn("provider error absorbed", "kind", kind, "error", err, "class", class)
}
