package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/internal/voice"
	"github.com/parleyvoice/parley/internal/voice/transport"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/echo"
	"github.com/parleyvoice/parley/pkg/audio/vad"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// handleVoice upgrades the request to a WebSocket and runs one voice session
// on it until the client disconnects or a fatal provider error occurs.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("voice: websocket accept failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	providers, err := s.buildProviders()
	if err != nil {
		s.log.Error("voice: provider wiring failed", "err", err)
		ws.Close(websocket.StatusInternalError, "provider configuration error")
		return
	}

	sess, err := voice.New(transport.NewWebSocketConn(ws), providers, s.sessionConfig())
	if err != nil {
		s.log.Error("voice: session setup failed", "err", err)
		ws.Close(websocket.StatusInternalError, "session setup error")
		return
	}

	s.log.Info("voice: session started", "remote", r.RemoteAddr)
	if err := sess.Run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("voice: session ended with error", "err", err, "remote", r.RemoteAddr)
		return
	}
	s.log.Info("voice: session ended", "remote", r.RemoteAddr)
}

// buildProviders resolves the configured provider factories from the
// registry. TTS and LLM are optional; sessions degrade per policy when they
// are absent.
func (s *Server) buildProviders() (voice.Providers, error) {
	var p voice.Providers

	asrFactory, err := s.registry.CreateASR(s.cfg.Providers.ASR)
	if err != nil {
		return p, fmt.Errorf("server: asr provider: %w", err)
	}
	p.ASR = asrFactory

	// Unconfigured TTS/LLM get factories that fail at call time; the
	// session degrades per policy (text-only replies, or none at all).
	p.TTS = func(cfg tts.Config) (tts.Synthesizer, error) {
		return nil, errors.New("server: no tts provider configured")
	}
	p.LLM = func() (llm.Completion, error) {
		return nil, errors.New("server: no llm provider configured")
	}

	if s.cfg.Providers.TTS.Name != "" {
		ttsFactory, err := s.registry.CreateTTS(s.cfg.Providers.TTS)
		if err != nil {
			return p, fmt.Errorf("server: tts provider: %w", err)
		}
		p.TTS = ttsFactory
	}

	if s.cfg.Providers.LLM.Name != "" {
		llmFactory, err := s.registry.CreateLLM(s.cfg.Providers.LLM)
		if err != nil {
			return p, fmt.Errorf("server: llm provider: %w", err)
		}
		p.LLM = llmFactory
	}

	return p, nil
}

// sessionConfig translates the loaded YAML policy into a session config.
func (s *Server) sessionConfig() voice.Config {
	vc := s.cfg.Voice

	features := []string{"asr"}
	if s.cfg.Providers.TTS.Name != "" {
		features = append(features, "tts")
	}
	if s.cfg.Providers.LLM.Name != "" {
		features = append(features, "llm")
	}

	return voice.Config{
		Format: vc.Format.Format(),
		Synthesis: audio.Format{
			SampleRate: vc.Synthesis.SampleRate,
			Channels:   vc.Synthesis.Channels,
		},
		VAD: vad.Config{
			Enabled:           vc.VAD.Enabled,
			Threshold:         vc.VAD.Threshold,
			ConsecutiveFrames: vc.VAD.ConsecutiveFrames,
		},
		Echo: echo.Config{
			Enabled:          vc.Echo.Enabled,
			SilenceThreshold: vc.Echo.SilenceThreshold,
			EchoThreshold:    vc.Echo.EchoThreshold,
		},
		LLM: llm.Options{
			SystemPrompt: vc.SystemPrompt,
			Temperature:  vc.Temperature,
			MaxTokens:    vc.MaxTokens,
		},
		TTSVoice:   vc.TTSVoice,
		Language:   vc.Language,
		Features:   features,
		Blacklist:  vc.Blacklist,
		ReadyDelay: vc.ReadyDelay,
		FixedDelay: vc.FixedDelay,
		Logger:     s.log,
		Metrics:    s.metrics,
	}
}
