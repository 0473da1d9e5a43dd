// Package voice implements the conversation session: the state machine that
// wires client audio and control traffic to the recognition, language-model,
// and synthesis providers.
//
// One Session exists per connected client. It owns its provider instances
// exclusively, runs one inbound read loop, and routes every decoded audio
// chunk through echo suppression and barge-in detection before the
// transcriber sees it.
package voice

import (
	"errors"

	"github.com/parleyvoice/parley/pkg/provider/asr"
	"github.com/parleyvoice/parley/pkg/provider/llm"
	"github.com/parleyvoice/parley/pkg/provider/tts"
)

// Providers bundles the factories a session uses to construct its own
// provider instances. The session depends only on the capability interfaces,
// never on concrete provider types.
type Providers struct {
	ASR asr.Factory
	TTS tts.Factory
	LLM llm.Factory
}

// Validate reports whether every factory is present. The transcriber is
// mandatory at session start; synthesis and completion may fail later at
// call time, but their factories must still exist.
func (p Providers) Validate() error {
	if p.ASR == nil {
		return errors.New("voice: missing ASR factory")
	}
	if p.TTS == nil {
		return errors.New("voice: missing TTS factory")
	}
	if p.LLM == nil {
		return errors.New("voice: missing LLM factory")
	}
	return nil
}
