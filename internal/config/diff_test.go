package config_test

import (
	"slices"
	"testing"

	"github.com/parleyvoice/parley/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			ASR: config.ProviderEntry{Name: "deepgram", APIKey: "dg"},
			TTS: config.ProviderEntry{Name: "elevenlabs", APIKey: "xi"},
			LLM: config.ProviderEntry{Name: "openai", APIKey: "sk", Model: "gpt-4o-mini"},
		},
		Voice: config.VoiceConfig{
			SystemPrompt: "You are a helpful assistant.",
			TTSVoice:     "rachel",
			Blacklist:    []string{"um", "uh"},
			VAD:          config.VADConfig{Enabled: true, Threshold: 1000, ConsecutiveFrames: 3},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if d.LogLevelChanged || d.VoiceChanged || d.ProvidersChanged {
		t.Errorf("identical configs yielded diff %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_VoicePolicyFields(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Voice.SystemPrompt = "Be terse."
	new.Voice.VAD.Threshold = 2000
	new.Voice.Blacklist = []string{"um"}

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Fatal("VoiceChanged = false")
	}
	for _, want := range []string{"voice.system_prompt", "voice.vad", "voice.blacklist"} {
		if !slices.Contains(d.VoiceChanges, want) {
			t.Errorf("VoiceChanges missing %q: %v", want, d.VoiceChanges)
		}
	}
	if d.ProvidersChanged {
		t.Error("voice-only edit flagged providers")
	}
}

func TestDiff_ProvidersNeedRestart(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.LLM.Model = "gpt-4o"

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Fatal("ProvidersChanged = false after model change")
	}
	if d.VoiceChanged || d.LogLevelChanged {
		t.Errorf("unrelated flags set: %+v", d)
	}
}
