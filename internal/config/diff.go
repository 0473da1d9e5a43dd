package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the server are tracked in detail;
// provider changes are flagged so the caller can log a restart warning.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when any voice policy field changed. New
	// sessions pick the policy up from Current(); running sessions keep
	// the policy they started with.
	VoiceChanged bool
	VoiceChanges []string // dotted field names, e.g. "voice.vad.threshold"

	// ProvidersChanged is true when a provider name, key, model, or URL
	// changed. Provider wiring is fixed at startup and needs a restart.
	ProvidersChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoiceChanges = diffVoice(&old.Voice, &new.Voice)
	d.VoiceChanged = len(d.VoiceChanges) > 0

	d.ProvidersChanged = !providerEqual(old.Providers.ASR, new.Providers.ASR) ||
		!providerEqual(old.Providers.TTS, new.Providers.TTS) ||
		!providerEqual(old.Providers.LLM, new.Providers.LLM)

	return d
}

// diffVoice compares two voice policies field by field and returns the
// names of the fields that differ.
func diffVoice(old, new *VoiceConfig) []string {
	var changed []string

	if old.SystemPrompt != new.SystemPrompt {
		changed = append(changed, "voice.system_prompt")
	}
	if old.Temperature != new.Temperature {
		changed = append(changed, "voice.temperature")
	}
	if old.MaxTokens != new.MaxTokens {
		changed = append(changed, "voice.max_tokens")
	}
	if old.Language != new.Language {
		changed = append(changed, "voice.language")
	}
	if old.TTSVoice != new.TTSVoice {
		changed = append(changed, "voice.tts_voice")
	}
	if !slices.Equal(old.Blacklist, new.Blacklist) {
		changed = append(changed, "voice.blacklist")
	}
	if old.VAD != new.VAD {
		changed = append(changed, "voice.vad")
	}
	if old.Echo != new.Echo {
		changed = append(changed, "voice.echo")
	}
	if old.Format != new.Format {
		changed = append(changed, "voice.format")
	}
	if old.Synthesis != new.Synthesis {
		changed = append(changed, "voice.synthesis")
	}
	if old.ReadyDelay != new.ReadyDelay {
		changed = append(changed, "voice.ready_delay")
	}
	if old.FixedDelay != new.FixedDelay {
		changed = append(changed, "voice.fixed_delay")
	}

	return changed
}

func providerEqual(old, new ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey ||
		old.Model != new.Model || old.BaseURL != new.BaseURL {
		return false
	}
	if len(old.Options) != len(new.Options) {
		return false
	}
	for k, v := range old.Options {
		if new.Options[k] != v {
			return false
		}
	}
	return true
}
