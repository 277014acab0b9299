package config

import "slices"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied to a running service are tracked; everything else requires
// a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged is set when the silence threshold or duration changed.
	TurnChanged bool
	NewTurn     TurnConfig

	SystemPromptChanged bool
	NewSystemPrompt     string

	VocabularyChanged bool
	NewVocabulary     VocabularyConfig

	// RestartRequired lists the top-level sections whose changes are
	// ignored until the process restarts.
	RestartRequired []string
}

// Empty reports whether d carries no applicable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TurnChanged && !d.SystemPromptChanged && !d.VocabularyChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn.SilenceThreshold != new.Turn.SilenceThreshold ||
		old.Turn.SilenceDuration != new.Turn.SilenceDuration {
		d.TurnChanged = true
		d.NewTurn = new.Turn
	}

	if old.Responder.SystemPrompt != new.Responder.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Responder.SystemPrompt
	}

	if !slices.Equal(old.Vocabulary.Terms, new.Vocabulary.Terms) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold {
		d.VocabularyChanged = true
		d.NewVocabulary = new.Vocabulary
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio.Source != new.Audio.Source || old.Audio.SampleRate != new.Audio.SampleRate ||
		old.Audio.Channels != new.Audio.Channels || old.Audio.Codec != new.Audio.Codec {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.History.PostgresDSN != new.History.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	entryEqual := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}
