package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Scoring fields are applied without restart.
	ThresholdChanged      bool
	FuzzyWordMatchChanged bool
	NormalizationChanged  bool

	// RestartRequired names changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// ScoringChanged reports whether the recitation scorer must be rebuilt.
func (d ConfigDiff) ScoringChanged() bool {
	return d.ThresholdChanged || d.FuzzyWordMatchChanged || d.NormalizationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ThresholdChanged = old.Recitation.Threshold != new.Recitation.Threshold
	d.FuzzyWordMatchChanged = old.Recitation.FuzzyWordMatch != new.Recitation.FuzzyWordMatch
	d.NormalizationChanged = !maps.Equal(old.Normalization.Substitutions, new.Normalization.Substitutions)

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProvider(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if !sameProvider(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, sameProvider) ||
		!slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, sameProvider) ||
		old.Providers.CircuitBreaker != new.Providers.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "providers.fallbacks")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Recitation.Language != new.Recitation.Language || old.Recitation.SampleRate != new.Recitation.SampleRate {
		d.RestartRequired = append(d.RestartRequired, "recitation")
	}
	if old.Feedback != new.Feedback {
		d.RestartRequired = append(d.RestartRequired, "feedback")
	}
	if !sameAnnounce(old.Announce, new.Announce) {
		d.RestartRequired = append(d.RestartRequired, "announce")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameProvider does not compare Options.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func sameAnnounce(a, b AnnounceConfig) bool {
	return a.DiscordToken == b.DiscordToken && a.ChannelID == b.ChannelID && a.Lang == b.Lang &&
		slices.Equal(a.StreakMilestones, b.StreakMilestones)
}
