package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hafiz/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(config.Default(), config.Default())
	if d.LogLevelChanged || d.ScoringChanged() || len(d.RestartRequired) != 0 {
		t.Errorf("Diff of identical configs: %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old := config.Default()
	cur := config.Default()
	cur.Server.LogLevel = config.LogDebug
	cur.Recitation.Threshold = 0.75
	cur.Recitation.FuzzyWordMatch = 0.9
	cur.Normalization.Substitutions = map[string]string{"ة": "ه"}

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: %+v", d)
	}
	if !d.ThresholdChanged || !d.FuzzyWordMatchChanged || !d.NormalizationChanged {
		t.Errorf("scoring fields: %+v", d)
	}
	if !d.ScoringChanged() {
		t.Error("ScoringChanged() = false")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old := config.Default()
	cur := config.Default()
	cur.Server.ListenAddr = ":9999"
	cur.Providers.STT = config.ProviderEntry{Name: "deepgram"}
	cur.Storage.Backend = config.BackendSQLite
	cur.Announce.StreakMilestones = []int{7}

	d := config.Diff(old, cur)
	for _, want := range []string{"server", "providers.stt", "storage", "announce"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if slices.Contains(d.RestartRequired, "providers.llm") {
		t.Errorf("RestartRequired = %v, llm did not change", d.RestartRequired)
	}
	if d.ScoringChanged() {
		t.Error("ScoringChanged() = true")
	}
}

func TestDiff_Fallbacks(t *testing.T) {
	t.Parallel()

	old := config.Default()
	cur := config.Default()
	cur.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "ollama"}}

	d := config.Diff(old, cur)
	if !slices.Contains(d.RestartRequired, "providers.fallbacks") {
		t.Errorf("RestartRequired = %v, missing providers.fallbacks", d.RestartRequired)
	}

	old.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "ollama", Options: map[string]any{"x": 1}}}
	if d := config.Diff(old, cur); slices.Contains(d.RestartRequired, "providers.fallbacks") {
		t.Errorf("RestartRequired = %v, options alone should not count", d.RestartRequired)
	}
}
