package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultStoragePath       = "hafiz-progress.json"
	DefaultKeyPrefix         = "hafiz."
	DefaultThreshold         = 0.6
	DefaultLanguage          = "ar"
	DefaultSampleRate        = 16000
	DefaultFeedbackLanguage  = "en"
	DefaultTemperature       = 0.7
	DefaultAnswerTemperature = 0.5
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "openai-compatible", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
}

var feedbackLanguages = []string{"en", "fr", "ar"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets replaces ${VAR} references in credential fields with the
// environment value, so keys can live in the environment or a .env file.
func expandSecrets(cfg *Config) {
	secrets := []*string{
		&cfg.Providers.LLM.APIKey,
		&cfg.Providers.STT.APIKey,
		&cfg.Storage.PostgresDSN,
		&cfg.Announce.DiscordToken,
	}
	for i := range cfg.Providers.LLMFallbacks {
		secrets = append(secrets, &cfg.Providers.LLMFallbacks[i].APIKey)
	}
	for i := range cfg.Providers.STTFallbacks {
		secrets = append(secrets, &cfg.Providers.STTFallbacks[i].APIKey)
	}
	for _, p := range secrets {
		if strings.Contains(*p, "${") {
			*p = os.ExpandEnv(*p)
		}
	}
}

// Default returns a config with every default applied, as used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Backend == BackendFile && cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Recitation.Threshold == 0 {
		cfg.Recitation.Threshold = DefaultThreshold
	}
	if cfg.Recitation.Language == "" {
		cfg.Recitation.Language = DefaultLanguage
	}
	if cfg.Recitation.SampleRate == 0 {
		cfg.Recitation.SampleRate = DefaultSampleRate
	}
	if cfg.Feedback.Language == "" {
		cfg.Feedback.Language = DefaultFeedbackLanguage
	}
	if cfg.Feedback.Temperature == 0 {
		cfg.Feedback.Temperature = DefaultTemperature
	}
	if cfg.Feedback.AnswerTemperature == 0 {
		cfg.Feedback.AnswerTemperature = DefaultAnswerTemperature
	}
	if cfg.Announce.Lang == "" {
		cfg.Announce.Lang = cfg.Feedback.Language
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.STTFallbacks)...)
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.Cooldown < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; feedback will use static messages")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; live recitation will be reported as unsupported")
	}

	// Storage
	switch cfg.Storage.Backend {
	case "", BackendMemory:
	case BackendFile, BackendSQLite:
		if cfg.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for backend %q", cfg.Storage.Backend))
		}
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for backend \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, sqlite, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == BackendMemory {
		slog.Warn("storage.backend is memory; progress is lost on restart")
	}

	// Recitation
	if t := cfg.Recitation.Threshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("recitation.threshold %.2f is out of range (0, 1]", t))
	}
	if f := cfg.Recitation.FuzzyWordMatch; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("recitation.fuzzy_word_match %.2f is out of range [0, 1]", f))
	}
	if cfg.Recitation.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recitation.sample_rate %d must be positive", cfg.Recitation.SampleRate))
	}

	if _, err := cfg.Normalization.RuneSubstitutions(); err != nil {
		errs = append(errs, err)
	}

	// Feedback
	if cfg.Feedback.Language != "" && !slices.Contains(feedbackLanguages, cfg.Feedback.Language) {
		errs = append(errs, fmt.Errorf("feedback.language %q is invalid; valid values: en, fr, ar", cfg.Feedback.Language))
	}
	if t := cfg.Feedback.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("feedback.temperature %.2f is out of range [0, 2]", t))
	}
	if t := cfg.Feedback.AnswerTemperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("feedback.answer_temperature %.2f is out of range [0, 2]", t))
	}

	// Announce
	if cfg.Announce.Enabled() && cfg.Announce.ChannelID == "" {
		errs = append(errs, errors.New("announce.channel_id is required when announce.discord_token is set"))
	}
	for i, m := range cfg.Announce.StreakMilestones {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("announce.streak_milestones[%d] %d must be positive", i, m))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// validateFallbacks checks the fallback chain of one provider kind.
func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if len(fallbacks) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s to be set", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}
