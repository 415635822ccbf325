// Package app wires all Hafiz subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens storage and builds every
// subsystem, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithKVStore,
// WithAnnounceSender, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hafiz/internal/announce"
	"github.com/MrWong99/hafiz/internal/api"
	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/config"
	"github.com/MrWong99/hafiz/internal/feedback"
	"github.com/MrWong99/hafiz/internal/health"
	"github.com/MrWong99/hafiz/internal/kv"
	"github.com/MrWong99/hafiz/internal/kv/postgres"
	"github.com/MrWong99/hafiz/internal/kv/sqlite"
	"github.com/MrWong99/hafiz/internal/mcptools"
	"github.com/MrWong99/hafiz/internal/notify"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
	"github.com/MrWong99/hafiz/internal/resilience"
	"github.com/MrWong99/hafiz/pkg/provider/llm"
	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

// Version is reported by the MCP server and telemetry.
var Version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	level   *slog.LevelVar
	metrics *observe.Metrics
	catalog *catalog.Catalog

	kv       kv.Store
	pg       *postgres.Store
	changes  *notify.Broadcaster
	store    *progress.Store
	scorer   atomic.Pointer[recite.Scorer]
	feedback *feedback.Generator
	health   *health.Handler
	api      *api.Server

	announcer      *announce.Announcer
	announceSender announce.Sender

	configPath string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithKVStore injects a key-value backend instead of opening one from config.
func WithKVStore(s kv.Store) Option {
	return func(a *App) { a.kv = s }
}

// WithCatalog replaces the embedded catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithLevelVar lets hot reloads change the log level of the handler that
// owns v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics injects the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAnnounceSender injects the Discord sender instead of dialling Discord.
// Announcements are still only enabled when the config enables them.
func WithAnnounceSender(s announce.Sender) Option {
	return func(a *App) { a.announceSender = s }
}

// WithConfigPath makes Run watch path and hot-apply changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.catalog == nil {
		a.catalog = catalog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Scoring ───────────────────────────────────────────────────────
	scorer, err := NewScorer(cfg)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init scorer: %w", err)
	}
	a.scorer.Store(scorer)

	// ── 3. Feedback ──────────────────────────────────────────────────────
	a.feedback = feedback.New(providers.LLM,
		feedback.WithTemperature(cfg.Feedback.Temperature),
		feedback.WithAnswerTemperature(cfg.Feedback.AnswerTemperature),
		feedback.WithMetrics(a.metrics, cfg.Providers.LLM.Name),
	)

	// ── 4. HTTP API ──────────────────────────────────────────────────────
	checks := []health.Checker{health.Storage(a.kv), health.Catalog(a.catalog)}
	if fo, ok := providers.LLM.(*resilience.LLMFailover); ok {
		checks = append(checks, health.Circuits("llm", fo.Group()))
	}
	if fo, ok := providers.STT.(*resilience.STTFailover); ok {
		checks = append(checks, health.Circuits("stt", fo.Group()))
	}
	a.health = health.New(checks...)
	var recognizer *recite.Recognizer
	if providers.STT != nil {
		recognizer = recite.NewRecognizer(providers.STT, stt.StreamConfig{
			SampleRate: cfg.Recitation.SampleRate,
			Channels:   1,
			Language:   cfg.Recitation.Language,
		})
	}
	a.api, err = api.New(api.Deps{
		Catalog:     a.catalog,
		Store:       a.store,
		Scorer:      a.Scorer,
		Recognizer:  recognizer,
		Feedback:    a.feedback,
		Health:      a.health,
		Metrics:     a.metrics,
		DefaultLang: cfg.Feedback.Language,
	})
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init api: %w", err)
	}

	// ── 5. Announcements ─────────────────────────────────────────────────
	if err := a.initAnnounce(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init announce: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens the configured backend unless one was injected, then
// builds the progress store on top of it.
func (a *App) initStorage(ctx context.Context) error {
	if a.kv == nil {
		s, err := a.openBackend(ctx)
		if err != nil {
			return err
		}
		a.kv = s
	}

	a.changes = notify.NewBroadcaster()
	a.store = progress.NewStore(a.kv,
		progress.WithKeyPrefix(a.cfg.Storage.KeyPrefix),
		progress.WithBroadcaster(a.changes),
		progress.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) openBackend(ctx context.Context) (kv.Store, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		slog.Warn("storage backend is memory; progress is lost on exit")
		return kv.NewMemStore(), nil
	case config.BackendFile, "":
		return kv.NewFileStore(sc.Path), nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, sc.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		a.pg = s
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// initAnnounce builds the Discord announcer when configured.
func (a *App) initAnnounce() error {
	ac := a.cfg.Announce
	if !ac.Enabled() {
		return nil
	}
	sender := a.announceSender
	if sender == nil {
		s, err := announce.Dial(ac.DiscordToken)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		sender = s
	}
	a.announcer = announce.New(sender, ac.ChannelID, a.catalog, a.store,
		announce.WithMilestones(ac.StreakMilestones...),
		announce.WithLang(ac.Lang),
	)
	return nil
}

// NewScorer builds the scorer described by cfg's recitation and
// normalization sections.
func NewScorer(cfg *config.Config) (*recite.Scorer, error) {
	subs, err := cfg.Normalization.RuneSubstitutions()
	if err != nil {
		return nil, err
	}
	norm, err := recite.NewNormalizer(recite.WithSubstitutions(subs))
	if err != nil {
		return nil, err
	}
	opts := []recite.ScorerOption{
		recite.WithNormalizer(norm),
		recite.WithThreshold(cfg.Recitation.Threshold),
	}
	if cfg.Recitation.FuzzyWordMatch > 0 {
		opts = append(opts, recite.WithFuzzyWords(cfg.Recitation.FuzzyWordMatch))
	}
	return recite.NewScorer(opts...), nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Catalog returns the reference data.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Store returns the progress store.
func (a *App) Store() *progress.Store { return a.store }

// Scorer returns the current scorer. Hot reloads swap it atomically.
func (a *App) Scorer() *recite.Scorer { return a.scorer.Load() }

// Feedback returns the feedback generator.
func (a *App) Feedback() *feedback.Generator { return a.feedback }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// MCPServer returns an MCP server exposing the progress tools.
func (a *App) MCPServer() (*mcp.Server, error) {
	return mcptools.NewServer(mcptools.Deps{
		Catalog:     a.catalog,
		Store:       a.store,
		Scorer:      a.Scorer,
		Metrics:     a.metrics,
		DefaultLang: a.cfg.Feedback.Language,
	}, Version)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, threshold, fuzzy matching and normalization. Changes that need a
// restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.ScoringChanged() {
		s, err := NewScorer(new)
		if err != nil {
			slog.Error("config reload: scorer not rebuilt", "err", err)
		} else {
			a.scorer.Store(s)
			slog.Info("config reload: scorer updated",
				"threshold", s.Threshold(),
				"fuzzy_word_match", new.Recitation.FuzzyWordMatch)
		}
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config reload: change requires restart", "field", field)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr and runs the background workers
// (Postgres change listener, announcer, config watcher) until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.pg != nil {
		l := notify.NewPGListener(a.pg.Pool(), postgres.Channel, a.changes)
		g.Go(func() error { return l.Run(ctx) })
	}
	if a.announcer != nil {
		g.Go(func() error { return a.announcer.Run(ctx) })
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(ctx) })
			g.Go(func() error { return reloadOnHangup(ctx, w) })
		}
	}

	return g.Wait()
}

// reloadOnHangup reloads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("config reload failed", "err", err)
				continue
			}
			slog.Info("config reload requested", "changed", changed)
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New had already opened.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
