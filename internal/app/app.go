// Package app wires all tutor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs the background loops until its
// context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithAuthStore,
// WithMetrics, ...) and mock providers through [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamihatanoadoresu/english-conversation/internal/auth"
	"github.com/kamihatanoadoresu/english-conversation/internal/config"
	"github.com/kamihatanoadoresu/english-conversation/internal/health"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/server"
	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
)

const (
	// reapInterval is how often idle sessions are looked for.
	reapInterval = time.Minute

	// shutdownGrace bounds the wait for in-flight requests on shutdown.
	shutdownGrace = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	auth     *auth.Store
	scratch  *audio.Scratch
	sessions *SessionManager
	server   *server.Server
	httpSrv  *http.Server

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAuthStore injects a credential store instead of loading
// auth.credentials_file.
func WithAuthStore(s *auth.Store) Option {
	return func(a *App) { a.auth = s }
}

// WithMetrics injects the instruments used by the HTTP middleware and the
// session controllers.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets configuration reloads change the level of v.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via [BuildProviders]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credentials ───────────────────────────────────────────────────
	if err := a.initAuth(); err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}

	// ── 2. Scratch directory ─────────────────────────────────────────────
	if err := a.initScratch(); err != nil {
		return nil, fmt.Errorf("app: init scratch: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Providers: providers,
		Scratch:   a.scratch,
		Config:    cfg,
		Metrics:   a.metrics,
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	checks := append([]health.Checker{health.Writable("scratch", a.scratch.Dir())}, providers.Checks...)
	a.server = server.New(server.Config{
		Sessions:      a.sessions,
		Auth:          a.auth,
		Health:        health.New(checks...),
		Metrics:       a.metricsHandler,
		Telemetry:     a.metrics,
		SecureCookie:  cfg.Server.SecureCookie,
		CookieMaxAge:  cfg.Server.SessionIdleTimeout,
		MaxAudioBytes: cfg.Server.MaxAudioBytes,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return a, nil
}

// initAuth loads the credential store unless one was injected. An empty
// store is allowed but nobody can log in until users are added.
func (a *App) initAuth() error {
	if a.auth != nil {
		return nil
	}
	store, err := auth.Load(a.cfg.Auth.CredentialsFile)
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		slog.Warn("credential store has no users", "path", a.cfg.Auth.CredentialsFile)
	}
	a.auth = store
	return nil
}

// initScratch creates the scratch directory and removes files a previous
// run left behind.
func (a *App) initScratch() error {
	s, err := audio.NewScratch(a.cfg.Audio.ScratchDir)
	if err != nil {
		return err
	}
	left, err := s.Leftovers()
	if err != nil {
		return err
	}
	for _, path := range left {
		s.Remove(path)
	}
	if len(left) > 0 {
		slog.Info("removed stale scratch files", "dir", s.Dir(), "count", len(left))
	}
	a.scratch = s
	return nil
}

// Handler returns the HTTP handler. Tests drive it with httptest.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and reaps idle sessions until ctx is cancelled, then
// drains in-flight requests. It returns nil after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		return a.sessions.RunReaper(ctx, reapInterval)
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown incomplete", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a configuration change.
// It is the config watcher's change callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TutorChanged || d.TimeoutsChanged || d.IdleTimeoutChanged {
		a.sessions.Apply(SessionDefaults{Tutor: new.Tutor, Timeouts: new.Timeouts}, new.Server.SessionIdleTimeout)
		slog.Info("session defaults updated",
			"tutor", d.TutorChanged,
			"timeouts", d.TimeoutsChanged,
			"idle_timeout", new.Server.SessionIdleTimeout,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a configured level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends every session and removes leftover scratch files. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len())
		a.sessions.Close(ctx)

		left, lerr := a.scratch.Leftovers()
		if lerr != nil {
			err = lerr
			return
		}
		for _, path := range left {
			a.scratch.Remove(path)
		}
		slog.Info("shutdown complete")
	})
	return err
}
