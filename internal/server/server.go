// Package server is the HTTP surface of the tutor.
//
// A learner logs in with a username and password and receives a session
// cookie. Every /api/session route resolves that cookie to the session's
// [controller.Controller] and turns one request into one controller event.
// Responses carry the event's outcome together with a fresh snapshot of the
// session so the client never has to merge state itself.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kamihatanoadoresu/english-conversation/internal/controller"
	"github.com/kamihatanoadoresu/english-conversation/internal/health"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
)

// CookieName is the name of the session cookie.
const CookieName = "eikaiwa_session"

// DefaultMaxAudioBytes caps an uploaded recording when Config leaves it zero.
const DefaultMaxAudioBytes = 10 << 20

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 64 << 10

// Sessions resolves session ids to controllers. The app's session manager
// implements it.
type Sessions interface {
	// Create starts a session for user and returns its id.
	Create(ctx context.Context, user string) (string, *controller.Controller, error)

	// Get returns the controller of a live session and marks it as used.
	Get(id string) (*controller.Controller, bool)

	// Delete ends a session. It reports whether the session existed.
	Delete(ctx context.Context, id string) bool
}

// Authenticator checks login credentials. [*auth.Store] satisfies it.
type Authenticator interface {
	Authenticate(username, password string) error
}

// Config holds the dependencies of a [Server].
type Config struct {
	Sessions Sessions
	Auth     Authenticator

	// Health serves /healthz and /readyz. Nil disables both routes.
	Health *health.Handler

	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler

	// Telemetry records HTTP request metrics. Default:
	// [observe.DefaultMetrics].
	Telemetry *observe.Metrics

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool

	// CookieMaxAge bounds the cookie lifetime. Zero makes it a browser
	// session cookie.
	CookieMaxAge time.Duration

	// MaxAudioBytes caps a recording upload. Default: [DefaultMaxAudioBytes].
	MaxAudioBytes int64
}

// Server routes HTTP requests to session controllers.
type Server struct {
	cfg    Config
	router chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Telemetry == nil {
		cfg.Telemetry = observe.DefaultMetrics()
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	s := &Server{cfg: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(s.cfg.Telemetry))

	if s.cfg.Health != nil {
		s.cfg.Health.Mount(r)
	}
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/options", s.options)
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)

		r.Route("/session", func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/", s.snapshot)
			r.Put("/settings", s.settings)
			r.Post("/start", s.start)
			r.Post("/stop", s.lifecycle(func(ctx context.Context, c *controller.Controller) error { return c.Stop(ctx) }))
			r.Post("/pause", s.lifecycle(func(ctx context.Context, c *controller.Controller) error { return c.Pause(ctx) }))
			r.Post("/resume", s.lifecycle(func(ctx context.Context, c *controller.Controller) error { return c.Resume(ctx) }))
			r.Post("/reset", s.lifecycle(func(ctx context.Context, c *controller.Controller) error { return c.ResetSession(ctx) }))
			r.Post("/reset-conversation", s.lifecycle(func(ctx context.Context, c *controller.Controller) error { return c.ResetConversation(ctx) }))
			r.Post("/next", s.next)
			r.Post("/audio", s.audio)
			r.Post("/text", s.text)
			r.Get("/clips/{id}", s.clip)
		})
	})
	return r
}
