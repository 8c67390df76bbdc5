package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamihatanoadoresu/english-conversation/internal/config"
	"github.com/kamihatanoadoresu/english-conversation/internal/controller"
	"github.com/kamihatanoadoresu/english-conversation/internal/memory"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/prompt"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
	"github.com/kamihatanoadoresu/english-conversation/internal/voice"
	"github.com/kamihatanoadoresu/english-conversation/pkg/audio"
)

// ErrTooManySessions is returned by Create when MaxSessions is reached.
var ErrTooManySessions = errors.New("app: session limit reached")

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// SessionID is the unique identifier stored in the session cookie.
	SessionID string

	// User is the login name that created the session.
	User string

	// StartedAt is when the session was created.
	StartedAt time.Time

	// LastSeen is the time of the latest request for the session.
	LastSeen time.Time
}

// SessionDefaults are the settings a new session is built with.
type SessionDefaults struct {
	Tutor    config.TutorConfig
	Timeouts config.TimeoutsConfig
}

type liveSession struct {
	ctrl *controller.Controller
	info SessionInfo
}

// SessionManager owns the controllers of all logged-in learners.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*liveSession
	defaults SessionDefaults
	idle     time.Duration
	max      int

	// Dependencies injected at construction.
	providers *Providers
	scratch   *audio.Scratch
	metrics   *observe.Metrics
	now       func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Providers *Providers
	Scratch   *audio.Scratch
	Config    *config.Config

	// Metrics receives the active session gauge and is handed to every
	// controller. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		sessions:  make(map[string]*liveSession),
		defaults:  SessionDefaults{Tutor: cfg.Config.Tutor, Timeouts: cfg.Config.Timeouts},
		idle:      cfg.Config.Server.SessionIdleTimeout,
		max:       cfg.Config.Server.MaxSessions,
		providers: cfg.Providers,
		scratch:   cfg.Scratch,
		metrics:   m,
		now:       time.Now,
	}
}

// Create builds a controller for user under a fresh random id.
func (sm *SessionManager) Create(ctx context.Context, user string) (string, *controller.Controller, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.max > 0 && len(sm.sessions) >= sm.max {
		return "", nil, fmt.Errorf("%w (%d)", ErrTooManySessions, sm.max)
	}

	id := uuid.NewString()
	ctrl, err := sm.build(id, sm.defaults)
	if err != nil {
		return "", nil, fmt.Errorf("app: create session: %w", err)
	}
	now := sm.now()
	sm.sessions[id] = &liveSession{
		ctrl: ctrl,
		info: SessionInfo{SessionID: id, User: user, StartedAt: now, LastSeen: now},
	}
	sm.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("session created", "session_id", id, "user", user, "active", len(sm.sessions))
	return id, ctrl, nil
}

// Get returns the controller of session id and marks the session as used.
func (sm *SessionManager) Get(id string) (*controller.Controller, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	s.info.LastSeen = sm.now()
	return s.ctrl, true
}

// Info returns the metadata of session id.
func (sm *SessionManager) Info(id string) (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Delete ends session id. It reports whether the session existed.
func (sm *SessionManager) Delete(ctx context.Context, id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if !ok {
		return false
	}
	sm.dropLocked(ctx, s, "logout")
	return true
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Apply replaces the defaults of sessions created afterwards and the idle
// threshold. Live sessions keep their settings.
func (sm *SessionManager) Apply(d SessionDefaults, idle time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.defaults = d
	sm.idle = idle
}

// Reap ends every session idle for longer than the idle timeout and
// returns how many were ended. A zero timeout disables reaping.
func (sm *SessionManager) Reap(ctx context.Context) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.idle <= 0 {
		return 0
	}
	cutoff := sm.now().Add(-sm.idle)
	n := 0
	for _, s := range sm.sessions {
		if s.info.LastSeen.Before(cutoff) {
			sm.dropLocked(ctx, s, "idle")
			n++
		}
	}
	return n
}

// RunReaper calls Reap every interval until ctx is done. It always returns
// nil.
func (sm *SessionManager) RunReaper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := sm.Reap(ctx); n > 0 {
				slog.Info("reaped idle sessions", "count", n)
			}
		}
	}
}

// Close ends every session.
func (sm *SessionManager) Close(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range sm.sessions {
		sm.dropLocked(ctx, s, "shutdown")
	}
}

// dropLocked removes s. sm.mu must be held.
func (sm *SessionManager) dropLocked(ctx context.Context, s *liveSession, reason string) {
	delete(sm.sessions, s.info.SessionID)
	sm.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session ended",
		"session_id", s.info.SessionID,
		"user", s.info.User,
		"reason", reason,
		"duration", sm.now().Sub(s.info.StartedAt),
	)
}

// build wires a tutor and a voice pipeline into a new controller.
func (sm *SessionManager) build(id string, d SessionDefaults) (*controller.Controller, error) {
	tutor := prompt.New(sm.providers.LLM,
		prompt.WithTemperature(d.Tutor.Temperature),
		prompt.WithMemoryOptions(memory.WithTokenLimit(d.Tutor.MemoryTokens)),
	)

	var vopts []voice.Option
	if d.Tutor.Voice != "" {
		vopts = append(vopts, voice.WithVoice(d.Tutor.Voice))
	}
	if d.Tutor.Language != "" {
		vopts = append(vopts, voice.WithLanguage(d.Tutor.Language))
	}
	vp, err := voice.New(sm.providers.STT, sm.providers.TTS, sm.scratch, vopts...)
	if err != nil {
		return nil, err
	}

	// An unknown level leaves the session default in place.
	level, _ := session.ParseLevel(d.Tutor.DefaultLevel)
	return controller.New(id, tutor, vp,
		controller.WithTimeouts(controller.Timeouts{
			Transcribe: d.Timeouts.Transcribe,
			Generate:   d.Timeouts.Generate,
			Synthesize: d.Timeouts.Synthesize,
		}),
		controller.WithMetrics(sm.metrics),
		controller.WithClipCacheSize(d.Tutor.ClipCacheSize),
		controller.WithSettings(level, session.Speed(d.Tutor.DefaultSpeed)),
	), nil
}
