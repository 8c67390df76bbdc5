package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kamihatanoadoresu/english-conversation/internal/controller"
	"github.com/kamihatanoadoresu/english-conversation/internal/observe"
	"github.com/kamihatanoadoresu/english-conversation/internal/session"
)

type ctxKey struct{}

// controllerFrom returns the controller stored by requireSession.
func controllerFrom(ctx context.Context) *controller.Controller {
	c, _ := ctx.Value(ctxKey{}).(*controller.Controller)
	return c
}

// requireSession resolves the session cookie. Requests without a live
// session get 401.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		c, ok := s.cfg.Sessions.Get(cookie.Value)
		if !ok {
			s.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		ctx := observe.WithSession(r.Context(), c.ID())
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, c)))
	})
}

// ---- auth ----

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.cfg.Auth.Authenticate(req.Username, req.Password); err != nil {
		observe.Logger(r.Context()).Info("login rejected", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if cookie, err := r.Cookie(CookieName); err == nil {
		s.cfg.Sessions.Delete(r.Context(), cookie.Value)
	}
	id, c, err := s.cfg.Sessions.Create(r.Context(), req.Username)
	if err != nil {
		observe.Logger(r.Context()).Warn("session create failed", "username", req.Username, "err", err)
		writeError(w, http.StatusServiceUnavailable, "cannot start a session right now")
		return
	}
	s.setCookie(w, id)
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		s.cfg.Sessions.Delete(r.Context(), cookie.Value)
	}
	s.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setCookie(w http.ResponseWriter, id string) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.SecureCookie,
	}
	if s.cfg.CookieMaxAge > 0 {
		c.MaxAge = int(s.cfg.CookieMaxAge.Seconds())
		c.Expires = time.Now().Add(s.cfg.CookieMaxAge)
	}
	http.SetCookie(w, c)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.SecureCookie,
	})
}

// ---- read-only ----

type levelOption struct {
	ID    session.Level `json:"id"`
	Label string        `json:"label"`
}

type modeOption struct {
	ID    session.Mode `json:"id"`
	Label string       `json:"label"`
}

type optionsResponse struct {
	Modes  []modeOption    `json:"modes"`
	Levels []levelOption   `json:"levels"`
	Speeds []session.Speed `json:"speeds"`
}

// options lists the selectable modes, levels and speeds.
func (s *Server) options(w http.ResponseWriter, _ *http.Request) {
	resp := optionsResponse{Speeds: session.Speeds}
	for _, m := range session.Modes {
		resp.Modes = append(resp.Modes, modeOption{ID: m, Label: m.Label()})
	}
	for _, l := range session.Levels {
		resp.Levels = append(resp.Levels, levelOption{ID: l, Label: l.Label()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, controllerFrom(r.Context()).Snapshot())
}

func (s *Server) clip(w http.ResponseWriter, r *http.Request) {
	wav, ok := controllerFrom(r.Context()).Clip(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// ---- events ----

// eventResponse is the body of every successful or failed turn event.
type eventResponse struct {
	controller.Outcome
	Error   string              `json:"error,omitempty"`
	Session controller.Snapshot `json:"session"`
}

type settingsRequest struct {
	Mode  *string  `json:"mode,omitempty"`
	Level *string  `json:"level,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
}

type settingsResponse struct {
	ModeChanged bool                `json:"mode_changed"`
	Session     controller.Snapshot `json:"session"`
}

// settings applies any of mode, level and speed. Fields are applied in
// that order and the first invalid one stops the request.
func (s *Server) settings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, c := r.Context(), controllerFrom(r.Context())

	var resp settingsResponse
	if req.Mode != nil {
		m, err := session.ParseMode(*req.Mode)
		if err != nil {
			s.fail(w, r, c, nil, fmt.Errorf("%w: %w", controller.ErrInvalid, err))
			return
		}
		if resp.ModeChanged, err = c.SelectMode(ctx, m); err != nil {
			s.fail(w, r, c, nil, err)
			return
		}
	}
	if req.Level != nil {
		l, err := session.ParseLevel(*req.Level)
		if err == nil {
			err = c.SetLevel(ctx, l)
		} else {
			err = fmt.Errorf("%w: %w", controller.ErrInvalid, err)
		}
		if err != nil {
			s.fail(w, r, c, nil, err)
			return
		}
	}
	if req.Speed != nil {
		if err := c.SetSpeed(ctx, session.Speed(*req.Speed)); err != nil {
			s.fail(w, r, c, nil, err)
			return
		}
	}
	resp.Session = c.Snapshot()
	writeJSON(w, http.StatusOK, resp)
}

// lifecycle adapts a controller event without outcome to a handler.
func (s *Server) lifecycle(fn func(context.Context, *controller.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := controllerFrom(r.Context())
		if err := fn(r.Context(), c); err != nil {
			s.fail(w, r, c, nil, err)
			return
		}
		writeJSON(w, http.StatusOK, c.Snapshot())
	}
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	c := controllerFrom(r.Context())
	out, err := c.Start(r.Context())
	s.respond(w, r, c, out, err)
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	c := controllerFrom(r.Context())
	out, err := c.NextProblem(r.Context())
	s.respond(w, r, c, out, err)
}

// audio accepts a WAV recording as the raw request body.
func (s *Server) audio(w http.ResponseWriter, r *http.Request) {
	c := controllerFrom(r.Context())
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxAudioBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("recording exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "cannot read recording")
		return
	}
	out, err := c.SubmitAudio(r.Context(), data)
	s.respond(w, r, c, out, err)
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) text(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c := controllerFrom(r.Context())
	out, err := c.SubmitText(r.Context(), req.Text)
	s.respond(w, r, c, out, err)
}

// respond writes the result of a turn event.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, c *controller.Controller, out controller.Outcome, err error) {
	if err != nil {
		s.fail(w, r, c, &out, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Outcome: out, Session: c.Snapshot()})
}

// fail maps a controller error to a status code. Failed turns keep their
// learner-facing warnings in the body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, c *controller.Controller, out *controller.Outcome, err error) {
	status := statusOf(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("event failed", "path", r.URL.Path, "status", status, "err", err)
	}
	resp := eventResponse{Error: publicMessage(err), Session: c.Snapshot()}
	if out != nil {
		resp.Outcome = *out
	}
	writeJSON(w, status, resp)
}

// ---- encoding ----

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+strings.TrimPrefix(err.Error(), "json: "))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
