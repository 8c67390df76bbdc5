package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds the backends of one kind in preference order, each behind its
// own [Breaker]. Members are added during setup; a Group must not be
// modified once calls have started.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns a Group whose first member is primary.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback backend. Fallbacks are tried in the order added.
func (g *Group[T]) Add(name string, v T) {
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(name, g.cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// States reports the breaker state of each member by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Available reports whether at least one member would admit a call.
func (g *Group[T]) Available() bool {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Do calls fn on each member in order until one succeeds. Members with an
// open breaker are skipped. When ctx is done the loop stops and ctx's error
// is returned; otherwise the last failure is wrapped with [ErrAllFailed].
//
// Do is a function rather than a method because methods cannot take type
// parameters of their own.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	return do(ctx, g, func(ctx context.Context, _ int, v T) (R, error) { return fn(ctx, v) })
}

// do is Do with the member's position passed to fn.
func do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, int, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &g.members[i]
		var res R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, i, m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "backend", m.name)
			}
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping backend", "backend", m.name)
			continue
		}
		slog.Warn("resilience: backend failed", "backend", m.name, "err", err)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
