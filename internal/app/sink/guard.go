package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

type guardEntry struct {
	target   core.RenderTarget
	state    domain.PlaybackState
	notified bool
}

// Guard supervises playback of render targets and tracks autoplay rejections.
type Guard struct {
	mu      sync.Mutex
	entries map[domain.SinkHandle]*guardEntry

	onNeedsResume func(domain.SinkHandle)
}

// NewGuard creates a guard; onNeedsResume fires at most once per attached handle.
func NewGuard(onNeedsResume func(domain.SinkHandle)) *Guard {
	return &Guard{
		entries:       make(map[domain.SinkHandle]*guardEntry),
		onNeedsResume: onNeedsResume,
	}
}

// Attach registers target under h and attempts playback.
// A rejection marks the handle as failed and is returned wrapped in core.ErrPlayback.
func (g *Guard) Attach(ctx context.Context, h domain.SinkHandle, target core.RenderTarget) error {
	g.mu.Lock()
	e := &guardEntry{target: target, state: domain.PlaybackState{RenderTargetID: h}}
	g.entries[h] = e
	g.mu.Unlock()

	err := target.Play(ctx)
	if err == nil {
		return nil
	}

	g.mu.Lock()
	notify := false
	if cur, ok := g.entries[h]; ok && cur == e {
		e.state.AutoplayFailed = true
		notify = !e.notified
		e.notified = true
	}
	g.mu.Unlock()

	log.Warn().Err(err).Str("module", "sink.guard").Str("sink", string(h)).Msg("autoplay rejected")
	if notify && g.onNeedsResume != nil {
		g.onNeedsResume(h)
	}
	return fmt.Errorf("%w: autoplay %s: %v", core.ErrPlayback, h, err)
}

// Register tracks target under h without starting playback.
func (g *Guard) Register(h domain.SinkHandle, target core.RenderTarget) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[h] = &guardEntry{target: target, state: domain.PlaybackState{RenderTargetID: h}}
}

// Resume retries playback of h. Failure keeps the failed flag so the caller may retry.
func (g *Guard) Resume(ctx context.Context, h domain.SinkHandle) error {
	target, ok := g.Target(h)
	if !ok {
		return core.ErrUnknownSink
	}
	return g.Resumed(h, target, target.Play(ctx))
}

// Target returns the render target registered under h.
func (g *Guard) Target(h domain.SinkHandle) (core.RenderTarget, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok {
		return nil, false
	}
	return e.target, true
}

// Resumed records the outcome of a Play started on target for h. A handle
// that was released or rebound meanwhile is left untouched.
func (g *Guard) Resumed(h domain.SinkHandle, target core.RenderTarget, playErr error) error {
	if playErr != nil {
		log.Warn().Err(playErr).Str("module", "sink.guard").Str("sink", string(h)).Msg("manual resume rejected")
		return fmt.Errorf("%w: resume %s: %v", core.ErrPlayback, h, playErr)
	}

	g.mu.Lock()
	e, ok := g.entries[h]
	if ok && e.target == target {
		e.state.AutoplayFailed = false
	}
	g.mu.Unlock()
	if !ok {
		return core.ErrUnknownSink
	}
	log.Info().Str("module", "sink.guard").Str("sink", string(h)).Msg("playback resumed")
	return nil
}

func (g *Guard) State(h domain.SinkHandle) (domain.PlaybackState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok {
		return domain.PlaybackState{}, false
	}
	return e.state, true
}

func (g *Guard) Forget(h domain.SinkHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, h)
}
