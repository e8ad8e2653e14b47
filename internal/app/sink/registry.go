package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyBound = errors.New("track already bound")

type entry struct {
	binding domain.TrackBinding
	target  core.RenderTarget
	stream  core.RemoteStream
}

// Binding is a read-only view of one bound sink.
type Binding struct {
	domain.TrackBinding
	Playback domain.PlaybackState `json:"playback"`
	Stats    core.SinkStats       `json:"stats"`
}

// Registry owns the render targets of one session, one per received track.
type Registry struct {
	targets core.TargetFactory
	guard   *Guard

	mu      sync.Mutex
	sinks   map[domain.SinkHandle]*entry
	byTrack map[string]domain.SinkHandle
	order   []domain.SinkHandle
}

func NewRegistry(targets core.TargetFactory, guard *Guard) *Registry {
	return &Registry{
		targets: targets,
		guard:   guard,
		sinks:   make(map[domain.SinkHandle]*entry),
		byTrack: make(map[string]domain.SinkHandle),
	}
}

// Bind creates a render target for stream, attaches it and hands it to the guard.
// With autoplay the guard starts playback at once; a rejection still leaves the
// sink bound and the returned error then wraps core.ErrPlayback. Without
// autoplay the sink stays idle until resumed.
func (r *Registry) Bind(ctx context.Context, kind domain.TrackKind, stream core.RemoteStream, autoplay bool) (domain.SinkHandle, error) {
	r.mu.Lock()
	if h, ok := r.byTrack[stream.TrackID()]; ok {
		r.mu.Unlock()
		return h, ErrAlreadyBound
	}
	target, err := r.targets.NewTarget(kind)
	if err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("sink: new %s target: %w", kind, err)
	}
	h := target.ID()
	target.Attach(stream)
	r.sinks[h] = &entry{
		binding: domain.TrackBinding{TrackID: stream.TrackID(), Kind: kind, Sink: h},
		target:  target,
		stream:  stream,
	}
	r.byTrack[stream.TrackID()] = h
	r.order = append(r.order, h)
	r.mu.Unlock()

	log.Info().Str("module", "sink.registry").Str("sink", string(h)).Str("kind", string(kind)).Str("track_id", stream.TrackID()).Msg("sink bound")
	if !autoplay {
		r.guard.Register(h, target)
		return h, nil
	}
	return h, r.guard.Attach(ctx, h, target)
}

// Resume retries playback of a bound sink.
func (r *Registry) Resume(ctx context.Context, h domain.SinkHandle) error {
	target, err := r.ResumeTarget(h)
	if err != nil {
		return err
	}
	return r.FinishResume(h, target, target.Play(ctx))
}

// ResumeTarget looks up the target a resume of h should play, so the caller
// can start playback without holding its own lock.
func (r *Registry) ResumeTarget(h domain.SinkHandle) (core.RenderTarget, error) {
	r.mu.Lock()
	_, ok := r.sinks[h]
	r.mu.Unlock()
	if !ok {
		return nil, core.ErrUnknownSink
	}
	target, ok := r.guard.Target(h)
	if !ok {
		return nil, core.ErrUnknownSink
	}
	return target, nil
}

// FinishResume records the result of playing target for h.
func (r *Registry) FinishResume(h domain.SinkHandle, target core.RenderTarget, playErr error) error {
	r.mu.Lock()
	_, ok := r.sinks[h]
	r.mu.Unlock()
	if !ok {
		return core.ErrUnknownSink
	}
	return r.guard.Resumed(h, target, playErr)
}

// ReleaseAll stops every bound stream, detaches and removes its target, then
// clears the registry.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.order))
	for _, h := range r.order {
		entries = append(entries, r.sinks[h])
	}
	r.sinks = make(map[domain.SinkHandle]*entry)
	r.byTrack = make(map[string]domain.SinkHandle)
	r.order = nil
	r.mu.Unlock()

	for _, e := range entries {
		h := e.binding.Sink
		if err := e.stream.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "sink.registry").Str("sink", string(h)).Msg("stream stop")
		}
		e.target.Detach()
		if err := e.target.Remove(); err != nil {
			log.Error().Err(err).Str("module", "sink.registry").Str("sink", string(h)).Msg("target remove")
		}
		r.guard.Forget(h)
	}
	if len(entries) > 0 {
		log.Info().Str("module", "sink.registry").Int("count", len(entries)).Msg("sinks released")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Bindings returns the bound sinks in bind order.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Binding, 0, len(r.order))
	for _, h := range r.order {
		e := r.sinks[h]
		b := Binding{TrackBinding: e.binding, Stats: e.target.Stats()}
		if st, ok := r.guard.State(h); ok {
			b.Playback = st
		}
		out = append(out, b)
	}
	return out
}
