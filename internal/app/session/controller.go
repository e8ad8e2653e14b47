// Package session drives the negotiation and lifecycle of one receive-only
// media session.
//
// All state of a Controller is owned by a single event-loop goroutine. Public
// calls and connection events are posted into that loop; blocking steps
// (description application, answer and offer creation, the pull exchange) run
// outside it and post their completion back tagged with the generation they
// belong to. Stop bumps the generation, so completions of an abandoned
// negotiation are dropped instead of acting on a closed connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/vrrtc/internal/app/sink"
	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	opsQueue         = 64
	terminateTimeout = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid start config")

// StartConfig is what a caller hands to Start.
type StartConfig struct {
	Mode    domain.Mode `validate:"required,oneof=push pull"`
	Address string      `validate:"required,url"`
	// Autoplay starts playback of every sink as soon as its track arrives.
	// Without it sinks stay bound but idle until resumed.
	Autoplay bool
	Debug    bool
	// Transceivers configures the pull-mode media lines; empty means video and audio.
	Transceivers domain.TransceiverConfig
}

func (cfg StartConfig) validate(v *validator.Validate) error {
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var schemes []string
	switch cfg.Mode {
	case domain.ModePush:
		schemes = []string{"ws", "wss"}
	case domain.ModePull:
		schemes = []string{"http", "https"}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%w: %s mode needs a %v address, got %q", ErrInvalidConfig, cfg.Mode, schemes, u.Scheme)
	}
	return nil
}

// Deps are the collaborators a Controller creates per session.
type Deps struct {
	Media   core.MediaFactory
	Signal  core.SignalDialer
	Egress  core.EgressFactory
	Targets core.TargetFactory
}

// Hooks observe a Controller. They run on the controller's loop and must not
// call back into it synchronously.
type Hooks struct {
	OnStateChange func(domain.State)
	OnError       func(error)
	OnNeedsResume func(domain.SinkHandle)
}

type Controller struct {
	deps     Deps
	hooks    Hooks
	sinks    *sink.Registry
	validate *validator.Validate

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	stateMu sync.Mutex
	state   domain.State
	changed chan struct{}

	// owned by the loop goroutine
	gen       uint64
	sess      domain.Session
	cfg       StartConfig
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	media     core.MediaConnection
	signal    core.SignalTransport
	egress    core.EgressTransport
	remoteSet bool
	offering  bool
	queued    []domain.IceCandidateMessage
}

// New creates a Controller in the Uninit state and starts its loop.
// Close releases it.
func New(deps Deps, hooks Hooks) *Controller {
	c := &Controller{
		deps:     deps,
		hooks:    hooks,
		validate: validator.New(),
		ops:      make(chan func(), opsQueue),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    domain.StateUninit,
		changed:  make(chan struct{}),
		logger:   log.With().Str("module", "session").Logger(),
	}
	c.sinks = sink.NewRegistry(deps.Targets, sink.NewGuard(c.notifyNeedsResume))
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			if eg := c.teardown(); eg != nil {
				terminate(eg, c.logger)
			}
			c.setState(domain.StateClosed)
			return
		}
	}
}

// post queues fn on the loop. It reports false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return core.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loopDone:
		return core.ErrClosed
	}
}

// Start begins a negotiation. It returns once the session is Negotiating;
// completion is observable through State, Await and the hooks.
func (c *Controller) Start(ctx context.Context, cfg StartConfig) error {
	if err := cfg.validate(c.validate); err != nil {
		return err
	}
	var err error
	if cerr := c.call(ctx, func() { err = c.start(cfg) }); cerr != nil {
		return cerr
	}
	return err
}

func (c *Controller) start(cfg StartConfig) error {
	if st := c.State(); !st.Startable() {
		return fmt.Errorf("%w: session is %s", core.ErrSessionBusy, st)
	}
	if len(cfg.Transceivers.Kinds) == 0 {
		cfg.Transceivers = domain.DefaultTransceivers()
	}

	c.gen++
	gen := c.gen
	c.cfg = cfg
	c.sess = domain.Session{
		ID:            domain.SessionID(uuid.NewString()),
		Mode:          cfg.Mode,
		RemoteAddress: cfg.Address,
		Transceivers:  cfg.Transceivers,
	}
	c.logger = log.With().Str("module", "session").Str("sid", string(c.sess.ID)).Str("mode", string(cfg.Mode)).Logger()
	if !cfg.Debug {
		c.logger = c.logger.Level(zerolog.InfoLevel)
	}

	media, err := c.deps.Media(c.sess.ID)
	if err != nil {
		c.setState(domain.StateDisconnected)
		return negotiationError(err)
	}
	c.media = media
	c.remoteSet = false
	c.offering = false
	c.queued = nil
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.pumpMedia(gen, media.Events())

	c.setState(domain.StateNegotiating)
	c.logger.Info().Str("addr", cfg.Address).Uint64("gen", gen).Msg("session starting")

	switch cfg.Mode {
	case domain.ModePush:
		go c.dialPush(c.ctx, gen, cfg.Address)
	case domain.ModePull:
		if err := media.AddRecvTransceivers(cfg.Transceivers.Kinds...); err != nil {
			c.teardown()
			c.setState(domain.StateDisconnected)
			return negotiationError(err)
		}
		c.egress = c.deps.Egress(cfg.Address)
		go c.pull(c.ctx, gen, media, c.egress)
	}
	return nil
}

// Stop ends the session from any state. Stopping a session that never
// started, or stopping twice, does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	var (
		eg     core.EgressTransport
		logger zerolog.Logger
	)
	if err := c.call(ctx, func() {
		logger = c.logger
		eg = c.stop()
	}); err != nil {
		if errors.Is(err, core.ErrClosed) {
			return nil
		}
		return err
	}
	if eg != nil {
		if err := eg.Terminate(ctx); err != nil {
			logger.Warn().Err(err).Msg("egress terminate")
		}
	}
	return nil
}

func (c *Controller) stop() core.EgressTransport {
	switch c.State() {
	case domain.StateUninit, domain.StateDisconnected, domain.StateClosed:
		return nil
	}
	eg := c.teardown()
	c.setState(domain.StateDisconnected)
	c.logger.Info().Msg("session stopped")
	return eg
}

// fail reports err for the current attempt and leaves the session Disconnected.
func (c *Controller) fail(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.logger.Error().Err(err).Msg("session failed")
	if eg := c.teardown(); eg != nil {
		go terminate(eg, c.logger)
	}
	c.setState(domain.StateDisconnected)
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

// teardown releases everything the current generation owns and invalidates
// its in-flight operations. The egress transport is returned for the caller
// to terminate off the loop.
func (c *Controller) teardown() core.EgressTransport {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.signal != nil {
		c.signal.Close()
		c.signal = nil
	}
	if c.media != nil {
		if err := c.media.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("media close")
		}
		c.media = nil
	}
	c.sinks.ReleaseAll()
	c.queued = nil
	c.remoteSet = false
	c.offering = false
	eg := c.egress
	c.egress = nil
	return eg
}

// Close stops the session and the loop. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.loopDone
	})
}

// Resume retries playback of a sink whose autoplay was rejected or disabled.
// Playback starts off the loop; its outcome is dropped with ErrUnknownSink
// when the session ended meanwhile.
func (c *Controller) Resume(ctx context.Context, h domain.SinkHandle) error {
	var (
		gen    uint64
		target core.RenderTarget
		err    error
	)
	if cerr := c.call(ctx, func() {
		gen = c.gen
		target, err = c.sinks.ResumeTarget(h)
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	playErr := target.Play(ctx)
	if cerr := c.call(ctx, func() {
		if gen != c.gen {
			err = fmt.Errorf("%w: %s released during resume", core.ErrUnknownSink, h)
			return
		}
		err = c.sinks.FinishResume(h, target, playErr)
	}); cerr != nil {
		return cerr
	}
	return err
}

func (c *Controller) State() domain.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Controller) setState(s domain.State) {
	c.stateMu.Lock()
	if c.state == s {
		c.stateMu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	c.stateMu.Unlock()

	c.sess.State = s
	c.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("state change")
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(s)
	}
}

// Await blocks until the session is in one of want.
func (c *Controller) Await(ctx context.Context, want ...domain.State) (domain.State, error) {
	for {
		c.stateMu.Lock()
		s, ch := c.state, c.changed
		c.stateMu.Unlock()
		if slices.Contains(want, s) {
			return s, nil
		}
		if s == domain.StateClosed {
			return s, core.ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Session    domain.Session `json:"session"`
	Generation uint64         `json:"generation"`
	Queued     int            `json:"queued_candidates"`
	// Applying is set while a remote offer is being applied or answered.
	Applying bool           `json:"applying"`
	Sinks    []sink.Binding `json:"sinks"`
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() {
		snap = Snapshot{
			Session:    c.sess,
			Generation: c.gen,
			Queued:     len(c.queued),
			Applying:   c.offering,
			Sinks:      c.sinks.Bindings(),
		}
		snap.Session.State = c.State()
	})
	return snap, err
}

func (c *Controller) notifyNeedsResume(h domain.SinkHandle) {
	c.logger.Warn().Str("sink", string(h)).Msg("sink needs manual resume")
	if c.hooks.OnNeedsResume != nil {
		c.hooks.OnNeedsResume(h)
	}
}

func terminate(eg core.EgressTransport, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := eg.Terminate(ctx); err != nil {
		logger.Warn().Err(err).Msg("egress terminate")
	}
}

func negotiationError(err error) error {
	if errors.Is(err, core.ErrNegotiation) || errors.Is(err, core.ErrTransport) || errors.Is(err, core.ErrSignalingParse) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrNegotiation, err)
}
