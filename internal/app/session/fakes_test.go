package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var (
	errNoRemote    = errors.New("remote description not set")
	errMediaClosed = errors.New("connection closed")
)

type fakeMedia struct {
	id     string
	cands  chan domain.IceCandidateMessage
	tracks chan core.RemoteStream
	states chan core.ConnState

	// remoteGate, when set, holds SetRemoteDescription until closed.
	remoteGate    chan struct{}
	remoteEntered chan struct{}

	mu        sync.Mutex
	remote    []domain.SdpMessage
	applied   []string
	kinds     []domain.TrackKind
	closed    bool
	closeOnce sync.Once
}

func newFakeMedia(id string) *fakeMedia {
	return &fakeMedia{
		id:            id,
		cands:         make(chan domain.IceCandidateMessage, 8),
		tracks:        make(chan core.RemoteStream, 8),
		states:        make(chan core.ConnState, 8),
		remoteEntered: make(chan struct{}, 8),
	}
}

func (m *fakeMedia) ID() string { return m.id }

func (m *fakeMedia) Events() core.MediaEvents {
	return core.MediaEvents{Candidates: m.cands, Tracks: m.tracks, States: m.states}
}

func (m *fakeMedia) AddRecvTransceivers(kinds ...domain.TrackKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kinds...)
	return nil
}

func (m *fakeMedia) SetRemoteDescription(ctx context.Context, sdp domain.SdpMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.IsClosed() {
		return errMediaClosed
	}
	m.remoteEntered <- struct{}{}
	if m.remoteGate != nil {
		<-m.remoteGate
	}
	if sdp.Body() == "garbage" {
		return fmt.Errorf("%w: bad sdp", core.ErrSignalingParse)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = append(m.remote, sdp)
	return nil
}

func (m *fakeMedia) CreateOffer(context.Context) (domain.SdpMessage, error) {
	return domain.NewSdpMessage(domain.SdpOffer, "v=0 offer")
}

func (m *fakeMedia) CreateAnswer(context.Context) (domain.SdpMessage, error) {
	return domain.NewSdpMessage(domain.SdpAnswer, "v=0 answer")
}

func (m *fakeMedia) AddICECandidate(c domain.IceCandidateMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.remote) == 0 {
		return errNoRemote
	}
	m.applied = append(m.applied, c.Candidate)
	return nil
}

func (m *fakeMedia) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.cands)
		close(m.tracks)
		close(m.states)
	})
	return nil
}

func (m *fakeMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

func (m *fakeMedia) RemoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.remote)
}

type fakeSignal struct {
	inbound chan core.Frame
	sent    chan core.Frame

	mu     sync.Mutex
	closed bool
	err    error
	once   sync.Once
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{inbound: make(chan core.Frame, 16), sent: make(chan core.Frame, 64)}
}

func (s *fakeSignal) Inbound() <-chan core.Frame { return s.inbound }

func (s *fakeSignal) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrTransport
	}
	s.sent <- f
	return nil
}

func (s *fakeSignal) Close() { s.end(nil) }

func (s *fakeSignal) end(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = cause
		s.mu.Unlock()
		close(s.inbound)
	})
}

func (s *fakeSignal) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSignal) push(t *testing.T, frame string) {
	t.Helper()
	select {
	case s.inbound <- core.Frame(frame):
	case <-time.After(waitFor):
		t.Fatal("inbound frame not consumed")
	}
}

func (s *fakeSignal) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-s.sent:
		return string(f)
	case <-time.After(waitFor):
		t.Fatal("no frame sent")
		return ""
	}
}

type fakeEgress struct {
	gate       chan struct{}
	err        error
	exchanged  atomic.Int32
	terminated atomic.Int32
}

func (e *fakeEgress) Exchange(ctx context.Context, offer domain.SdpMessage) (domain.SdpMessage, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.exchanged.Add(1)
	if e.err != nil {
		return domain.SdpMessage{}, e.err
	}
	return domain.NewSdpMessage(domain.SdpAnswer, "v=0 whep answer")
}

func (e *fakeEgress) Terminate(context.Context) error {
	e.terminated.Add(1)
	return nil
}

type fakeStream struct {
	id      string
	kind    domain.TrackKind
	stopped chan struct{}
	once    sync.Once
}

func newFakeStream(id string, kind domain.TrackKind) *fakeStream {
	return &fakeStream{id: id, kind: kind, stopped: make(chan struct{})}
}

func (s *fakeStream) TrackID() string        { return s.id }
func (s *fakeStream) StreamID() string       { return "stream" }
func (s *fakeStream) Kind() domain.TrackKind { return s.kind }
func (s *fakeStream) MimeType() string       { return "video/VP8" }

func (s *fakeStream) ReadRTP() (*rtp.Packet, error) {
	<-s.stopped
	return nil, io.EOF
}

func (s *fakeStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeStream) Stopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

type fakeTarget struct {
	id      domain.SinkHandle
	reject  *atomic.Bool
	owner   *fakeTargets
	playing atomic.Bool
	removed atomic.Bool
}

func (t *fakeTarget) ID() domain.SinkHandle    { return t.id }
func (t *fakeTarget) Attach(core.RemoteStream) {}

func (t *fakeTarget) Play(context.Context) error {
	if t.owner != nil && t.owner.playGate != nil {
		t.owner.playing.Add(1)
		<-t.owner.playGate
	}
	if t.reject.Load() {
		return errors.New("playback not allowed")
	}
	t.playing.Store(true)
	return nil
}

func (t *fakeTarget) Playing() bool         { return t.playing.Load() }
func (t *fakeTarget) Stats() core.SinkStats { return core.SinkStats{} }
func (t *fakeTarget) Detach()               { t.playing.Store(false) }

func (t *fakeTarget) Remove() error {
	t.removed.Store(true)
	return nil
}

type fakeTargets struct {
	reject atomic.Bool
	n      atomic.Int32
	// playGate, when set, holds every Play until closed; playing counts the waiters.
	playGate chan struct{}
	playing  atomic.Int32
}

func (f *fakeTargets) NewTarget(kind domain.TrackKind) (core.RenderTarget, error) {
	n := f.n.Add(1)
	return &fakeTarget{id: domain.SinkHandle(fmt.Sprintf("%s-%d", kind, n)), reject: &f.reject, owner: f}, nil
}

// rig wires a Controller to fakes and records what the hooks report.
type rig struct {
	ctl     *Controller
	targets *fakeTargets
	egress  *fakeEgress

	mu      sync.Mutex
	medias  []*fakeMedia
	signals []*fakeSignal
	errs    []error
	resumes []domain.SinkHandle

	dialed chan *fakeSignal
	// mediaHook may adjust a fake before the controller uses it.
	mediaHook func(*fakeMedia)
}

func newRig(t *testing.T) *rig {
	r := &rig{
		targets: &fakeTargets{},
		egress:  &fakeEgress{},
		dialed:  make(chan *fakeSignal, 4),
	}
	deps := Deps{
		Media: func(sid domain.SessionID) (core.MediaConnection, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			m := newFakeMedia(fmt.Sprintf("pc-%d", len(r.medias)+1))
			if r.mediaHook != nil {
				r.mediaHook(m)
			}
			r.medias = append(r.medias, m)
			return m, nil
		},
		Signal: func(ctx context.Context, address string) (core.SignalTransport, error) {
			s := newFakeSignal()
			r.mu.Lock()
			r.signals = append(r.signals, s)
			r.mu.Unlock()
			r.dialed <- s
			return s, nil
		},
		Egress:  func(string) core.EgressTransport { return r.egress },
		Targets: r.targets,
	}
	hooks := Hooks{
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnNeedsResume: func(h domain.SinkHandle) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.resumes = append(r.resumes, h)
		},
	}
	r.ctl = New(deps, hooks)
	t.Cleanup(r.ctl.Close)
	return r
}

func (r *rig) media(i int) *fakeMedia {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.medias[i]
}

func (r *rig) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *rig) Resumes() []domain.SinkHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SinkHandle(nil), r.resumes...)
}

func (r *rig) nextSignal(t *testing.T) *fakeSignal {
	t.Helper()
	select {
	case s := <-r.dialed:
		require.Equal(t, "browser", s.next(t), "readiness frame")
		return s
	case <-time.After(waitFor):
		t.Fatal("signal channel never dialed")
		return nil
	}
}

func (r *rig) await(t *testing.T, want domain.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	got, err := r.ctl.Await(ctx, want)
	require.NoError(t, err, "waiting for %s, at %s", want, got)
}

func (r *rig) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := r.ctl.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func pushConfig() StartConfig {
	return StartConfig{Mode: domain.ModePush, Address: "ws://relay.local/ws", Autoplay: true}
}

func pullConfig() StartConfig {
	return StartConfig{Mode: domain.ModePull, Address: "http://egress.local/whep", Autoplay: true}
}

func candidateFrame(line string) string {
	return fmt.Sprintf(`{"type":"candidate","candidate":%q,"sdpMid":"0","sdpMLineIndex":0}`, line)
}

const offerFrame = `{"type":"offer","sdp":"v=0 remote offer"}`
