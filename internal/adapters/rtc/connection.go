package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	candidateBuffer = 64
	trackBuffer     = 8
	stateBuffer     = 16
)

type WebRTCConnection struct {
	pc            *webrtc.PeerConnection
	id            string
	sid           domain.SessionID
	gatherTimeout time.Duration
	logger        zerolog.Logger

	candidates chan domain.IceCandidateMessage
	tracks     chan core.RemoteStream
	states     chan core.ConnState

	negotiating atomic.Bool

	mu       sync.Mutex
	closed   bool
	localSet bool
	// gathered before the local description was marked applied
	early []domain.IceCandidateMessage
}

// NewFactory returns a MediaFactory producing connections from api.
func NewFactory(api *webrtc.API, s Settings) core.MediaFactory {
	cfg := s.Configuration()
	return func(sid domain.SessionID) (core.MediaConnection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: new peer connection: %v", core.ErrNegotiation, err)
		}
		return newConnection(pc, sid, s.GatherTimeout), nil
	}
}

func newConnection(pc *webrtc.PeerConnection, sid domain.SessionID, gatherTimeout time.Duration) *WebRTCConnection {
	id := uuid.NewString()
	c := &WebRTCConnection{
		pc:            pc,
		id:            id,
		sid:           sid,
		gatherTimeout: gatherTimeout,
		logger:        log.With().Str("module", "webrtc").Str("sid", string(sid)).Str("pc", id).Logger(),
		candidates:    make(chan domain.IceCandidateMessage, candidateBuffer),
		tracks:        make(chan core.RemoteStream, trackBuffer),
		states:        make(chan core.ConnState, stateBuffer),
	}
	c.bind()
	return c
}

func (c *WebRTCConnection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.publishState(connState(s))
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.publishCandidate(candidateMessage(cand))
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.requestKeyframe(track)
		}
		c.publishTrack(&remoteStream{track: track, receiver: receiver})
	})
}

func (c *WebRTCConnection) ID() string { return c.id }

func (c *WebRTCConnection) Events() core.MediaEvents {
	return core.MediaEvents{
		Candidates: c.candidates,
		Tracks:     c.tracks,
		States:     c.states,
	}
}

func (c *WebRTCConnection) AddRecvTransceivers(kinds ...domain.TrackKind) error {
	for _, k := range kinds {
		var typ webrtc.RTPCodecType
		switch k {
		case domain.TrackAudio:
			typ = webrtc.RTPCodecTypeAudio
		case domain.TrackVideo:
			typ = webrtc.RTPCodecTypeVideo
		default:
			return fmt.Errorf("%w: %q", domain.ErrUnknownTrackKind, k)
		}
		if _, err := c.pc.AddTransceiverFromKind(typ, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("%w: add %s transceiver: %v", core.ErrNegotiation, k, err)
		}
	}
	return nil
}

func (c *WebRTCConnection) SetRemoteDescription(ctx context.Context, msg domain.SdpMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	media, err := inspectSDP(msg.Body())
	if err != nil {
		return err
	}
	typ := webrtc.SDPTypeOffer
	if msg.Kind() == domain.SdpAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: msg.Body()}); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", core.ErrNegotiation, msg.Kind(), err)
	}
	c.logger.Debug().Str("type", string(msg.Kind())).Strs("media", media).Msg("remote description applied")
	return nil
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context) (domain.SdpMessage, error) {
	if err := c.beginNegotiation(); err != nil {
		return domain.SdpMessage{}, err
	}
	defer c.endNegotiation()

	if err := ctx.Err(); err != nil {
		return domain.SdpMessage{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: create answer: %v", core.ErrNegotiation, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: set local answer: %v", core.ErrNegotiation, err)
	}
	c.markLocalSet()

	return c.localMessage(domain.SdpAnswer)
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (domain.SdpMessage, error) {
	if err := c.beginNegotiation(); err != nil {
		return domain.SdpMessage{}, err
	}
	defer c.endNegotiation()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: create offer: %v", core.ErrNegotiation, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: set local offer: %v", core.ErrNegotiation, err)
	}
	c.markLocalSet()

	var timeout <-chan time.Time
	if c.gatherTimeout > 0 {
		t := time.NewTimer(c.gatherTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-gatherComplete:
	case <-timeout:
		c.logger.Warn().Dur("timeout", c.gatherTimeout).Msg("gathering incomplete, sending partial offer")
	case <-ctx.Done():
		return domain.SdpMessage{}, ctx.Err()
	}

	return c.localMessage(domain.SdpOffer)
}

func (c *WebRTCConnection) AddICECandidate(msg domain.IceCandidateMessage) error {
	ci := webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	}
	if err := c.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("%w: add ice candidate: %v", core.ErrNegotiation, err)
	}
	return nil
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.early = nil
	close(c.candidates)
	close(c.tracks)
	close(c.states)
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) beginNegotiation() error {
	if !c.negotiating.CompareAndSwap(false, true) {
		return core.ErrNegotiationInProgress
	}
	return nil
}

func (c *WebRTCConnection) endNegotiation() { c.negotiating.Store(false) }

func (c *WebRTCConnection) localMessage(kind domain.SdpKind) (domain.SdpMessage, error) {
	local := c.pc.LocalDescription()
	if local == nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: no local description", core.ErrNegotiation)
	}
	return domain.NewSdpMessage(kind, local.SDP)
}

// markLocalSet releases candidates gathered while SetLocalDescription was running.
func (c *WebRTCConnection) markLocalSet() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localSet {
		return
	}
	c.localSet = true
	early := c.early
	c.early = nil
	for _, m := range early {
		c.sendCandidateLocked(m)
	}
}

func (c *WebRTCConnection) publishCandidate(m domain.IceCandidateMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.localSet {
		c.early = append(c.early, m)
		return
	}
	c.sendCandidateLocked(m)
}

func (c *WebRTCConnection) sendCandidateLocked(m domain.IceCandidateMessage) {
	select {
	case c.candidates <- m:
	default:
		c.logger.Warn().Str("candidate", m.Candidate).Msg("candidate dropped, subscriber too slow")
	}
}

func (c *WebRTCConnection) publishTrack(s core.RemoteStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.tracks <- s:
	default:
		c.logger.Warn().Str("track_id", s.TrackID()).Msg("track dropped, subscriber too slow")
	}
}

func (c *WebRTCConnection) publishState(s core.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.states <- s:
	default:
	}
}

func (c *WebRTCConnection) requestKeyframe(track *webrtc.TrackRemote) {
	if err := c.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	}); err != nil {
		c.logger.Debug().Err(err).Msg("initial PLI failed")
	}
}

func candidateMessage(cand *webrtc.ICECandidate) domain.IceCandidateMessage {
	ci := cand.ToJSON()
	port := cand.Port
	priority := cand.Priority
	protocol := cand.Protocol.String()
	m := domain.IceCandidateMessage{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
		Port:          &port,
		Priority:      &priority,
		Protocol:      &protocol,
	}
	if t, ok := domain.ParseCandidateType(cand.Typ.String()); ok {
		m.Type = &t
	}
	return m
}

func connState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed
	}
	return core.ConnNew
}

// inspectSDP parses a remote description and lists its media sections.
func inspectSDP(body string) ([]string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSignalingParse, err)
	}
	media := make([]string, 0, len(sd.MediaDescriptions))
	for _, md := range sd.MediaDescriptions {
		media = append(media, md.MediaName.Media)
	}
	return media, nil
}
