package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.ICEServers = nil
	s.GatherTimeout = 2 * time.Second
	return s
}

func newTestConnection(t *testing.T) *WebRTCConnection {
	t.Helper()
	s := testSettings()
	api, err := NewAPI(s)
	require.NoError(t, err)
	mc, err := NewFactory(api, s)("sid-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close() })
	return mc.(*WebRTCConnection)
}

// remoteOffer builds an offer from a peer sending one opus track.
func remoteOffer(t *testing.T) domain.SdpMessage {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "publisher")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))

	msg, err := domain.NewSdpMessage(domain.SdpOffer, pc.LocalDescription().SDP)
	require.NoError(t, err)
	return msg
}

func TestAnswerRemoteOffer(t *testing.T) {
	c := newTestConnection(t)
	ctx := context.Background()

	require.NoError(t, c.SetRemoteDescription(ctx, remoteOffer(t)))
	answer, err := c.CreateAnswer(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.SdpAnswer, answer.Kind())
	assert.Contains(t, answer.Body(), "m=audio")
	assert.Contains(t, answer.Body(), "a=recvonly")
	require.NotNil(t, c.pc.LocalDescription())
}

func TestSetRemoteDescriptionRejectsMalformedSDP(t *testing.T) {
	c := newTestConnection(t)
	bad, err := domain.NewSdpMessage(domain.SdpOffer, "this is not sdp")
	require.NoError(t, err)

	err = c.SetRemoteDescription(context.Background(), bad)
	require.ErrorIs(t, err, core.ErrSignalingParse)
	assert.Nil(t, c.pc.RemoteDescription())
}

func TestCreateOfferWithRecvTransceivers(t *testing.T) {
	c := newTestConnection(t)
	require.NoError(t, c.AddRecvTransceivers(domain.TrackVideo, domain.TrackAudio))

	offer, err := c.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SdpOffer, offer.Kind())

	media, err := inspectSDP(offer.Body())
	require.NoError(t, err)
	assert.Equal(t, []string{"video", "audio"}, media)
	assert.Equal(t, 2, strings.Count(offer.Body(), "a=recvonly"))
}

func TestAddRecvTransceiversRejectsUnknownKind(t *testing.T) {
	c := newTestConnection(t)
	err := c.AddRecvTransceivers("data")
	assert.ErrorIs(t, err, domain.ErrUnknownTrackKind)
}

func TestNegotiationIsSerialized(t *testing.T) {
	c := newTestConnection(t)
	require.NoError(t, c.beginNegotiation())

	_, err := c.CreateAnswer(context.Background())
	assert.ErrorIs(t, err, core.ErrNegotiationInProgress)
	_, err = c.CreateOffer(context.Background())
	assert.ErrorIs(t, err, core.ErrNegotiationInProgress)

	c.endNegotiation()
	require.NoError(t, c.AddRecvTransceivers(domain.TrackAudio))
	_, err = c.CreateOffer(context.Background())
	assert.NoError(t, err)
}

func TestAddICECandidateNeedsRemoteDescription(t *testing.T) {
	c := newTestConnection(t)
	mid := "0"
	idx := uint16(0)
	err := c.AddICECandidate(domain.IceCandidateMessage{
		Candidate:     "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	assert.ErrorIs(t, err, core.ErrNegotiation)
}

func TestCandidatesWaitForLocalDescription(t *testing.T) {
	c := newTestConnection(t)
	m := domain.IceCandidateMessage{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}

	c.publishCandidate(m)
	assert.Empty(t, c.candidates)

	c.markLocalSet()
	require.Len(t, c.candidates, 1)
	assert.Equal(t, m, <-c.candidates)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestConnection(t)
	ev := c.Events()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	_, ok := <-ev.Candidates
	assert.False(t, ok)
	_, ok = <-ev.Tracks
	assert.False(t, ok)
	_, ok = <-ev.States
	assert.False(t, ok)

	// late callbacks after close are dropped
	c.publishCandidate(domain.IceCandidateMessage{Candidate: "candidate:x"})
	c.publishState(core.ConnFailed)
}

func TestCandidateMessage(t *testing.T) {
	cand := &webrtc.ICECandidate{
		Foundation:     "1",
		Priority:       2130706431,
		Address:        "10.0.0.1",
		Protocol:       webrtc.ICEProtocolUDP,
		Port:           5000,
		Typ:            webrtc.ICECandidateTypeSrflx,
		Component:      1,
		RelatedAddress: "192.168.0.2",
		RelatedPort:    6000,
		SDPMid:         "0",
		SDPMLineIndex:  0,
	}
	m := candidateMessage(cand)

	assert.Contains(t, m.Candidate, "typ srflx")
	require.NotNil(t, m.Port)
	assert.EqualValues(t, 5000, *m.Port)
	require.NotNil(t, m.Priority)
	assert.EqualValues(t, 2130706431, *m.Priority)
	require.NotNil(t, m.Protocol)
	assert.Equal(t, "udp", *m.Protocol)
	require.NotNil(t, m.Type)
	assert.Equal(t, domain.CandidateSrflx, *m.Type)
	require.NotNil(t, m.SDPMid)
	assert.Equal(t, "0", *m.SDPMid)
}

func TestConnState(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]core.ConnState{
		webrtc.PeerConnectionStateNew:          core.ConnNew,
		webrtc.PeerConnectionStateConnecting:   core.ConnConnecting,
		webrtc.PeerConnectionStateConnected:    core.ConnConnected,
		webrtc.PeerConnectionStateDisconnected: core.ConnDisconnected,
		webrtc.PeerConnectionStateFailed:       core.ConnFailed,
		webrtc.PeerConnectionStateClosed:       core.ConnClosed,
	}
	for in, want := range cases {
		assert.Equal(t, want, connState(in), in.String())
	}
}

func TestSettingsConfiguration(t *testing.T) {
	s := Settings{ICEServers: []ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	}}
	cfg := s.Configuration()
	require.Len(t, cfg.ICEServers, 2)
	assert.Empty(t, cfg.ICEServers[0].Username)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
	assert.Equal(t, "p", cfg.ICEServers[1].Credential)
}

func TestNewAPIPortRange(t *testing.T) {
	s := testSettings()
	s.PortMin, s.PortMax = 50000, 40000
	_, err := NewAPI(s)
	assert.Error(t, err)

	s.PortMin, s.PortMax = 40000, 40100
	_, err = NewAPI(s)
	assert.NoError(t, err)
}
