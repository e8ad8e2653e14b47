package core

import (
	"context"

	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
)

// ConnState mirrors the peer connection state of a MediaConnection.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// MediaEvents are the typed subscriptions of one MediaConnection.
// Every channel is closed once the connection is closed.
type MediaEvents struct {
	// Candidates carries local candidates, only after the local description is set.
	Candidates <-chan domain.IceCandidateMessage
	Tracks     <-chan RemoteStream
	States     <-chan ConnState
}

type MediaConnection interface {
	ID() string
	Events() MediaEvents
	// AddRecvTransceivers adds one receive-only media line per kind.
	AddRecvTransceivers(kinds ...domain.TrackKind) error
	SetRemoteDescription(ctx context.Context, sdp domain.SdpMessage) error
	// CreateOffer creates and applies a local offer. It returns once candidate
	// gathering completed, so the offer is usable without trickle.
	CreateOffer(ctx context.Context) (domain.SdpMessage, error)
	// CreateAnswer creates and applies a local answer.
	CreateAnswer(ctx context.Context) (domain.SdpMessage, error)
	// AddICECandidate applies a remote candidate.
	AddICECandidate(domain.IceCandidateMessage) error
	Close() error
	IsClosed() bool
}

// MediaFactory creates a fresh connection for the session sid.
type MediaFactory func(sid domain.SessionID) (MediaConnection, error)

// RemoteStream is one received track and the receiver feeding it.
type RemoteStream interface {
	TrackID() string
	StreamID() string
	Kind() domain.TrackKind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
	// Stop ends the track; pending and later reads fail.
	Stop() error
}
