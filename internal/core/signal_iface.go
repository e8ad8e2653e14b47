package core

import (
	"context"

	"github.com/dkeye/vrrtc/internal/domain"
)

// Frame is a raw text payload of the signaling channel.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalTransport is the client side of a persistent signaling channel.
type SignalTransport interface {
	SignalConnection
	// Inbound yields frames in arrival order and is closed when the channel ends.
	Inbound() <-chan Frame
	// Err reports why the channel ended, nil after a local Close.
	Err() error
}

// SignalDialer opens a channel to address and returns once it is open.
type SignalDialer func(ctx context.Context, address string) (SignalTransport, error)

// EgressTransport performs the pull-mode description exchange.
type EgressTransport interface {
	Exchange(ctx context.Context, offer domain.SdpMessage) (domain.SdpMessage, error)
	// Terminate releases the remote session; no-op before a successful Exchange.
	Terminate(ctx context.Context) error
}

// EgressFactory binds an egress transport to an endpoint address.
type EgressFactory func(address string) EgressTransport
