package core

import (
	"context"

	"github.com/dkeye/vrrtc/internal/domain"
)

// SinkStats counts what a render target consumed.
type SinkStats struct {
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// RenderTarget consumes one received stream.
type RenderTarget interface {
	ID() domain.SinkHandle
	Attach(stream RemoteStream)
	// Play starts consumption; an error is a rejected playback and may be retried.
	Play(ctx context.Context) error
	Playing() bool
	Stats() SinkStats
	// Detach stops consumption and drops the stream.
	Detach()
	// Remove releases the target's output.
	Remove() error
}

type TargetFactory interface {
	NewTarget(kind domain.TrackKind) (RenderTarget, error)
}
