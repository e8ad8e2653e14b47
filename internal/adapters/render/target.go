package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrNoStream    = errors.New("no stream attached")
	ErrRemoved     = errors.New("render target removed")
	ErrUnsupported = errors.New("codec not supported by target")
)

type TargetState int32

const (
	TargetIdle TargetState = iota
	TargetPlaying
	TargetRemoved
)

// output consumes the packets of one stream.
type output interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// opener creates the output for a stream when playback starts.
type opener func(stream core.RemoteStream) (output, error)

// Target pumps RTP from an attached stream into an output once playing.
type Target struct {
	id     domain.SinkHandle
	kind   domain.TrackKind
	open   opener
	logger zerolog.Logger

	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
	decode  atomic.Uint64
	detail  atomic.Value

	mu     sync.Mutex
	stream core.RemoteStream
	out    output
	cancel context.CancelFunc
	pumps  *conc.WaitGroup
}

func newTarget(id domain.SinkHandle, kind domain.TrackKind, open opener) *Target {
	return &Target{
		id:     id,
		kind:   kind,
		open:   open,
		logger: log.With().Str("module", "render").Str("sink", string(id)).Str("kind", string(kind)).Logger(),
	}
}

func (t *Target) ID() domain.SinkHandle { return t.id }

func (t *Target) Attach(stream core.RemoteStream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream = stream
}

func (t *Target) Playing() bool { return TargetState(t.state.Load()) == TargetPlaying }

func (t *Target) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch TargetState(t.state.Load()) {
	case TargetRemoved:
		return ErrRemoved
	case TargetPlaying:
		return nil
	}
	if t.stream == nil {
		return ErrNoStream
	}
	out, err := t.open(t.stream)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	t.out = out
	t.cancel = cancel
	t.pumps = &conc.WaitGroup{}
	stream := t.stream
	t.pumps.Go(func() { t.loop(pumpCtx, stream, out) })
	t.state.Store(int32(TargetPlaying))
	t.logger.Info().Str("codec", stream.MimeType()).Msg("playback started")
	return nil
}

// loop reads RTP packets from the stream and writes them to the output.
func (t *Target) loop(ctx context.Context, stream core.RemoteStream, out output) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := stream.ReadRTP()
		if err != nil {
			t.logger.Debug().Err(err).Msg("read RTP stopped")
			return
		}
		t.packets.Add(1)
		t.bytes.Add(uint64(len(pkt.Payload)))
		if err := out.WriteRTP(pkt); err != nil {
			t.decode.Add(1)
			t.logger.Debug().Err(err).Msg("write RTP failed")
		}
	}
}

func (t *Target) Stats() core.SinkStats {
	s := core.SinkStats{
		Packets:      t.packets.Load(),
		Bytes:        t.bytes.Load(),
		DecodeErrors: t.decode.Load(),
	}
	if d, ok := t.detail.Load().(string); ok {
		s.Detail = d
	}
	return s
}

func (t *Target) setDetail(d string) { t.detail.Store(d) }

func (t *Target) Detach() {
	t.mu.Lock()
	cancel, pumps := t.cancel, t.pumps
	t.cancel, t.pumps = nil, nil
	t.stream = nil
	if TargetState(t.state.Load()) == TargetPlaying {
		t.state.Store(int32(TargetIdle))
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// The pump exits once the stream was stopped and its read fails.
	if pumps != nil {
		pumps.Wait()
	}
}

func (t *Target) Remove() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if TargetState(t.state.Load()) == TargetRemoved {
		return nil
	}
	t.state.Store(int32(TargetRemoved))
	if t.out == nil {
		return nil
	}
	err := t.out.Close()
	t.out = nil
	t.logger.Info().Uint64("packets", t.packets.Load()).Msg("removed")
	return err
}
