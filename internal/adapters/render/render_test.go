package render

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanStream serves queued packets and fails reads once stopped.
type chanStream struct {
	mime    string
	kind    domain.TrackKind
	packets chan *rtp.Packet
	stopped chan struct{}
	once    sync.Once
}

func newChanStream(mime string, kind domain.TrackKind) *chanStream {
	return &chanStream{mime: mime, kind: kind, packets: make(chan *rtp.Packet, 16), stopped: make(chan struct{})}
}

func (s *chanStream) TrackID() string        { return "track" }
func (s *chanStream) StreamID() string       { return "stream" }
func (s *chanStream) Kind() domain.TrackKind { return s.kind }
func (s *chanStream) MimeType() string       { return s.mime }

func (s *chanStream) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-s.packets:
		return p, nil
	case <-s.stopped:
		return nil, io.EOF
	}
}

func (s *chanStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func packet(seq uint16, payload ...byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq, Timestamp: uint32(seq) * 960, SSRC: 1},
		Payload: payload,
	}
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory("screen", "")
	assert.Error(t, err)
	_, err = NewFactory(KindFile, "")
	assert.Error(t, err)

	f, err := NewFactory(KindDiscard, "")
	require.NoError(t, err)
	_, err = f.NewTarget("subtitles")
	assert.ErrorIs(t, err, domain.ErrUnknownTrackKind)

	a, err := f.NewTarget(domain.TrackAudio)
	require.NoError(t, err)
	v, err := f.NewTarget(domain.TrackVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.SinkHandle("audio-1"), a.ID())
	assert.Equal(t, domain.SinkHandle("video-2"), v.ID())
}

func TestDiscardTargetCounts(t *testing.T) {
	f, err := NewFactory(KindDiscard, "")
	require.NoError(t, err)
	target, err := f.NewTarget(domain.TrackVideo)
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, target.Play(ctx), ErrNoStream)

	s := newChanStream(webrtc.MimeTypeVP8, domain.TrackVideo)
	target.Attach(s)
	require.NoError(t, target.Play(ctx))
	require.NoError(t, target.Play(ctx))
	assert.True(t, target.Playing())

	s.packets <- packet(1, 1, 2, 3)
	s.packets <- packet(2, 4, 5)
	require.Eventually(t, func() bool { return target.Stats().Packets == 2 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 5, target.Stats().Bytes)

	require.NoError(t, s.Stop())
	target.Detach()
	assert.False(t, target.Playing())
	require.NoError(t, target.Remove())
	require.NoError(t, target.Remove())
	assert.ErrorIs(t, target.Play(ctx), ErrRemoved)
}

func TestFileTargetWritesOgg(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFactory(KindFile, dir)
	require.NoError(t, err)
	target, err := f.NewTarget(domain.TrackAudio)
	require.NoError(t, err)

	s := newChanStream(webrtc.MimeTypeOpus, domain.TrackAudio)
	target.Attach(s)
	require.NoError(t, target.Play(context.Background()))

	for i := uint16(1); i <= 3; i++ {
		s.packets <- packet(i, 0x78, 0x01, 0x02)
	}
	require.Eventually(t, func() bool { return target.Stats().Packets == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	target.Detach()
	require.NoError(t, target.Remove())

	info, err := os.Stat(filepath.Join(dir, "audio-1.ogg"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestFileTargetRejectsUnsupportedCodec(t *testing.T) {
	f, err := NewFactory(KindFile, t.TempDir())
	require.NoError(t, err)
	target, err := f.NewTarget(domain.TrackVideo)
	require.NoError(t, err)

	target.Attach(newChanStream(webrtc.MimeTypeVP9, domain.TrackVideo))
	err = target.Play(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, target.Playing())
}

func TestProbeTarget(t *testing.T) {
	f, err := NewFactory(KindProbe, "")
	require.NoError(t, err)
	target, err := f.NewTarget(domain.TrackAudio)
	require.NoError(t, err)

	s := newChanStream(webrtc.MimeTypeOpus, domain.TrackAudio)
	target.Attach(s)
	require.NoError(t, target.Play(context.Background()))
	assert.Equal(t, webrtc.MimeTypeOpus, target.Stats().Detail)

	// config 31 is a CELT frame, which the decoder does not handle
	s.packets <- packet(1, 0xF8, 0xFF, 0xFE)
	require.Eventually(t, func() bool { return target.Stats().DecodeErrors == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, target.Stats().Packets)

	require.NoError(t, s.Stop())
	target.Detach()
	require.NoError(t, target.Remove())
}

func TestPlayHonorsContext(t *testing.T) {
	f, err := NewFactory(KindDiscard, "")
	require.NoError(t, err)
	target, err := f.NewTarget(domain.TrackAudio)
	require.NoError(t, err)
	target.Attach(newChanStream(webrtc.MimeTypeOpus, domain.TrackAudio))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, target.Play(ctx), context.Canceled)
}
