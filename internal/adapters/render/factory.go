package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	KindDiscard = "discard"
	KindFile    = "file"
	KindProbe   = "probe"
)

// Factory creates render targets of one configured kind.
type Factory struct {
	kind string
	dir  string
	seq  atomic.Uint64
}

func NewFactory(kind, dir string) (*Factory, error) {
	switch kind {
	case KindDiscard, KindProbe:
	case KindFile:
		if dir == "" {
			return nil, fmt.Errorf("render: file target needs a directory")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
	default:
		return nil, fmt.Errorf("render: unknown target kind %q", kind)
	}
	return &Factory{kind: kind, dir: dir}, nil
}

func (f *Factory) NewTarget(kind domain.TrackKind) (core.RenderTarget, error) {
	if _, err := domain.ParseTrackKind(string(kind)); err != nil {
		return nil, err
	}
	id := domain.SinkHandle(fmt.Sprintf("%s-%d", kind, f.seq.Add(1)))
	switch f.kind {
	case KindFile:
		base := filepath.Join(f.dir, string(id))
		return newTarget(id, kind, func(s core.RemoteStream) (output, error) {
			return openFile(base, s)
		}), nil
	case KindProbe:
		t := newTarget(id, kind, nil)
		t.open = func(s core.RemoteStream) (output, error) {
			return openProbe(t, s)
		}
		return t, nil
	}
	return newTarget(id, kind, func(core.RemoteStream) (output, error) {
		return discard{}, nil
	}), nil
}

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }
func (discard) Close() error               { return nil }

// openFile picks a container for the stream codec.
func openFile(base string, s core.RemoteStream) (media.Writer, error) {
	mime := strings.ToLower(s.MimeType())
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return ivfwriter.New(base + ".ivf")
	case strings.ToLower(webrtc.MimeTypeH264):
		return h264writer.New(base + ".h264")
	case strings.ToLower(webrtc.MimeTypeOpus):
		return oggwriter.New(base+".ogg", 48000, 2)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, s.MimeType())
}
