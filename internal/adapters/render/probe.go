package render

import (
	"fmt"
	"strings"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/pion/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// 120ms of 48kHz stereo s16, the largest opus frame.
const probeBufferSize = 5760 * 2 * 2

// probe decodes opus audio without storing it and reports the bandwidth heard.
// Other codecs are only counted.
type probe struct {
	t       *Target
	decoder *opus.Decoder
	pcm     []byte
}

func openProbe(t *Target, s core.RemoteStream) (output, error) {
	p := &probe{t: t}
	if strings.EqualFold(s.MimeType(), webrtc.MimeTypeOpus) {
		d := opus.NewDecoder()
		p.decoder = &d
		p.pcm = make([]byte, probeBufferSize)
	}
	t.setDetail(s.MimeType())
	return p, nil
}

func (p *probe) WriteRTP(pkt *rtp.Packet) error {
	if p.decoder == nil || len(pkt.Payload) == 0 {
		return nil
	}
	bandwidth, stereo, err := p.decoder.Decode(pkt.Payload, p.pcm)
	if err != nil {
		return fmt.Errorf("opus decode: %w", err)
	}
	p.t.setDetail(fmt.Sprintf("opus %s stereo=%t", bandwidth.String(), stereo))
	return nil
}

func (p *probe) Close() error { return nil }
