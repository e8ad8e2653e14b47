package rtc

import (
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type remoteStream struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (s *remoteStream) TrackID() string  { return s.track.ID() }
func (s *remoteStream) StreamID() string { return s.track.StreamID() }
func (s *remoteStream) MimeType() string { return s.track.Codec().MimeType }

func (s *remoteStream) Kind() domain.TrackKind {
	if s.track.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func (s *remoteStream) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

func (s *remoteStream) Stop() error { return s.receiver.Stop() }
