package domain

import "errors"

var ErrUnknownTrackKind = errors.New("unknown track kind")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func ParseTrackKind(s string) (TrackKind, error) {
	switch k := TrackKind(s); k {
	case TrackAudio, TrackVideo:
		return k, nil
	}
	return "", ErrUnknownTrackKind
}

// SinkHandle identifies a render target bound to one received track.
type SinkHandle string

type TrackBinding struct {
	TrackID string     `json:"track_id"`
	Kind    TrackKind  `json:"kind"`
	Sink    SinkHandle `json:"sink"`
}

type PlaybackState struct {
	RenderTargetID SinkHandle `json:"render_target_id"`
	AutoplayFailed bool       `json:"autoplay_failed"`
}
