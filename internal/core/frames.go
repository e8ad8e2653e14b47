package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/vrrtc/internal/domain"
)

type FrameType string

const (
	FrameOffer     FrameType = "offer"
	FrameAnswer    FrameType = "answer"
	FrameCandidate FrameType = "candidate"
	FramePing      FrameType = "ping"
	FramePong      FrameType = "pong"
)

// ReadinessFrame is the literal a receiving client sends once its channel is open.
var ReadinessFrame = Frame(domain.RoleBrowser)

// SignalMessage is one decoded inbound frame.
type SignalMessage struct {
	Type      FrameType
	SDP       domain.SdpMessage
	Candidate domain.IceCandidateMessage
}

// EndOfCandidates reports a candidate frame with an empty candidate line.
func (m SignalMessage) EndOfCandidates() bool {
	return m.Type == FrameCandidate && m.Candidate.Candidate == ""
}

type sdpFrame struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateFrame struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	Port          *uint16 `json:"port,omitempty"`
	Priority      *uint32 `json:"priority,omitempty"`
	Protocol      *string `json:"protocol,omitempty"`
	CandidateType *string `json:"candidateType,omitempty"`
}

// DecodeFrame parses one inbound frame. Every failure wraps ErrSignalingParse.
//
// Candidate frames whose type was overwritten by the candidate type
// ("host", "srflx", "relay", "prflx") are accepted as candidate frames.
func DecodeFrame(data []byte) (SignalMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return SignalMessage{}, fmt.Errorf("%w: %v", ErrSignalingParse, err)
	}

	switch FrameType(env.Type) {
	case FrameOffer, FrameAnswer:
		var p sdpFrame
		if err := json.Unmarshal(data, &p); err != nil {
			return SignalMessage{}, fmt.Errorf("%w: %v", ErrSignalingParse, err)
		}
		sdp, err := domain.NewSdpMessage(domain.SdpKind(p.Type), p.SDP)
		if err != nil {
			return SignalMessage{}, fmt.Errorf("%w: %s: %v", ErrSignalingParse, p.Type, err)
		}
		return SignalMessage{Type: FrameType(p.Type), SDP: sdp}, nil
	case FramePing, FramePong:
		return SignalMessage{Type: FrameType(env.Type)}, nil
	case FrameCandidate:
		return decodeCandidate(data, "")
	}

	if t, ok := domain.ParseCandidateType(env.Type); ok {
		return decodeCandidate(data, t)
	}
	return SignalMessage{}, fmt.Errorf("%w: unknown frame type %q", ErrSignalingParse, env.Type)
}

func decodeCandidate(data []byte, typ domain.CandidateType) (SignalMessage, error) {
	var p candidateFrame
	if err := json.Unmarshal(data, &p); err != nil {
		return SignalMessage{}, fmt.Errorf("%w: %v", ErrSignalingParse, err)
	}
	m := domain.IceCandidateMessage{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
		Port:          p.Port,
		Priority:      p.Priority,
		Protocol:      p.Protocol,
	}
	if typ == "" && p.CandidateType != nil {
		t, ok := domain.ParseCandidateType(*p.CandidateType)
		if !ok {
			return SignalMessage{}, fmt.Errorf("%w: candidate type %q", ErrSignalingParse, *p.CandidateType)
		}
		typ = t
	}
	if typ != "" {
		m.Type = &typ
	}
	return SignalMessage{Type: FrameCandidate, Candidate: m}, nil
}

func EncodeSDPFrame(m domain.SdpMessage) (Frame, error) {
	return json.Marshal(sdpFrame{Type: string(m.Kind()), SDP: m.Body()})
}

func EncodeCandidateFrame(m domain.IceCandidateMessage) (Frame, error) {
	f := candidateFrame{
		Type:          string(FrameCandidate),
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
		Port:          m.Port,
		Priority:      m.Priority,
		Protocol:      m.Protocol,
	}
	if m.Type != nil {
		t := string(*m.Type)
		f.CandidateType = &t
	}
	return json.Marshal(f)
}

// EncodeTypeFrame encodes a frame carrying only its type, such as pong.
func EncodeTypeFrame(t FrameType) (Frame, error) {
	return json.Marshal(struct {
		Type FrameType `json:"type"`
	}{t})
}
