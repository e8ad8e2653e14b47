package domain

import "errors"

var (
	ErrUnknownSdpKind = errors.New("unknown sdp kind")
	ErrEmptySdp       = errors.New("empty sdp body")
)

type SdpKind string

const (
	SdpOffer  SdpKind = "offer"
	SdpAnswer SdpKind = "answer"
)

// SdpMessage is an immutable session description.
type SdpMessage struct {
	kind SdpKind
	body string
}

func NewSdpMessage(kind SdpKind, body string) (SdpMessage, error) {
	if kind != SdpOffer && kind != SdpAnswer {
		return SdpMessage{}, ErrUnknownSdpKind
	}
	if body == "" {
		return SdpMessage{}, ErrEmptySdp
	}
	return SdpMessage{kind: kind, body: body}, nil
}

func (m SdpMessage) Kind() SdpKind { return m.kind }
func (m SdpMessage) Body() string  { return m.body }
func (m SdpMessage) IsZero() bool  { return m.kind == "" }
