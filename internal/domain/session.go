// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

var ErrUnknownMode = errors.New("unknown session mode")

type SessionID string

// Mode selects the signaling path of a session.
type Mode string

const (
	// ModePush waits for an offer pushed over a persistent message channel.
	ModePush Mode = "push"
	// ModePull pulls media from an egress endpoint with a single HTTP exchange.
	ModePull Mode = "pull"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePush:
		return ModePush, nil
	case ModePull:
		return ModePull, nil
	}
	return "", ErrUnknownMode
}

type State string

const (
	StateUninit       State = "uninit"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

func (s State) String() string { return string(s) }

// Startable reports whether a fresh negotiation may begin from s.
func (s State) Startable() bool {
	return s == StateUninit || s == StateDisconnected
}

// TransceiverConfig lists the media lines configured before a pull negotiation.
type TransceiverConfig struct {
	Kinds []TrackKind `json:"kinds"`
}

// DefaultTransceivers is a receive-only video and audio line.
func DefaultTransceivers() TransceiverConfig {
	return TransceiverConfig{Kinds: []TrackKind{TrackVideo, TrackAudio}}
}

// Session describes one negotiation lifecycle of a controller.
type Session struct {
	ID            SessionID         `json:"id"`
	State         State             `json:"state"`
	Mode          Mode              `json:"mode"`
	RemoteAddress string            `json:"remote_address"`
	Transceivers  TransceiverConfig `json:"transceivers"`
}
