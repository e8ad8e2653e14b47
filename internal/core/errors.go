package core

import "errors"

var (
	// ErrTransport reports a signaling channel that is closed or unreachable.
	ErrTransport = errors.New("transport error")
	// ErrSignalingParse reports a malformed inbound frame or description.
	ErrSignalingParse = errors.New("signaling parse error")
	// ErrNegotiation reports a failed description or candidate application.
	ErrNegotiation = errors.New("negotiation error")
	// ErrSessionBusy rejects a start while a negotiation is outstanding.
	ErrSessionBusy = errors.New("session busy")
	// ErrPlayback reports a rejected autoplay or manual resume.
	ErrPlayback = errors.New("playback error")
	// ErrNegotiationInProgress rejects a second offer/answer creation on one connection.
	ErrNegotiationInProgress = errors.New("negotiation in progress")
	ErrUnknownSink           = errors.New("unknown sink")
	ErrClosed                = errors.New("closed")
)
