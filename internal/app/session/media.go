package session

import (
	"errors"

	"github.com/dkeye/vrrtc/internal/app/sink"
	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
)

// pumpMedia forwards connection events to the loop until every subscription closes.
func (c *Controller) pumpMedia(gen uint64, ev core.MediaEvents) {
	cands, tracks, states := ev.Candidates, ev.Tracks, ev.States
	for cands != nil || tracks != nil || states != nil {
		var op func()
		select {
		case cand, ok := <-cands:
			if !ok {
				cands = nil
				continue
			}
			op = func() { c.onLocalCandidate(gen, cand) }
		case stream, ok := <-tracks:
			if !ok {
				tracks = nil
				continue
			}
			op = func() { c.onTrack(gen, stream) }
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			op = func() { c.onConnState(gen, st) }
		}
		if !c.post(op) {
			return
		}
	}
}

func (c *Controller) onLocalCandidate(gen uint64, cand domain.IceCandidateMessage) {
	// Pull mode is non-trickle: candidates already sit in the offer.
	if gen != c.gen || c.signal == nil {
		return
	}
	out, err := core.EncodeCandidateFrame(cand)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode local candidate")
		return
	}
	if err := c.signal.TrySend(out); err != nil {
		c.logger.Warn().Err(err).Msg("send local candidate")
	}
}

func (c *Controller) onTrack(gen uint64, stream core.RemoteStream) {
	if gen != c.gen {
		_ = stream.Stop()
		return
	}
	h, err := c.sinks.Bind(c.ctx, stream.Kind(), stream, c.cfg.Autoplay)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrPlayback):
		// bound, waiting for a manual resume
	default:
		c.logger.Error().Err(err).Str("track_id", stream.TrackID()).Msg("bind sink")
		if !errors.Is(err, sink.ErrAlreadyBound) {
			_ = stream.Stop()
		}
		return
	}
	c.logger.Info().Str("sink", string(h)).Str("kind", string(stream.Kind())).Str("codec", stream.MimeType()).Msg("track bound")
}

func (c *Controller) onConnState(gen uint64, st core.ConnState) {
	if gen != c.gen {
		return
	}
	switch st {
	case core.ConnFailed:
		c.fail(gen, core.ErrTransport)
	case core.ConnDisconnected:
		c.logger.Warn().Msg("media connection interrupted")
	default:
		c.logger.Debug().Str("conn", string(st)).Msg("media connection state")
	}
}
