package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
)

func (c *Controller) dialPush(ctx context.Context, gen uint64, address string) {
	tr, err := c.deps.Signal(ctx, address)
	c.post(func() { c.onDialed(gen, tr, err) })
}

func (c *Controller) onDialed(gen uint64, tr core.SignalTransport, err error) {
	if gen != c.gen {
		if tr != nil {
			tr.Close()
		}
		return
	}
	if err != nil {
		if !errors.Is(err, core.ErrTransport) {
			err = fmt.Errorf("%w: %v", core.ErrTransport, err)
		}
		c.fail(gen, err)
		return
	}
	c.signal = tr
	if err := tr.TrySend(core.ReadinessFrame); err != nil {
		c.fail(gen, fmt.Errorf("%w: readiness: %v", core.ErrTransport, err))
		return
	}
	c.logger.Debug().Msg("signal channel ready")
	go c.pumpSignal(gen, tr)
}

func (c *Controller) pumpSignal(gen uint64, tr core.SignalTransport) {
	for f := range tr.Inbound() {
		if !c.post(func() { c.onFrame(gen, f) }) {
			return
		}
	}
	c.post(func() { c.onSignalClosed(gen, tr.Err()) })
}

func (c *Controller) onSignalClosed(gen uint64, cause error) {
	if gen != c.gen {
		return
	}
	if cause == nil {
		cause = errors.New("closed by peer")
	}
	if !errors.Is(cause, core.ErrTransport) {
		cause = fmt.Errorf("%w: %v", core.ErrTransport, cause)
	}
	c.fail(gen, cause)
}

func (c *Controller) onFrame(gen uint64, f core.Frame) {
	if gen != c.gen {
		return
	}
	msg, err := core.DecodeFrame(f)
	if err != nil {
		c.logger.Warn().Err(err).Msg("frame ignored")
		return
	}
	switch msg.Type {
	case core.FrameOffer:
		c.onOffer(gen, msg.SDP)
	case core.FrameCandidate:
		c.onRemoteCandidate(gen, msg.Candidate)
	case core.FramePing:
		if out, err := core.EncodeTypeFrame(core.FramePong); err == nil {
			_ = c.signal.TrySend(out)
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("frame ignored")
	}
}

// onOffer accepts only the first offer of a negotiation; anything later is
// out of order and dropped.
func (c *Controller) onOffer(gen uint64, offer domain.SdpMessage) {
	if c.State() != domain.StateNegotiating || c.remoteSet || c.offering {
		c.logger.Warn().Str("state", c.State().String()).Msg("unexpected offer ignored")
		return
	}
	c.offering = true
	media, ctx := c.media, c.ctx
	go func() {
		err := media.SetRemoteDescription(ctx, offer)
		c.post(func() { c.onRemoteApplied(gen, err) })
	}()
}

func (c *Controller) onRemoteApplied(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.offering = false
		if errors.Is(err, core.ErrSignalingParse) {
			c.logger.Warn().Err(err).Msg("malformed offer ignored")
			return
		}
		c.fail(gen, negotiationError(err))
		return
	}
	c.remoteSet = true
	if !c.flushCandidates(gen) {
		return
	}
	media, ctx := c.media, c.ctx
	go func() {
		answer, err := media.CreateAnswer(ctx)
		c.post(func() { c.onAnswer(gen, answer, err) })
	}()
}

func (c *Controller) onAnswer(gen uint64, answer domain.SdpMessage, err error) {
	if gen != c.gen {
		return
	}
	c.offering = false
	if err != nil {
		c.fail(gen, negotiationError(err))
		return
	}
	out, err := core.EncodeSDPFrame(answer)
	if err != nil {
		c.fail(gen, negotiationError(err))
		return
	}
	if err := c.signal.TrySend(out); err != nil {
		c.fail(gen, fmt.Errorf("%w: send answer: %v", core.ErrTransport, err))
		return
	}
	c.logger.Info().Msg("answer sent")
	c.setState(domain.StateConnected)
}

// onRemoteCandidate queues candidates until a remote description exists.
func (c *Controller) onRemoteCandidate(gen uint64, cand domain.IceCandidateMessage) {
	if !c.remoteSet {
		c.queued = append(c.queued, cand)
		c.logger.Debug().Int("queued", len(c.queued)).Msg("candidate queued")
		return
	}
	c.addCandidate(gen, cand)
}

// flushCandidates applies queued candidates in arrival order.
func (c *Controller) flushCandidates(gen uint64) bool {
	queued := c.queued
	c.queued = nil
	for _, cand := range queued {
		if !c.addCandidate(gen, cand) {
			return false
		}
	}
	if len(queued) > 0 {
		c.logger.Debug().Int("count", len(queued)).Msg("queued candidates applied")
	}
	return true
}

func (c *Controller) addCandidate(gen uint64, cand domain.IceCandidateMessage) bool {
	if err := c.media.AddICECandidate(cand); err != nil {
		c.fail(gen, negotiationError(err))
		return false
	}
	return true
}
