package session

import (
	"context"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
)

// pull runs the one-shot egress exchange off the loop: local offer with all
// candidates gathered, POST, then the answer as remote description.
// created reports whether the egress side holds a session resource.
func (c *Controller) pull(ctx context.Context, gen uint64, media core.MediaConnection, eg core.EgressTransport) {
	var created bool
	err := func() error {
		offer, err := media.CreateOffer(ctx)
		if err != nil {
			return err
		}
		answer, err := eg.Exchange(ctx, offer)
		if err != nil {
			return err
		}
		created = true
		// Stop may have closed the connection while the exchange was in flight.
		if err := ctx.Err(); err != nil {
			return err
		}
		return media.SetRemoteDescription(ctx, answer)
	}()
	c.post(func() { c.onPulled(gen, eg, created, err) })
}

func (c *Controller) onPulled(gen uint64, eg core.EgressTransport, created bool, err error) {
	if gen != c.gen {
		// The session resource may have been created after Stop already
		// terminated the transport.
		if created {
			go terminate(eg, c.logger)
		}
		return
	}
	if err != nil {
		c.fail(gen, negotiationError(err))
		return
	}
	c.remoteSet = true
	if !c.flushCandidates(gen) {
		return
	}
	c.logger.Info().Msg("egress session established")
	c.setState(domain.StateConnected)
}
