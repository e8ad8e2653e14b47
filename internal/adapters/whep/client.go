// Package whep implements the pull-mode description exchange against a
// WHEP media-egress endpoint.
package whep

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeSDP = "application/sdp"
	maxAnswerSize  = 1 << 20
)

type Options struct {
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// Client is one WHEP session: a single offer/answer exchange and its teardown.
type Client struct {
	endpoint string
	token    string
	http     *http.Client

	mu       sync.Mutex
	location string
}

// NewFactory binds a fresh Client to every address it is given.
func NewFactory(opts Options) core.EgressFactory {
	return func(address string) core.EgressTransport {
		return New(address, opts)
	}
}

func New(endpoint string, opts Options) *Client {
	hc := opts.Client
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: endpoint, token: opts.Token, http: hc}
}

// Exchange posts offer and returns the endpoint's answer. The session
// resource announced in Location is remembered for Terminate.
func (c *Client) Exchange(ctx context.Context, offer domain.SdpMessage) (domain.SdpMessage, error) {
	if offer.Kind() != domain.SdpOffer {
		return domain.SdpMessage{}, fmt.Errorf("%w: whep exchange needs an offer, got %q", core.ErrNegotiation, offer.Kind())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(offer.Body()))
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentTypeSDP)
	req.Header.Set("Accept", contentTypeSDP)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: whep post: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerSize))
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: whep read answer: %v", core.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return domain.SdpMessage{}, fmt.Errorf("%w: whep post: unexpected status %d", core.ErrTransport, resp.StatusCode)
	}

	answer, err := domain.NewSdpMessage(domain.SdpAnswer, string(body))
	if err != nil {
		return domain.SdpMessage{}, fmt.Errorf("%w: whep answer: %v", core.ErrSignalingParse, err)
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		resolved, err := c.resolve(loc)
		if err != nil {
			log.Warn().Err(err).Str("module", "whep").Str("location", loc).Msg("bad session location")
		} else {
			c.mu.Lock()
			c.location = resolved
			c.mu.Unlock()
		}
	}
	log.Info().Str("module", "whep").Str("endpoint", c.endpoint).Int("status", resp.StatusCode).Msg("answer received")
	return answer, nil
}

// Terminate deletes the session resource created by Exchange.
func (c *Client) Terminate(ctx context.Context) error {
	c.mu.Lock()
	loc := c.location
	c.location = ""
	c.mu.Unlock()
	if loc == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, loc, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: whep delete: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted, http.StatusNotFound:
		log.Info().Str("module", "whep").Str("location", loc).Int("status", resp.StatusCode).Msg("session terminated")
		return nil
	}
	return fmt.Errorf("%w: whep delete: unexpected status %d", core.ErrTransport, resp.StatusCode)
}

// Location is the session resource of the last successful exchange.
func (c *Client) Location() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.location
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) resolve(loc string) (string, error) {
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
