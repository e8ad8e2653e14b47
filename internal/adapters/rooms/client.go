// Package rooms lists the rooms announced next to a signaling relay.
package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
)

// DefaultPath is the listing resource of a media-egress API.
const DefaultPath = "streams/"

type Client struct {
	url  string
	http *http.Client
}

// New creates a client for the listing at path under the API rooted at base,
// e.g. "http://host:7777/api" and "streams/". An empty path means DefaultPath.
func New(base, path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if path == "" {
		path = DefaultPath
	}
	return &Client{
		url:  strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) List(ctx context.Context) ([]domain.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list rooms: unexpected status %d", core.ErrTransport, resp.StatusCode)
	}

	var out []domain.Room
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: rooms: %v", core.ErrSignalingParse, err)
	}
	return out, nil
}
