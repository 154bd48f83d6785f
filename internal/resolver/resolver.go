// Package resolver turns a track descriptor into a playable source via
// the backend "play-now" endpoint.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/engine"
	"github.com/QuocHiep31003/rhythmverse-social-sub001/internal/proto"
)

// Resolver resolves a track to a playable source. Failure aborts a
// takeover without promoting the caller.
type Resolver interface {
	Resolve(ctx context.Context, t proto.Track) (engine.Source, error)
}

// Func adapts a plain function to the Resolver interface.
type Func func(ctx context.Context, t proto.Track) (engine.Source, error)

func (f Func) Resolve(ctx context.Context, t proto.Track) (engine.Source, error) {
	return f(ctx, t)
}

const defaultTimeout = 5 * time.Second

// Client resolves tracks against the backend REST API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// playNowResponse is the shape of POST /songs/{id}/play-now.
type playNowResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Song    struct {
		StreamURL string `json:"streamUrl"`
	} `json:"song"`
}

func (c *Client) Resolve(ctx context.Context, t proto.Track) (engine.Source, error) {
	if t.ID == "" {
		return engine.Source{}, fmt.Errorf("resolver: track has no id")
	}

	endpoint := c.base + "/songs/" + url.PathEscape(t.ID) + "/play-now"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return engine.Source{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Source{}, fmt.Errorf("resolver: play-now %s: %w", t.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Source{}, fmt.Errorf("resolver: play-now %s: status %d", t.ID, resp.StatusCode)
	}

	var body playNowResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return engine.Source{}, fmt.Errorf("resolver: decode play-now response: %w", err)
	}
	if body.Success != nil && !*body.Success {
		msg := body.Error
		if msg == "" {
			msg = "backend refused playback"
		}
		return engine.Source{}, fmt.Errorf("resolver: play-now %s: %s", t.ID, msg)
	}
	if body.Song.StreamURL == "" {
		return engine.Source{}, fmt.Errorf("resolver: play-now %s: no stream url", t.ID)
	}
	return engine.Source{StreamURL: body.Song.StreamURL}, nil
}
