// Package opendota queries finalized match data from the OpenDota API.
package opendota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fortuna/aegis/internal/ingest/upstream"
)

const DefaultBaseURL = "https://api.opendota.com/api"

// ErrNotParsed is returned while the provider has no record of a match yet.
var ErrNotParsed = errors.New("match not available yet")

// Client fetches match documents, spacing requests by a minimum interval.
type Client struct {
	baseURL  string
	http     *upstream.Client
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// New creates a client. interval <= 0 disables spacing.
func New(baseURL string, http *upstream.Client, interval time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     http,
		interval: interval,
	}
}

// Match returns the raw match document for matchID.
func (c *Client) Match(ctx context.Context, matchID int64) (map[string]any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/matches/%d", c.baseURL, matchID)
	doc, err := upstream.GetJSON[map[string]any](ctx, c.http, endpoint)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) && se.Code == 404 {
			return nil, fmt.Errorf("match %d: %w", matchID, ErrNotParsed)
		}
		return nil, err
	}
	if msg, ok := (*doc)["error"].(string); ok && msg != "" {
		return nil, fmt.Errorf("match %d: %s: %w", matchID, msg, ErrNotParsed)
	}
	return *doc, nil
}

// LeagueMatchIDs lists the match ids the provider knows for a league,
// in the order returned.
func (c *Client) LeagueMatchIDs(ctx context.Context, leagueID int64) ([]int64, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/leagues/%d/matches", c.baseURL, leagueID)
	docs, err := upstream.GetJSON[[]map[string]any](ctx, c.http, endpoint)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(*docs))
	for _, doc := range *docs {
		n, ok := doc["match_id"].(json.Number)
		if !ok {
			continue
		}
		if id, err := n.Int64(); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.interval <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if d := time.Until(c.last.Add(c.interval)); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.last = time.Now()
	return nil
}
