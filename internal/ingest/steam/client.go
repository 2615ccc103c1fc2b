// Package steam polls the live league games endpoint of the Steam Web API.
package steam

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fortuna/aegis/internal/ingest/upstream"
)

const DefaultBaseURL = "https://api.steampowered.com"

// Client fetches in-progress league games.
type Client struct {
	baseURL string
	apiKey  string
	http    *upstream.Client
}

// New creates a client. An empty baseURL selects the public API.
func New(baseURL, apiKey string, http *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    http,
	}
}

type liveLeagueGamesResponse struct {
	Result struct {
		Games  []map[string]any `json:"games"`
		Status int              `json:"status"`
	} `json:"result"`
}

// LiveLeagueGames returns the raw game payloads currently live in a league.
// An empty list is a valid answer.
func (c *Client) LiveLeagueGames(ctx context.Context, leagueID int64) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("league_id", strconv.FormatInt(leagueID, 10))
	endpoint := fmt.Sprintf("%s/IDOTA2Match_570/GetLiveLeagueGames/v1/?%s", c.baseURL, q.Encode())

	resp, err := upstream.GetJSON[liveLeagueGamesResponse](ctx, c.http, endpoint)
	if err != nil {
		return nil, err
	}
	if s := resp.Result.Status; s != 0 && s != 200 {
		return nil, fmt.Errorf("league %d: result status %d", leagueID, s)
	}
	return resp.Result.Games, nil
}
