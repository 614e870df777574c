// Package gamma provides an HTTP client for the Polymarket Gamma markets
// catalog, the external directory service the Discovery Service polls.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Gamma API base URL.
	DefaultBaseURL = "https://gamma-api.polymarket.com"

	defaultRateLimit = 10.0
	defaultBurst     = 5
)

// Event is one entry in the Gamma /events catalog response.
type Event struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Slug    string   `json:"slug"`
	NegRisk bool     `json:"neg_risk"`
	Markets []Market `json:"markets"`
}

// Market is one sub-market of an Event.
type Market struct {
	ConditionID     string `json:"condition_id"`
	Question        string `json:"question"`
	ClobTokenIDsRaw string `json:"clob_token_ids"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
}

// ClobTokenIDs parses the JSON-encoded array of CLOB token ids carried in
// ClobTokenIDsRaw. A malformed payload yields an empty slice rather than
// an error: per the Discovery Service contract, a sub-market with
// unparseable token ids contributes nothing to its group.
func (m Market) ClobTokenIDs() []string {
	if m.ClobTokenIDsRaw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDsRaw), &ids); err != nil {
		return nil
	}
	return ids
}

// EventsFilter parameterizes ListEvents.
type EventsFilter struct {
	Tags   []string
	Active *bool
	Closed *bool
	Limit  int
}

// Client is a rate-limited Gamma API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default Gamma base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the default outbound request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New constructs a Gamma API client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListEvents fetches events from the Gamma API per the Discovery catalog
// contract: GET /events?tag=...&closed=<bool>&active=<bool>&limit=<int>.
func (c *Client) ListEvents(ctx context.Context, filter EventsFilter) ([]Event, error) {
	params := url.Values{}
	for _, tag := range filter.Tags {
		params.Add("tag", tag)
	}
	if filter.Active != nil {
		params.Set("active", strconv.FormatBool(*filter.Active))
	}
	if filter.Closed != nil {
		params.Set("closed", strconv.FormatBool(*filter.Closed))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + "/events"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gamma api error %d: %s", resp.StatusCode, string(body))
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return events, nil
}
