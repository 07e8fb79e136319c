// Package backend is a client for the penalty-analysis HTTP API that owns
// penalties, players and their extracted posture sequences.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/posture"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// ErrInvalidID is returned for ids that cannot form a single path segment.
var ErrInvalidID = errors.New("backend: invalid id")

// Config describes the backend client configuration.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client wraps the penalty REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	metrics *metrics.Metrics
}

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("backend: base url %q must be absolute", base)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Client{baseURL: baseURL, http: client, metrics: m}, nil
}

// Penalty fetches the details of one penalty.
func (c *Client) Penalty(ctx context.Context, id string) (Penalty, error) {
	var p Penalty
	err := c.getJSON(ctx, &p, nil, "penalties", id)
	return p, err
}

// Postures fetches the posture sequence extracted for a penalty.
func (c *Client) Postures(ctx context.Context, id string) (*posture.Sequence, error) {
	var frames []posture.Frame
	if err := c.getJSON(ctx, &frames, nil, "penalties", id, "postures"); err != nil {
		return nil, err
	}
	return posture.NewSequence(frames), nil
}

// VideoURL resolves the playable URL of a penalty video.
func (c *Client) VideoURL(ctx context.Context, id string) (string, error) {
	var payload struct {
		VideoURL string `json:"video_url"`
	}
	if err := c.getJSON(ctx, &payload, nil, "penalties", id, "video"); err != nil {
		return "", err
	}
	if payload.VideoURL == "" {
		return "", errors.New("backend: response has no video_url")
	}
	return payload.VideoURL, nil
}

// ListPenalties searches penalties. Empty filter fields are omitted.
func (c *Client) ListPenalties(ctx context.Context, f Filter) ([]Penalty, error) {
	var out []Penalty
	err := c.getJSON(ctx, &out, f.values(), "penalties")
	return out, err
}

// PenaltyFilters returns the options offered by the penalty search.
func (c *Client) PenaltyFilters(ctx context.Context) (FilterOptions, error) {
	var out FilterOptions
	err := c.getJSON(ctx, &out, nil, "penalties", "filters")
	return out, err
}

// PlayerPenalties lists the penalties taken by a player.
func (c *Client) PlayerPenalties(ctx context.Context, playerID string) ([]Penalty, error) {
	var out []Penalty
	err := c.getJSON(ctx, &out, nil, "players", playerID, "penalties")
	return out, err
}

// PlayerStats lists every player with penalty totals and effectiveness.
func (c *Client) PlayerStats(ctx context.Context) ([]PlayerStats, error) {
	var out []PlayerStats
	err := c.getJSON(ctx, &out, nil, "players", "stats")
	return out, err
}

// Player fetches the details of one player.
func (c *Client) Player(ctx context.Context, playerID string) (Player, error) {
	var p Player
	err := c.getJSON(ctx, &p, nil, "players", playerID)
	return p, err
}

// pathSegments escapes ids so each stays exactly one path segment.
func pathSegments(segments []string) ([]string, error) {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		if strings.TrimSpace(s) == "" || s == "." || s == ".." || strings.Contains(s, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		escaped[i] = url.PathEscape(s)
	}
	return escaped, nil
}

func (c *Client) getJSON(ctx context.Context, out any, query url.Values, segments ...string) error {
	escaped, err := pathSegments(segments)
	if err != nil {
		return err
	}
	endpoint := c.baseURL.JoinPath(escaped...)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.metrics.BackendRequests.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.BackendErrors.Add(1)
		return fmt.Errorf("backend: GET %s: %w", endpoint.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.BackendErrors.Add(1)
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.BackendErrors.Add(1)
		return fmt.Errorf("backend: decode %s: %w", endpoint.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
