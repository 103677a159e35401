package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/locshare-core/internal/geo"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps the body read from the backend.
	maxResponseSize = 4 << 20

	// DefaultLimit is the result cap of a nearby query.
	DefaultLimit = 100
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client calls the profile service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client. A zero RequestsPerSecond disables rate limiting.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// SetPresence sets the user's remote online flag. The call is idempotent
// and touches no other field.
func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	body := map[string]bool{"isOnline": online}
	return c.do(ctx, "set presence", http.MethodPut, "/profile/"+url.PathEscape(userID), nil, body, nil)
}

// locationUpdate is the reporter's upload body.
type locationUpdate struct {
	Location          wireLocation `json:"location"`
	LocationUpdatedAt time.Time    `json:"locationUpdatedAt"`
}

type wireLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// UpdateLocation uploads the device's coordinate for userID.
func (c *Client) UpdateLocation(ctx context.Context, userID string, coord geo.Coordinate) error {
	at := coord.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	body := locationUpdate{
		Location:          wireLocation{Lat: coord.Latitude, Lon: coord.Longitude},
		LocationUpdatedAt: at.UTC(),
	}
	return c.do(ctx, "update location", http.MethodPut, "/profile/"+url.PathEscape(userID), nil, body, nil)
}

// NearbyQuery selects online profiles around an origin.
type NearbyQuery struct {
	Origin geo.Coordinate

	// MaxDistance is the angular radius in radians.
	MaxDistance float64

	// ExcludeID is the caller's own id.
	ExcludeID string

	Limit int
}

// encode renders the backend query document.
func (q NearbyQuery) encode() (string, error) {
	doc := map[string]any{
		"isOnline": true,
		"location": map[string]any{
			"$nearSphere":  []float64{q.Origin.Longitude, q.Origin.Latitude},
			"$maxDistance": q.MaxDistance,
		},
	}
	if q.ExcludeID != "" {
		doc["id"] = map[string]string{"$ne": q.ExcludeID}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NearbyProfiles runs a proximity query. Profiles come back as the backend
// sent them; callers must check Profile.Coordinate before use.
func (c *Client) NearbyProfiles(ctx context.Context, q NearbyQuery) ([]Profile, error) {
	query, err := q.encode()
	if err != nil {
		return nil, fmt.Errorf("encoding nearby query: %w", err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))

	var profiles []Profile
	if err := c.do(ctx, "nearby profiles", http.MethodGet, "/profile", params, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // Draining for reuse
		return classifyStatus(op, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: decoding response: %w", op, ErrTransient, err)
	}
	return nil
}
