package place

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zombor/shiori/internal/apiclient"
)

// ErrNotFound is returned when the lookup service has no place for a position
var ErrNotFound = errors.New("no place found")

// Lookup resolves a position to a place name through an external service
type Lookup interface {
	Lookup(ctx context.Context, lat, lon float64) (string, error)
}

// LookupConfig configures the HTTP place lookup client
type LookupConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// DefaultLookupConfig returns the defaults used for unset fields
func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// HTTPLookup queries the landmark endpoint of the metadata service
type HTTPLookup struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// landmarkResponse mirrors the landmark endpoint's response body
type landmarkResponse struct {
	ResultSet struct {
		Result []landmarkResult `json:"Result"`
	} `json:"ResultSet"`
}

type landmarkResult struct {
	Name     string `json:"Name"`
	Category string `json:"Category"`
	Combined string `json:"Combined"`
	Label    string `json:"Label"`
}

// NewHTTPLookup creates a new HTTPLookup
func NewHTTPLookup(config LookupConfig) (*HTTPLookup, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("landmark service base url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultLookupConfig().Timeout
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultLookupConfig().RequestsPerSecond
	}

	return &HTTPLookup{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}, nil
}

// Lookup returns the name of the first ranked result for the position
func (h *HTTPLookup) Lookup(ctx context.Context, lat, lon float64) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	u := fmt.Sprintf("%s/landmarkData?%s", h.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling landmark API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiclient.FromResponse(resp)
	}

	var body landmarkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(body.ResultSet.Result) == 0 {
		return "", ErrNotFound
	}

	name := strings.TrimSpace(body.ResultSet.Result[0].Name)
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}
