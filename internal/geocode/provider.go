package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Location is a resolved geocode result.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Formatted string  `json:"formatted"`
}

// Provider resolves a free-form address to coordinates. A nil result with
// a nil error means the provider found nothing (negative result).
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*Location, error)
}

// transientError marks failures worth retrying (timeouts, 5xx, 429).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether an error is a retryable provider failure.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// HTTPProvider is a Nominatim-style JSON geocode endpoint.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Geocode(ctx context.Context, query string) (*Location, error) {
	u := fmt.Sprintf("%s?format=json&limit=1&q=%s", p.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dispatch-intel/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		// Timeouts and connection resets are transient.
		return nil, &transientError{fmt.Errorf("%s: %w", p.name, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{fmt.Errorf("%s: status %d", p.name, resp.StatusCode)}
	default:
		return nil, fmt.Errorf("%s: status %d", p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &transientError{fmt.Errorf("%s: read body: %w", p.name, err)}
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", p.name, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad lat %q", p.name, results[0].Lat)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad lon %q", p.name, results[0].Lon)
	}
	return &Location{Lat: lat, Lng: lng, Formatted: results[0].DisplayName}, nil
}
