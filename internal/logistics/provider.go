package logistics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TrackingEvent is one checkpoint reported by a carrier.
type TrackingEvent struct {
	Time     time.Time `json:"time"`
	Title    string    `json:"title"`
	Detail   string    `json:"detail"`
	Location string    `json:"location"`
}

type Provider interface {
	FetchTrackingEvents(ctx context.Context, carrier, trackingNo string) ([]TrackingEvent, error)
}

// HTTPProvider talks to a JSON tracking aggregator:
// GET {base}/tracking?carrier=..&number=.. answering {"events": [...]}.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

type trackingResponse struct {
	Events []TrackingEvent `json:"events"`
}

func (p *HTTPProvider) FetchTrackingEvents(ctx context.Context, carrier, trackingNo string) ([]TrackingEvent, error) {
	q := url.Values{}
	q.Set("carrier", carrier)
	q.Set("number", trackingNo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tracking?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracking request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tracking provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out trackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tracking response: %w", err)
	}
	return out.Events, nil
}
