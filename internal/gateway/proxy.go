package gateway

import (
	"context"
	"net/http"
)

// forwardedHeaders are the request headers the backends read. Everything
// else stays at the edge.
var forwardedHeaders = []string{
	"Content-Type",
	"X-User-ID",
	"X-Request-ID",
	"Idempotency-Key",
	"Stripe-Signature",
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest replays r against the backend at path, keeping the query
// string and body untouched so webhook signatures still verify.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	return p.client.Do(req)
}
