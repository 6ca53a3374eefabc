package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/hubenschmidt/voice-concierge/internal/httpclient"
)

// HTTPProber treats any HTTP answer below 500 as reachable; only transport
// failures and server errors count as down.
type HTTPProber struct {
	url    string
	client *http.Client
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{url: url, client: httpclient.NewPooled(2, timeout)}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
