package clocksync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sharetube/syncroom/pkg/protocol"
)

// HTTPProber probes the server health endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber probes baseURL + "/health". A nil client uses http.DefaultClient.
func NewHTTPProber(client *http.Client, baseURL string) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPProber{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + "/health",
	}
}

func (p *HTTPProber) Probe(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to probe %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected probe status: %s", resp.Status)
	}

	var health protocol.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return 0, fmt.Errorf("failed to decode probe response: %w", err)
	}

	return health.ServerTimestamp, nil
}
