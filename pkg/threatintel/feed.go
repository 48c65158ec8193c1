package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPFeed fetches a JSON indicator document from a configured URL. No
// third-party HTTP client appears anywhere in the example pack beyond the
// AWS SDK's own transport, so this uses net/http directly.
type HTTPFeed struct {
	URL    string
	client *http.Client
}

// NewHTTPFeed builds a feed fetcher against url with a bounded timeout.
func NewHTTPFeed(url string) *HTTPFeed {
	return &HTTPFeed{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type feedDocument struct {
	SHA256  map[string]string `json:"sha256"`
	MD5     map[string]string `json:"md5"`
	Domains map[string]string `json:"domains"`
	IPs     map[string]string `json:"ips"`
}

// Fetch implements Fetcher.
func (f *HTTPFeed) Fetch(ctx context.Context) (*Indicators, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("threatintel: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("threatintel: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("threatintel: feed returned status %d", resp.StatusCode)
	}

	var doc feedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("threatintel: decode feed: %w", err)
	}

	ind := emptyIndicators()
	for k, v := range doc.SHA256 {
		ind.SHA256[k] = v
	}
	for k, v := range doc.MD5 {
		ind.MD5[k] = v
	}
	for k, v := range doc.Domains {
		ind.Domains[k] = v
	}
	for k, v := range doc.IPs {
		ind.IPs[k] = v
	}
	return ind, nil
}
