package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Candidate is one ranked product image suggestion.
type Candidate struct {
	ImageURL string `json:"imageUrl"`
	Source   string `json:"source,omitempty"`
	Rank     int    `json:"rank,omitempty"`
}

// Provider searches external sources for product image candidates.
type Provider interface {
	SearchCandidates(ctx context.Context, productName string) ([]Candidate, error)
}

// HTTPProvider queries an image-search endpoint that returns ranked
// candidates as JSON.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider constructs HTTPProvider.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// SearchCandidates queries the provider for the product name.
func (p *HTTPProvider) SearchCandidates(ctx context.Context, productName string) ([]Candidate, error) {
	endpoint := fmt.Sprintf("%s?q=%s", p.baseURL, url.QueryEscape(productName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: build search request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrich: search returned %d", resp.StatusCode)
	}
	var body struct {
		Candidates []Candidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("enrich: decode search response: %w", err)
	}
	return body.Candidates, nil
}
