package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPVIXSource fetches the volatility index from a quote endpoint returning
// `{"symbol": "...", "price": <number>}`.
type HTTPVIXSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPVIXSource creates a quote client.
func NewHTTPVIXSource(url string) *HTTPVIXSource {
	return &HTTPVIXSource{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *HTTPVIXSource) CurrentVIX(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vix fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("vix source returned %d", resp.StatusCode)
	}

	var quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return 0, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	if quote.Price <= 0 {
		return 0, fmt.Errorf("vix source returned non-positive price %f", quote.Price)
	}
	return quote.Price, nil
}

// StaticVIX is a fixed-value source for tests and backtests.
type StaticVIX float64

func (v StaticVIX) CurrentVIX(context.Context) (float64, error) {
	return float64(v), nil
}
