// Package news collects market news from external sources, filters it for
// relevance, and stores deduplicated articles for sentiment analysis.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sentiment-trading-bot/config"
)

// Article is one item from a source before storage.
type Article struct {
	Title         string
	Body          string
	PublishedDate time.Time
	Source        string
	URL           string
}

// Source fetches recent articles for a query.
type Source interface {
	Fetch(ctx context.Context, query string, from time.Time, limit int) ([]Article, error)
	Name() string
}

// HTTPSource is a NewsAPI-style client. Responses with missing optional
// fields are tolerated; items missing both title and body are dropped.
type HTTPSource struct {
	config     config.NewsConfig
	httpClient *http.Client
}

// NewHTTPSource creates the default news client.
func NewHTTPSource(cfg config.NewsConfig) *HTTPSource {
	return &HTTPSource{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *HTTPSource) Name() string { return "newsapi" }

type apiResponse struct {
	Status       string `json:"status"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fetch retrieves articles matching the query published on or after from.
func (s *HTTPSource) Fetch(ctx context.Context, query string, from time.Time, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = s.config.MaxArticles
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("from", from.UTC().Format("2006-01-02"))
	params.Set("language", s.config.Language)
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.config.BaseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news source returned %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("news source error %s: %s", apiResp.Code, apiResp.Message)
	}

	articles := make([]Article, 0, len(apiResp.Articles))
	for _, item := range apiResp.Articles {
		text := item.Content
		if text == "" {
			text = item.Description
		}
		if item.Title == "" && text == "" {
			continue
		}

		published := time.Now().UTC()
		if item.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
				published = ts.UTC()
			}
		}

		source := s.Name()
		if item.Source.Name != "" {
			source = item.Source.Name
		}

		articles = append(articles, Article{
			Title:         item.Title,
			Body:          text,
			PublishedDate: published,
			Source:        source,
			URL:           item.URL,
		})
	}
	return articles, nil
}
