package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nowtrending/nowtrending/internal/trends"
)

// SerpAPISource queries the SerpApi "trending now" engine. Best quality
// data, but only available with an API key.
type SerpAPISource struct {
	client  *Client
	baseURL string
	apiKey  string
	geo     string
}

// NewSerpAPISource creates a SerpApi source; an empty key disables it
func NewSerpAPISource(client *Client, baseURL, apiKey, geo string) *SerpAPISource {
	return &SerpAPISource{client: client, baseURL: baseURL, apiKey: apiKey, geo: geo}
}

func (s *SerpAPISource) Name() string { return "serpApi" }

type serpResponse struct {
	Error            string `json:"error"`
	TrendingSearches []struct {
		Query              string            `json:"query"`
		SearchVolume       float64           `json:"search_volume"`
		IncreasePercentage float64           `json:"increase_percentage"`
		Categories         []trends.Category `json:"categories"`
		TrendBreakdown     []json.RawMessage `json:"trend_breakdown"`
		Active             *bool             `json:"active"`
	} `json:"trending_searches"`
}

func (s *SerpAPISource) Fetch(ctx context.Context) ([]trends.Observation, error) {
	if s.apiKey == "" {
		return nil, ErrSourceDisabled
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("serpapi url: %w", err)
	}
	q := u.Query()
	q.Set("engine", "google_trends_trending_now")
	q.Set("geo", s.geo)
	q.Set("hl", "en")
	q.Set("api_key", s.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	body, err := s.client.fetch(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}

	var resp serpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("serpapi: decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", resp.Error)
	}

	out := make([]trends.Observation, 0, len(resp.TrendingSearches))
	for _, item := range resp.TrendingSearches {
		query := strings.TrimSpace(item.Query)
		if query == "" {
			continue
		}
		obs := trends.Observation{
			Query:              query,
			SearchVolume:       int64(max(item.SearchVolume, 0)),
			IncreasePercentage: max(item.IncreasePercentage, 0),
			Categories:         item.Categories,
			TrendBreakdown:     stringsOnly(item.TrendBreakdown),
			Active:             item.Active == nil || *item.Active,
		}
		if obs.Categories == nil {
			obs.Categories = []trends.Category{}
		}
		out = append(out, obs)
	}
	return out, nil
}

// stringsOnly keeps the JSON string elements and drops anything else
func stringsOnly(items []json.RawMessage) []string {
	out := make([]string, 0, len(items))
	for _, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}
