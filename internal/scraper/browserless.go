package scraper

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nowtrending/nowtrending/internal/trends"
)

// pageScript runs inside the remote browser and returns {"data": [...]}
//
//go:embed browserless.js
var pageScript string

// BrowserlessSource renders the Google Trends page in a hosted headless
// browser and reads the table. Needs a Browserless token.
type BrowserlessSource struct {
	client   *Client
	endpoint string
	token    string
	geo      string
}

// NewBrowserlessSource creates a Browserless source; an empty token disables it
func NewBrowserlessSource(client *Client, endpoint, token, geo string) *BrowserlessSource {
	return &BrowserlessSource{client: client, endpoint: endpoint, token: token, geo: geo}
}

func (s *BrowserlessSource) Name() string { return "browser" }

type functionRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *BrowserlessSource) Fetch(ctx context.Context) ([]trends.Observation, error) {
	if s.token == "" {
		return nil, ErrSourceDisabled
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("browserless url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.token)
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(functionRequest{
		Code:    pageScript,
		Context: map[string]any{"geo": s.geo},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := s.client.fetch(req)
	if err != nil {
		return nil, fmt.Errorf("browserless: %w", err)
	}

	// the function returns the same layouts the ingest endpoint accepts
	parsed, err := trends.ParsePayload(body)
	if err != nil {
		if errors.Is(err, trends.ErrEmptyBatch) {
			return nil, nil
		}
		return nil, fmt.Errorf("browserless: %w", err)
	}
	return parsed.Observations, nil
}
