// Package scraper collects trending topics from external sources.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nowtrending/nowtrending/internal/trends"
)

var (
	// ErrSourceDisabled is returned by sources that lack credentials
	ErrSourceDisabled = errors.New("scraper: source not configured")

	// ErrNoTopics is returned when every source came back empty
	ErrNoTopics = errors.New("no topics scraped from any source")
)

// Source fetches one batch of trending topics
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]trends.Observation, error)
}

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

// Client is the HTTP client shared by the sources. Requests are paced by a
// rate limiter and carry a desktop browser User-Agent.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. rps <= 0 disables pacing.
func NewClient(timeout time.Duration, rps float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Do waits for the limiter and sends req
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	}
	return c.http.Do(req)
}

// fetch sends req and returns the body of a 200 response
func (c *Client) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}
