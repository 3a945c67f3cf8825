package scraper

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nowtrending/nowtrending/internal/trends"
)

// RSSSource reads the public Google Trends RSS feed. It needs no
// credentials, but carries no categories or growth figures.
type RSSSource struct {
	client  *Client
	baseURL string
	geo     string
}

// NewRSSSource creates a feed reader for the given region
func NewRSSSource(client *Client, baseURL, geo string) *RSSSource {
	return &RSSSource{client: client, baseURL: baseURL, geo: geo}
}

func (s *RSSSource) Name() string { return "rss" }

// the ht: elements match on local name, whatever namespace the feed declares
type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Traffic string `xml:"approx_traffic"`
	News    []struct {
		Title string `xml:"news_item_title"`
	} `xml:"news_item"`
}

func (s *RSSSource) Fetch(ctx context.Context) ([]trends.Observation, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("rss url: %w", err)
	}
	q := u.Query()
	q.Set("geo", s.geo)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	body, err := s.client.fetch(req)
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	return parseRSS(body)
}

func parseRSS(body []byte) ([]trends.Observation, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var feed rssFeed
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("rss: decode feed: %w", err)
	}

	out := make([]trends.Observation, 0, len(feed.Items))
	for _, item := range feed.Items {
		query := strings.TrimSpace(item.Title)
		if query == "" {
			continue
		}
		breakdown := make([]string, 0, len(item.News))
		for _, n := range item.News {
			if t := strings.TrimSpace(n.Title); t != "" {
				breakdown = append(breakdown, t)
			}
		}
		out = append(out, trends.Observation{
			Query:          query,
			SearchVolume:   parseTraffic(item.Traffic),
			Categories:     []trends.Category{},
			TrendBreakdown: breakdown,
			Active:         true,
		})
	}
	return out, nil
}

// parseTraffic keeps the digits of strings like "200,000+"
func parseTraffic(s string) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
