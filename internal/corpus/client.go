package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Passage is one retrieved excerpt from a philosopher's works.
type Passage struct {
	Text     string  `json:"text"`
	Title    string  `json:"title"`
	Page     int     `json:"page,omitempty"`
	Citation string  `json:"citation"`
	Score    float64 `json:"score,omitempty"` // similarity when served from the cache, 0 otherwise
}

// ClientConfig holds settings for the external corpus service.
type ClientConfig struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Client talks to the external corpus service. Given a philosopher and a
// topic it returns up to limit passages; the service may fall back to a
// random passage from the philosopher's known works when nothing matches.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a corpus service client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type passagesResponse struct {
	Passages []Passage `json:"passages"`
}

// Passages fetches up to limit passages for the philosopher and topic.
func (c *Client) Passages(ctx context.Context, philosopher, topic string, limit int) ([]Passage, error) {
	q := url.Values{}
	q.Set("philosopher", philosopher)
	q.Set("topic", topic)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.Endpoint+"/passages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("corpus request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("corpus service returned %d", resp.StatusCode)
	}

	var pr passagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode passages: %w", err)
	}
	if len(pr.Passages) > limit {
		pr.Passages = pr.Passages[:limit]
	}
	return pr.Passages, nil
}
