// Package fxrates is a thin client for the external currency-quote API.
// Quotes are always against BRL.
package fxrates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseSizeBytes = 1 << 20

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type QuoteResult struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Rate     float64 `json:"rate"`
	Value    float64 `json:"value"`
	Date     string  `json:"date,omitempty"`
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("fxrates url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type quoteResponse struct {
	Rate float64 `json:"rate"`
	Date string  `json:"date"`
}

// Quote fetches the BRL rate for the given currency code.
func (c *Client) Quote(ctx context.Context, currency string, amount float64) (QuoteResult, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return QuoteResult{}, errors.New("currency code is required")
	}
	if amount <= 0 {
		amount = 1
	}

	q := url.Values{}
	q.Set("from", currency)
	q.Set("to", "BRL")
	q.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("build quote request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("execute quote request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return QuoteResult{}, fmt.Errorf("read quote response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return QuoteResult{}, fmt.Errorf("quote http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return QuoteResult{}, fmt.Errorf("decode quote response: %w", err)
	}
	if parsed.Rate <= 0 {
		return QuoteResult{}, fmt.Errorf("no rate returned for %s", currency)
	}

	return QuoteResult{
		Currency: currency,
		Amount:   amount,
		Rate:     parsed.Rate,
		Value:    parsed.Rate * amount,
		Date:     parsed.Date,
	}, nil
}
