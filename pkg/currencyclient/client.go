/**
 * @description
 * This package provides a client for a currencyapi.com compatible exchange rate API.
 * It implements the rate source used by the wallet's display-only currency conversion.
 */
package currencyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.currencyapi.com"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("currency api key is empty")

// Client is a client for the exchange rate API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new exchange rate client.
func NewClient(baseURL string, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// latestResponse mirrors the /v3/latest payload.
type latestResponse struct {
	Data map[string]struct {
		Code  string          `json:"code"`
		Value decimal.Decimal `json:"value"`
	} `json:"data"`
}

// LatestRate returns how many units of to one unit of from buys.
func (c *Client) LatestRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if c.apiKey == "" {
		return decimal.Zero, ErrNotConfigured
	}
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	query := url.Values{}
	query.Set("apikey", c.apiKey)
	query.Set("base_currency", from)
	query.Set("currencies", to)
	endpoint := fmt.Sprintf("%s/v3/latest?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to execute request to currency api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decimal.Zero, fmt.Errorf("currency api returned error status %d", resp.StatusCode)
	}

	var response latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}
	entry, ok := response.Data[to]
	if !ok || !entry.Value.IsPositive() {
		return decimal.Zero, fmt.Errorf("currency api returned no rate for %s_%s", from, to)
	}
	return entry.Value, nil
}
