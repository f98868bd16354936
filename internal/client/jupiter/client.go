package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://lite-api.jup.ag/price/v2"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// TokenPrice is one priced mint from the price endpoint.
type TokenPrice struct {
	Address    string
	Price      decimal.Decimal
	Confidence *float64
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
		Extra *struct {
			Confidence *float64 `json:"confidenceLevelNumeric"`
		} `json:"extraInfo"`
	} `json:"data"`
}

func (c *Client) doRequest(ctx context.Context, query url.Values) ([]byte, error) {
	fullURL := c.baseURL
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetPrices fetches spot prices for the given mint addresses. Mints the API
// does not know are absent from the result, not an error.
func (c *Client) GetPrices(ctx context.Context, mints []string) (map[string]TokenPrice, error) {
	cleaned := make([]string, 0, len(mints))
	for _, m := range mints {
		m = strings.TrimSpace(m)
		if m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("at least one mint is required")
	}

	query := url.Values{}
	query.Set("ids", strings.Join(cleaned, ","))
	body, err := c.doRequest(ctx, query)
	if err != nil {
		return nil, err
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	out := make(map[string]TokenPrice, len(parsed.Data))
	for mint, entry := range parsed.Data {
		if entry == nil || entry.Price == "" {
			continue
		}
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			continue
		}
		tp := TokenPrice{Address: mint, Price: price}
		if entry.Extra != nil {
			tp.Confidence = entry.Extra.Confidence
		}
		out[mint] = tp
	}
	return out, nil
}

// GetPrice fetches a single mint's spot price.
func (c *Client) GetPrice(ctx context.Context, mint string) (*TokenPrice, error) {
	prices, err := c.GetPrices(ctx, []string{mint})
	if err != nil {
		return nil, err
	}
	tp, ok := prices[strings.TrimSpace(mint)]
	if !ok {
		return nil, fmt.Errorf("no price returned for %s", mint)
	}
	return &tp, nil
}
