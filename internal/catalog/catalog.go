// Package catalog is a read-only client for the product service. The cart
// never trusts client-submitted prices: every line added to a cart is
// snapshotted from what the catalog says right now.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrProductNotFound = errors.New("product not found")

type VariantGroup struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

type Product struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	PriceCents int64          `json:"price_cents"`
	Sizes      []string       `json:"sizes,omitempty"`
	Colors     []string       `json:"colors,omitempty"`
	Variants   []VariantGroup `json:"variants,omitempty"`
	ImageURL   *string        `json:"image_url,omitempty"`
	Stock      int            `json:"stock"`
	Active     bool           `json:"active"`
}

type Service interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	url := fmt.Sprintf("%s/v1/products/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrProductNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("catalog: http=%d body=%s", resp.StatusCode, string(body))
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &p, nil
}

var _ Service = (*Client)(nil)
