package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// apiClient is the shared JSON round-trip used by both gateway adapters:
// explicit request timeout plus a circuit breaker, so a dead provider fails
// fast instead of holding checkout requests open.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func newAPIClient(name, baseURL, apiKey string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &apiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s %s payload: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: http=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, string(raw))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("gateway %s %s: http=%d body=%s", method, path, resp.StatusCode, string(raw))
		}
		return raw, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open for %s", ErrGatewayUnavailable, c.baseURL)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w body=%s", method, path, err, string(raw))
	}
	return nil
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
