package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient settles through a remote payout backend over JSON/HTTP.
type HTTPClient struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPClient builds a client for the given backend URL. The timeout
// bounds the whole payout call; the pipeline additionally applies its own
// per-request deadline.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		URL:  url,
		HTTP: &http.Client{Timeout: timeout},
	}
}

type payoutRequest struct {
	Amount         string `json:"amount"`
	Asset          string `json:"asset"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotency_key"`
}

type payoutResponse struct {
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

func (c *HTTPClient) Initiate(ctx context.Context, p Payout) (Result, error) {
	body, err := json.Marshal(payoutRequest{
		Amount:         p.Amount.String(),
		Asset:          p.Asset,
		Destination:    p.Destination,
		IdempotencyKey: p.IdempotencyKey,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.IdempotencyKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("payout backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("payout backend returned status %d", resp.StatusCode)
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode payout response: %w", err)
	}

	if out.Status != "success" || out.Hash == "" {
		return Result{}, nil
	}

	return Result{Succeeded: true, Reference: out.Hash}, nil
}
