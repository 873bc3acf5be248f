package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient posts transfer instructions to the custody service. No retries: a
// transfer is not known to be idempotent, so ambiguity is surfaced to the
// caller instead of re-sent.
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("escrow base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/transfer"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
	}, nil
}

func (c *HTTPClient) Release(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"toWallet": req.ToWallet,
		"amount":   req.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("escrow marshal request: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("escrow build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("escrow transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("escrow transfer rejected: %s", resp.Status)
	}
	var body struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("escrow decode response: %w", err)
	}
	if body.Signature == "" {
		return "", fmt.Errorf("escrow transfer: empty signature in response")
	}
	return body.Signature, nil
}
