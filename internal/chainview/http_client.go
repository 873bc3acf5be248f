package chainview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPClient talks to an asset-index service
// (GET <base><path>?owner=<owner> -> {"assets":[{assetId, metadataUri}]}).
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chainview base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/assets"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

func (c *HTTPClient) ListOwnedAssets(ctx context.Context, owner string) ([]Asset, error) {
	endpoint := c.baseURL + c.path + "?owner=" + url.QueryEscape(owner)

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("chainview build request: %w", err)
		}
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			assets, parseErr := decodeAssets(resp)
			resp.Body.Close()
			if parseErr == nil {
				return assets, nil
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("chainview list assets: %w", lastErr)
}

func decodeAssets(resp *http.Response) ([]Asset, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index unavailable: %s", resp.Status)
	}
	var body struct {
		Assets []Asset `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}
	return body.Assets, nil
}

// GatewayResolver fetches metadata JSON over HTTP, rewriting ipfs:// URIs to a
// public gateway as the original uploads use content-addressed storage.
type GatewayResolver struct {
	Gateway string
	Client  *http.Client
}

func NewGatewayResolver(gateway string) *GatewayResolver {
	if gateway == "" {
		gateway = "https://ipfs.io/ipfs/"
	}
	return &GatewayResolver{
		Gateway: gateway,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *GatewayResolver) Resolve(ctx context.Context, uri string) (Metadata, error) {
	target := uri
	if strings.HasPrefix(uri, "ipfs://") {
		target = g.Gateway + strings.TrimPrefix(uri, "ipfs://")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata build request: %w", err)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("metadata fetch: %s", resp.Status)
	}
	var raw rawMetadata
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Metadata{}, fmt.Errorf("metadata decode: %w", err)
	}
	return raw.normalize(), nil
}
