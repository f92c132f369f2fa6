package escrowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to an escrowd server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the key sent as a Bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register claims an address and returns the raw API key. The key is shown
// once; the client keeps using it for subsequent calls.
func (c *Client) Register(ctx context.Context, address, name string) (string, error) {
	var out struct {
		APIKey string `json:"apiKey"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/register",
		map[string]string{"address": address, "name": name}, &out)
	if err != nil {
		return "", err
	}
	c.apiKey = out.APIKey
	return out.APIKey, nil
}

// CreateEscrow opens a pending escrow with the authenticated caller as buyer.
func (c *Client) CreateEscrow(ctx context.Context, sellerAddr string, amount uint64, description string) (*Escrow, error) {
	body := map[string]interface{}{
		"sellerAddr":  sellerAddr,
		"amount":      amount,
		"description": description,
	}
	return c.escrowCall(ctx, http.MethodPost, "/v1/escrows", body)
}

// GetEscrow fetches an escrow by ID.
func (c *Client) GetEscrow(ctx context.Context, id uint64) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodGet, fmt.Sprintf("/v1/escrows/%d", id), nil)
}

// NextID returns the ID the next created escrow will receive.
func (c *Client) NextID(ctx context.Context) (uint64, error) {
	var out struct {
		NextID uint64 `json:"nextId"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/escrows/next-id", nil, &out)
	return out.NextID, err
}

// Fund moves the escrow amount from the buyer's balance into custody.
func (c *Client) Fund(ctx context.Context, id uint64) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/fund", id), nil)
}

// Release pays the seller and completes the escrow.
func (c *Client) Release(ctx context.Context, id uint64) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/release", id), nil)
}

// Cancel cancels a pending (unfunded) escrow.
func (c *Client) Cancel(ctx context.Context, id uint64) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/cancel", id), nil)
}

// Dispute freezes a funded escrow pending arbitration.
func (c *Client) Dispute(ctx context.Context, id uint64, reason string) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/dispute", id),
		map[string]string{"reason": reason})
}

// Resolve rules on a disputed escrow. Caller must be the arbiter; winner is
// "buyer" or "seller".
func (c *Client) Resolve(ctx context.Context, id uint64, winner string) (*Escrow, error) {
	return c.escrowCall(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/resolve", id),
		map[string]string{"winner": winner})
}

// GetDispute fetches the dispute record for an escrow.
func (c *Client) GetDispute(ctx context.Context, id uint64) (*Dispute, error) {
	var out struct {
		Dispute *Dispute `json:"dispute"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/escrows/%d/dispute", id), nil, &out)
	return out.Dispute, err
}

// ListEscrows returns escrows where addr is buyer or seller, newest first.
func (c *Client) ListEscrows(ctx context.Context, addr string) ([]*Escrow, error) {
	var out struct {
		Escrows []*Escrow `json:"escrows"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/agents/"+addr+"/escrows", nil, &out)
	return out.Escrows, err
}

// Balance fetches an account's ledger balance.
func (c *Client) Balance(ctx context.Context, addr string) (*Balance, error) {
	var out struct {
		Balance *Balance `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/agents/"+addr+"/balance", nil, &out)
	return out.Balance, err
}

// QuoteFee asks the server what fee a payout of amount would incur right now.
func (c *Client) QuoteFee(ctx context.Context, amount uint64) (*FeeQuote, error) {
	var out FeeQuote
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/fees?amount=%d", amount), nil, &out)
	return &out, err
}

// GetPlatform fetches the platform configuration.
func (c *Client) GetPlatform(ctx context.Context) (*Platform, error) {
	var out Platform
	err := c.do(ctx, http.MethodGet, "/v1/platform", nil, &out)
	return &out, err
}

// escrowCall performs a request whose response wraps a single escrow.
func (c *Client) escrowCall(ctx context.Context, method, path string, body interface{}) (*Escrow, error) {
	var out struct {
		Escrow *Escrow `json:"escrow"`
	}
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return out.Escrow, nil
}

// do performs an HTTP call, decoding a JSON success body into out and
// non-2xx bodies into *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var req *http.Request
	var err error
	if reqBody != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "unexpected_error"
			apiErr.Message = fmt.Sprintf("server returned %d", resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
