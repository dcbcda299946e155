// Package ledger holds the domain records and the HTTP client for the remote
// ledger/catalog service. A Client is bound to exactly one authenticated
// grant; when the session identity changes the orchestrator builds a new
// Client instead of mutating this one, so a request can never be sent under a
// stale identity.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL      string
	collectionID string
	accessToken  string
	principal    string
	httpClient   *http.Client
}

func NewClient(baseURL, collectionID, accessToken, principal string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		collectionID: collectionID,
		accessToken:  accessToken,
		principal:    principal,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Principal reports the identity this client is bound to.
func (c *Client) Principal() string { return c.principal }

func (c *Client) Properties(ctx context.Context) ([]Property, error) {
	var out struct {
		Properties []Property `json:"properties"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, "/v1/properties", nil, &out, ""); err != nil {
		return nil, err
	}
	return out.Properties, nil
}

func (c *Client) PropertyDetail(ctx context.Context, propertyID int64) (Property, error) {
	var out Property
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/properties/%d", propertyID), nil, &out, "")
	return out, err
}

// Balances fetches the caller's holdings keyed by property id. The caller
// identity is implicit in the bearer token.
func (c *Client) Balances(ctx context.Context) (map[int64]int64, error) {
	var out struct {
		Tokens []TokenBalance `json:"tokens"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, "/v1/tokens", nil, &out, ""); err != nil {
		return nil, err
	}
	balances := make(map[int64]int64, len(out.Tokens))
	for _, t := range out.Tokens {
		balances[t.PropertyID] = t.Amount
	}
	return balances, nil
}

func (c *Client) Buy(ctx context.Context, propertyID, amount int64, idem string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/tokens/buy", map[string]any{
		"property_id": propertyID,
		"amount":      amount,
	}, nil, idem)
}

func (c *Client) Transfer(ctx context.Context, propertyID, amount int64, recipient, idem string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/tokens/transfer", map[string]any{
		"property_id": propertyID,
		"amount":      amount,
		"recipient":   recipient,
	}, nil, idem)
}

func (c *Client) History(ctx context.Context) ([]Transaction, error) {
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, "/v1/transactions", nil, &out, ""); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	if strings.TrimSpace(c.accessToken) == "" {
		return ErrUnauthenticated
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if c.collectionID != "" {
		req.Header.Set("X-Collection-ID", c.collectionID)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("ledger status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	case resp.StatusCode >= 400:
		return &RejectionError{Reason: rejectionReason(resp.Body, resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// rejectionReason extracts the server's refusal string. The reason travels
// verbatim to the user, so a structured body is preferred over raw bytes.
func rejectionReason(body io.Reader, status int) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var structured struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && strings.TrimSpace(structured.Error) != "" {
		return structured.Error
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("ledger rejected the request (status %d)", status)
	}
	return text
}
