// Package identity wraps the external identity provider. The provider is
// consumed as an opaque exchange: credentials in, a grant (access token plus
// principal id) out. Session state itself lives in internal/session.
package identity

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

type Provider struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// Grant is the provider's proof of a completed login.
type Grant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func NewProvider(baseURL, anonKey string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (p *Provider) Login(ctx context.Context, email, password string) (Grant, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var out Grant
	if err := p.postJSON(ctx, "/auth/v1/token?grant_type=password", "", payload, &out); err != nil {
		return Grant{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" || strings.TrimSpace(out.User.ID) == "" {
		return Grant{}, fmt.Errorf("provider returned an incomplete grant")
	}
	return out, nil
}

// Logout revokes the grant server-side. Callers treat it as best-effort; a
// session is torn down locally whether or not the provider answered.
func (p *Provider) Logout(ctx context.Context, accessToken string) error {
	return p.postJSON(ctx, "/auth/v1/logout", accessToken, map[string]string{}, nil)
}

// Verify checks that a previously issued token is still live and resolves the
// principal behind it. Used at process start to adopt a persisted session.
func (p *Provider) Verify(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, fmt.Errorf("verify token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

func (p *Provider) postJSON(ctx context.Context, path, accessToken string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("identity status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
