// Package copilotstudio implements the agentconv Provider for Microsoft
// Copilot Studio agents.
//
// Copilot Studio fronts its agents with Direct Line. This package performs
// the Entra client-credentials exchange, fetches a Direct Line token from
// the agent's token endpoint, and then delegates the conversation to the
// directline client.
package copilotstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv/directline"
)

// loginBase is the Entra ID token authority.
const loginBase = "https://login.microsoftonline.com"

// Config identifies a Copilot Studio agent and the app registration allowed
// to talk to it.
type Config struct {
	// TokenEndpoint is the agent's Direct Line token URL from the Copilot
	// Studio channel settings.
	TokenEndpoint string

	// TenantID, ClientID, ClientSecret are the Entra app credentials.
	TenantID     string
	ClientID     string
	ClientSecret string

	// Scope overrides the OAuth scope. Default:
	// "https://api.powerplatform.com/.default".
	Scope string
}

// Client implements agentconv.Provider for Copilot Studio.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	delegate *directline.Client
}

var _ agentconv.Provider = (*Client)(nil)

// New creates a Copilot Studio client.
func New(cfg Config) (*Client, error) {
	var errs []error
	if cfg.TokenEndpoint == "" {
		errs = append(errs, errors.New("copilotstudio: token endpoint is required"))
	}
	if cfg.TenantID == "" {
		errs = append(errs, errors.New("copilotstudio: tenant id is required"))
	}
	if cfg.ClientID == "" {
		errs = append(errs, errors.New("copilotstudio: client id is required"))
	}
	if cfg.ClientSecret == "" {
		errs = append(errs, errors.New("copilotstudio: client secret is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Scope == "" {
		cfg.Scope = "https://api.powerplatform.com/.default"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Connect exchanges credentials for a Direct Line token and opens the
// underlying conversation.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.delegate != nil {
		delegate := c.delegate
		c.mu.Unlock()
		return delegate.Connect(ctx)
	}
	c.mu.Unlock()

	accessToken, err := c.entraToken(ctx)
	if err != nil {
		return "", err
	}
	dlToken, streamBase, err := c.directLineToken(ctx, accessToken)
	if err != nil {
		return "", err
	}

	opts := []directline.Option{directline.WithHTTPClient(c.http)}
	if streamBase != "" {
		opts = append(opts, directline.WithBaseURL(streamBase))
	}
	delegate, err := directline.New(dlToken, opts...)
	if err != nil {
		return "", fmt.Errorf("copilotstudio: build direct line client: %w", err)
	}

	c.mu.Lock()
	c.delegate = delegate
	c.mu.Unlock()

	return delegate.Connect(ctx)
}

// entraToken performs the client-credentials grant.
func (c *Client) entraToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", c.cfg.Scope)

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBase, c.cfg.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("copilotstudio: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("copilotstudio: entra token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("copilotstudio: entra token: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("copilotstudio: decode entra token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("copilotstudio: entra token response missing access_token")
	}
	return payload.AccessToken, nil
}

// directLineToken fetches the Direct Line token from the agent's token
// endpoint. Some environments also return a regional endpoint the
// conversation must use.
func (c *Client) directLineToken(ctx context.Context, accessToken string) (token, endpoint string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.TokenEndpoint, nil)
	if err != nil {
		return "", "", fmt.Errorf("copilotstudio: build token endpoint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("copilotstudio: direct line token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("copilotstudio: direct line token: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Token    string `json:"token"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", fmt.Errorf("copilotstudio: decode direct line token: %w", err)
	}
	if payload.Token == "" {
		return "", "", errors.New("copilotstudio: token endpoint returned no token")
	}
	return payload.Token, strings.TrimSuffix(payload.Endpoint, "/"), nil
}

// SendMessage implements agentconv.Provider.
func (c *Client) SendMessage(ctx context.Context, text, speaker string, recentContext []string) (agentconv.Reply, error) {
	c.mu.Lock()
	delegate := c.delegate
	c.mu.Unlock()
	if delegate == nil {
		return agentconv.Reply{}, errors.New("copilotstudio: not connected")
	}
	return delegate.SendMessage(ctx, text, speaker, recentContext)
}

// Connected implements agentconv.Provider.
func (c *Client) Connected() bool {
	c.mu.Lock()
	delegate := c.delegate
	c.mu.Unlock()
	return delegate != nil && delegate.Connected()
}

// Disconnect implements agentconv.Provider.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	delegate := c.delegate
	c.delegate = nil
	c.mu.Unlock()
	if delegate == nil {
		return nil
	}
	return delegate.Disconnect(ctx)
}
