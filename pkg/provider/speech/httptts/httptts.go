// Package httptts implements the speech Provider against a REST
// text-to-speech gateway.
//
// The gateway synthesizes text and plays it into the joined meeting's audio
// session. POST /speak starts an utterance, POST /stop interrupts it. The
// gateway answers 200 when the utterance played and 409 when it declined
// (no audio session, agent muted).
package httptts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetbridge/meetbridge/pkg/provider/speech"
)

// Config holds the gateway connection settings.
type Config struct {
	// Endpoint is the gateway base URL.
	Endpoint string

	// APIKey authenticates against the gateway.
	APIKey string

	// Voice selects the gateway voice profile. Optional.
	Voice string

	// Timeout is the per-request timeout. Speaking blocks until playback
	// finishes, so this must cover the longest expected utterance.
	// Default: 120s.
	Timeout time.Duration
}

// Client implements speech.Provider over the REST gateway.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ speech.Provider = (*Client)(nil)

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("httptts: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// speakRequest is the POST /speak body.
type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Speak implements speech.Provider.
func (c *Client) Speak(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(speakRequest{Text: text, Voice: c.cfg.Voice})
	if err != nil {
		return false, fmt.Errorf("httptts: marshal request: %w", err)
	}

	resp, err := c.post(ctx, "/speak", body)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		// Gateway declined without a hard failure.
		return false, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("httptts: speak: status %d: %s", resp.StatusCode, msg)
	}
}

// Stop implements speech.Provider.
func (c *Client) Stop(ctx context.Context) error {
	resp, err := c.post(ctx, "/stop", nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("httptts: stop: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("httptts: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptts: %s: %w", path, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
