// Package acs implements the meeting Provider on top of an Azure
// Communication Services signaling relay.
//
// The relay exposes one websocket per call. Inbound frames carry caption
// fragments, chat messages, and hand-state changes; outbound frames carry
// chat and participation commands. The connection is re-established a
// bounded number of times before the call is declared dead and its streams
// are closed.
package acs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/meetbridge/meetbridge/pkg/provider/meeting"
)

// Config holds the ACS relay connection settings.
type Config struct {
	// Endpoint is the relay base URL, e.g. "wss://relay.example.com".
	Endpoint string

	// AccessKey authenticates against the relay.
	AccessKey string

	// MaxReconnects bounds how often a dropped socket is re-dialed before
	// the call is closed. Default: 5.
	MaxReconnects int

	// ReconnectDelay is the pause between redial attempts. Default: 2s.
	ReconnectDelay time.Duration
}

// Provider implements [meeting.Provider] against an ACS signaling relay.
type Provider struct {
	cfg Config
}

var _ meeting.Provider = (*Provider)(nil)

// New creates an ACS meeting provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("acs: endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("acs: access key is required")
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Provider{cfg: cfg}, nil
}

// Join dials the relay and starts the event pump for the call.
func (p *Provider) Join(ctx context.Context, cfg meeting.JoinConfig) (meeting.Call, error) {
	if cfg.MeetingID == "" {
		return nil, errors.New("acs: meeting id is required")
	}

	c := &call{
		provider:  p,
		joinCfg:   cfg,
		captions:  make(chan meeting.CaptionFragment, 64),
		chat:      make(chan meeting.ChatMessage, 64),
		closed:    make(chan struct{}),
		pumpsDone: make(chan struct{}),
	}
	conn, err := p.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

func (p *Provider) dial(ctx context.Context, cfg meeting.JoinConfig) (*websocket.Conn, error) {
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("acs: parse endpoint: %w", err)
	}
	u.Path, err = url.JoinPath(u.Path, "calls", cfg.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("acs: build call URL: %w", err)
	}
	q := u.Query()
	q.Set("displayName", cfg.DisplayName)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.AccessKey)

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("acs: dial relay: %w", err)
	}
	// Caption frames can burst well past the default read limit.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// envelope is the relay's frame format in both directions.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// captionPayload mirrors the relay's caption frame.
type captionPayload struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	SpeakerID string    `json:"speakerId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
}

// chatPayload mirrors the relay's chat frame.
type chatPayload struct {
	ID                string    `json:"id"`
	SenderDisplayName string    `json:"senderDisplayName"`
	Content           string    `json:"content"`
	IsOwn             bool      `json:"isOwn"`
	CreatedOn         time.Time `json:"createdOn"`
}

// handPayload mirrors the relay's hand-state frame.
type handPayload struct {
	Raised bool `json:"raised"`
}

type call struct {
	provider *Provider
	joinCfg  meeting.JoinConfig

	captions chan meeting.CaptionFragment
	chat     chan meeting.ChatMessage

	mu      sync.Mutex
	conn    *websocket.Conn
	handCB  func(raised bool)
	leaving bool

	closed    chan struct{}
	closeOnce sync.Once
	pumpsDone chan struct{}
}

var _ meeting.Call = (*call)(nil)

func (c *call) Captions() <-chan meeting.CaptionFragment { return c.captions }
func (c *call) Chat() <-chan meeting.ChatMessage         { return c.chat }
func (c *call) MeetingID() string                        { return c.joinCfg.MeetingID }

func (c *call) SetOnHandRaisedChanged(fn func(raised bool)) {
	c.mu.Lock()
	c.handCB = fn
	c.mu.Unlock()
}

func (c *call) SendMessage(ctx context.Context, text string) error {
	return c.send(ctx, "sendMessage", map[string]string{"content": text})
}

func (c *call) RaiseHand(ctx context.Context) error {
	return c.send(ctx, "raiseHand", nil)
}

func (c *call) LowerHand(ctx context.Context) error {
	return c.send(ctx, "lowerHand", nil)
}

func (c *call) SendReaction(ctx context.Context, reaction string) error {
	return c.send(ctx, "sendReaction", map[string]string{"reaction": reaction})
}

func (c *call) send(ctx context.Context, kind string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("acs: call is closed")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("acs: marshal %s payload: %w", kind, err)
		}
		raw = data
	}
	if err := wsjson.Write(ctx, conn, envelope{Kind: kind, Payload: raw}); err != nil {
		return fmt.Errorf("acs: send %s: %w", kind, err)
	}
	return nil
}

// Leave tells the relay we are gone and shuts the pump down.
func (c *call) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.leaving = true
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = wsjson.Write(ctx, conn, envelope{Kind: "leave"})
		conn.Close(websocket.StatusNormalClosure, "leaving")
	}
	c.closeOnce.Do(func() { close(c.closed) })

	select {
	case <-c.pumpsDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// readLoop pumps relay frames into the caption and chat channels. A read
// failure triggers a bounded redial; once the budget is exhausted the call
// ends and both channels close.
func (c *call) readLoop() {
	defer close(c.pumpsDone)
	defer close(c.captions)
	defer close(c.chat)

	attempts := 0
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			leaving := c.leaving
			c.mu.Unlock()
			if leaving {
				return
			}

			attempts++
			if attempts > c.provider.cfg.MaxReconnects {
				slog.Error("meeting connection lost, giving up",
					"meeting_id", c.joinCfg.MeetingID,
					"attempts", attempts-1,
					"error", err)
				c.closeOnce.Do(func() { close(c.closed) })
				return
			}
			slog.Warn("meeting connection dropped, redialing",
				"meeting_id", c.joinCfg.MeetingID,
				"attempt", attempts,
				"error", err)
			time.Sleep(c.provider.cfg.ReconnectDelay)

			dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			newConn, derr := c.provider.dial(dialCtx, c.joinCfg)
			cancel()
			if derr != nil {
				slog.Warn("redial failed", "meeting_id", c.joinCfg.MeetingID, "error", derr)
				continue
			}
			c.mu.Lock()
			c.conn = newConn
			c.mu.Unlock()
			continue
		}
		attempts = 0

		c.dispatch(data)
	}
}

func (c *call) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("unparseable relay frame", "error", err)
		return
	}

	switch env.Kind {
	case "caption":
		var p captionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("bad caption frame", "error", err)
			return
		}
		c.captions <- meeting.CaptionFragment{
			ID:        p.ID,
			Speaker:   p.Speaker,
			SpeakerID: p.SpeakerID,
			Text:      p.Text,
			Timestamp: p.Timestamp,
			IsFinal:   p.IsFinal,
		}

	case "chatMessage":
		var p chatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("bad chat frame", "error", err)
			return
		}
		c.chat <- meeting.ChatMessage{
			ID:                p.ID,
			SenderDisplayName: p.SenderDisplayName,
			Content:           p.Content,
			IsOwn:             p.IsOwn,
			CreatedOn:         p.CreatedOn,
		}

	case "handRaisedChanged":
		var p handPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("bad hand-state frame", "error", err)
			return
		}
		c.mu.Lock()
		cb := c.handCB
		c.mu.Unlock()
		if cb != nil {
			cb(p.Raised)
		}

	default:
		slog.Debug("ignoring relay frame", "kind", env.Kind)
	}
}
