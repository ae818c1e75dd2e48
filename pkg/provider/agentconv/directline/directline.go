// Package directline implements the agentconv Provider over the Bot
// Framework Direct Line 3.0 protocol.
//
// Connect opens a conversation via REST and attaches to the activity stream
// websocket. SendMessage posts an activity and waits for the next bot
// message on the stream.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
)

// defaultBaseURL is the public Direct Line endpoint.
const defaultBaseURL = "https://directline.botframework.com"

// Client implements agentconv.Provider over Direct Line 3.0.
type Client struct {
	secret  string
	baseURL string
	userID  string
	http    *http.Client

	mu             sync.Mutex
	conversationID string
	token          string
	conn           *websocket.Conn
	waiter         chan agentconv.Reply
	pumpDone       chan struct{}
}

var _ agentconv.Provider = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides the Direct Line endpoint, e.g. for regional or
// Copilot Studio issued tokens.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUserID sets the channel account id used for outgoing activities.
// Default: "meetbridge-user".
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithHTTPClient overrides the HTTP client used for REST calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Direct Line client. secret is a Direct Line secret or an
// already-exchanged token.
func New(secret string, opts ...Option) (*Client, error) {
	if secret == "" {
		return nil, errors.New("directline: secret is required")
	}
	c := &Client{
		secret:  secret,
		baseURL: defaultBaseURL,
		userID:  "meetbridge-user",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// conversationResponse is the REST shape of a started conversation.
type conversationResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	StreamURL      string `json:"streamUrl"`
}

// activity is the subset of the Bot Framework activity schema we exchange.
type activity struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	From struct {
		ID string `json:"id"`
	} `json:"from"`
	Text string `json:"text,omitempty"`
}

// activitySet is one websocket frame from the activity stream.
type activitySet struct {
	Activities []activity `json:"activities"`
	Watermark  string     `json:"watermark"`
}

// Connect starts a conversation and attaches to its activity stream.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.conversationID != "" {
		id := c.conversationID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v3/directline/conversations", nil)
	if err != nil {
		return "", fmt.Errorf("directline: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("directline: start conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("directline: start conversation: status %d: %s", resp.StatusCode, body)
	}

	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("directline: decode conversation: %w", err)
	}
	if conv.ConversationID == "" {
		// Accepted but no conversation; the caller's retry policy decides.
		return "", nil
	}

	token := conv.Token
	if token == "" {
		token = c.secret
	}

	var conn *websocket.Conn
	pumpDone := make(chan struct{})
	if conv.StreamURL != "" {
		conn, _, err = websocket.Dial(ctx, conv.StreamURL, nil)
		if err != nil {
			return "", fmt.Errorf("directline: attach stream: %w", err)
		}
		conn.SetReadLimit(1 << 20)
	}

	c.mu.Lock()
	c.conversationID = conv.ConversationID
	c.token = token
	c.conn = conn
	c.pumpDone = pumpDone
	c.mu.Unlock()

	if conn != nil {
		go c.readLoop(conn, pumpDone)
	} else {
		close(pumpDone)
	}

	slog.Info("agent conversation opened", "provider", "direct-line", "conversation_id", conv.ConversationID)
	return conv.ConversationID, nil
}

// Connected implements agentconv.Provider.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID != ""
}

// SendMessage posts text as a user activity and waits for the bot's reply.
func (c *Client) SendMessage(ctx context.Context, text, speaker string, recentContext []string) (agentconv.Reply, error) {
	c.mu.Lock()
	convID, token := c.conversationID, c.token
	if convID == "" {
		c.mu.Unlock()
		return agentconv.Reply{}, errors.New("directline: not connected")
	}
	if c.waiter != nil {
		c.mu.Unlock()
		return agentconv.Reply{}, errors.New("directline: a message is already awaiting its reply")
	}
	waiter := make(chan agentconv.Reply, 1)
	c.waiter = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.waiter = nil
		c.mu.Unlock()
	}()

	out := activity{Type: "message", Text: decorate(text, speaker, recentContext)}
	out.From.ID = c.userID
	body, err := json.Marshal(out)
	if err != nil {
		return agentconv.Reply{}, fmt.Errorf("directline: marshal activity: %w", err)
	}

	url := fmt.Sprintf("%s/v3/directline/conversations/%s/activities", c.baseURL, convID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return agentconv.Reply{}, fmt.Errorf("directline: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return agentconv.Reply{}, fmt.Errorf("directline: post activity: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return agentconv.Reply{}, fmt.Errorf("directline: post activity: status %d", resp.StatusCode)
	}

	select {
	case reply := <-waiter:
		return reply, nil
	case <-ctx.Done():
		return agentconv.Reply{}, fmt.Errorf("directline: waiting for reply: %w", ctx.Err())
	}
}

// Disconnect closes the stream and forgets the conversation.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	pumpDone := c.pumpDone
	c.conversationID = ""
	c.token = ""
	c.conn = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "disconnecting")
	}
	if pumpDone != nil {
		select {
		case <-pumpDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// readLoop pumps the activity stream and hands bot messages to the waiter.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		// The stream sends empty keepalive frames.
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var set activitySet
		if err := json.Unmarshal(data, &set); err != nil {
			slog.Warn("unparseable activity frame", "provider", "direct-line", "error", err)
			continue
		}
		for _, act := range set.Activities {
			if act.Type != "message" || act.From.ID == c.userID || act.Text == "" {
				continue
			}
			c.mu.Lock()
			waiter := c.waiter
			c.mu.Unlock()
			if waiter == nil {
				slog.Debug("unsolicited agent message", "provider", "direct-line")
				continue
			}
			select {
			case waiter <- agentconv.Reply{Text: act.Text}:
			default:
			}
		}
	}
}

// decorate prefixes the question with speaker attribution and recent
// transcript lines so the bot sees meeting context.
func decorate(text, speaker string, recentContext []string) string {
	if speaker == "" && len(recentContext) == 0 {
		return text
	}
	var b bytes.Buffer
	if len(recentContext) > 0 {
		b.WriteString("Recent discussion:\n")
		for _, line := range recentContext {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if speaker != "" {
		b.WriteString(speaker)
		b.WriteString(" asks: ")
	}
	b.WriteString(text)
	return b.String()
}
