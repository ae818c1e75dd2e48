// Package azurefoundry implements the agentconv Provider on an Azure AI
// Foundry chat deployment.
//
// Unlike the Direct Line backends there is no server-side conversation
// object: the client keeps the message history itself and replays it on
// every turn. The conversation id is generated locally.
package azurefoundry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
)

// defaultSystemPrompt frames the deployment as a meeting participant.
const defaultSystemPrompt = "You are a helpful assistant participating in an online meeting. " +
	"Answer the speaker's question concisely, in a tone suitable for reading aloud."

// maxHistory bounds the replayed conversation turns.
const maxHistory = 40

// Config holds the Foundry deployment settings.
type Config struct {
	// Endpoint is the deployment's OpenAI-compatible base URL, e.g.
	// "https://myproject.openai.azure.com/openai/v1".
	Endpoint string

	// APIKey authenticates against the deployment.
	APIKey string

	// Deployment is the model deployment name.
	Deployment string

	// SystemPrompt overrides the default meeting-assistant framing.
	SystemPrompt string

	// Timeout is the per-request HTTP timeout. Default: 60s.
	Timeout time.Duration
}

// Client implements agentconv.Provider on a Foundry chat deployment.
type Client struct {
	client       oai.Client
	deployment   string
	systemPrompt string

	mu             sync.Mutex
	conversationID string
	history        []oai.ChatCompletionMessageParamUnion
}

var _ agentconv.Provider = (*Client)(nil)

// New creates a Foundry client.
func New(cfg Config) (*Client, error) {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, errors.New("azurefoundry: endpoint is required"))
	}
	if cfg.APIKey == "" {
		errs = append(errs, errors.New("azurefoundry: api key is required"))
	}
	if cfg.Deployment == "" {
		errs = append(errs, errors.New("azurefoundry: deployment is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := oai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	return &Client{
		client:       client,
		deployment:   cfg.Deployment,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Connect starts a fresh local conversation.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversationID != "" {
		return c.conversationID, nil
	}
	c.conversationID = uuid.NewString()
	c.history = nil
	return c.conversationID, nil
}

// Connected implements agentconv.Provider.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID != ""
}

// SendMessage exchanges one turn with the deployment.
func (c *Client) SendMessage(ctx context.Context, text, speaker string, recentContext []string) (agentconv.Reply, error) {
	c.mu.Lock()
	if c.conversationID == "" {
		c.mu.Unlock()
		return agentconv.Reply{}, errors.New("azurefoundry: not connected")
	}
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(c.history)+2)
	messages = append(messages, oai.SystemMessage(c.systemPrompt))
	messages = append(messages, c.history...)
	c.mu.Unlock()

	userTurn := text
	if speaker != "" {
		userTurn = speaker + " asks: " + text
	}
	if len(recentContext) > 0 {
		ctxBlock := "Recent discussion:\n"
		for _, line := range recentContext {
			ctxBlock += line + "\n"
		}
		userTurn = ctxBlock + "\n" + userTurn
	}
	messages = append(messages, oai.UserMessage(userTurn))

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.deployment),
		Messages: messages,
	})
	if err != nil {
		return agentconv.Reply{}, fmt.Errorf("azurefoundry: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return agentconv.Reply{}, errors.New("azurefoundry: empty choices in response")
	}
	answer := resp.Choices[0].Message.Content

	c.mu.Lock()
	c.history = append(c.history, oai.UserMessage(userTurn), oai.AssistantMessage(answer))
	if len(c.history) > maxHistory {
		c.history = append([]oai.ChatCompletionMessageParamUnion(nil), c.history[len(c.history)-maxHistory:]...)
	}
	c.mu.Unlock()

	return agentconv.Reply{Text: answer}, nil
}

// Disconnect drops the local conversation.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.history = nil
	return nil
}
