package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
)

// Client is the chat-completions backed analysis generator.
type Client struct {
	api   *openai.Client
	model string
	log   *zap.Logger
}

func NewClient(apiKey, baseURL, model string, log *zap.Logger) *Client {
	cfg := openai.DefaultConfig(sanitizeEnv(apiKey))
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, log: log}
}

// Generate sends one JSON-mode completion and returns the message text.
func (c *Client) Generate(ctx context.Context, req analysis.Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.log.Warn("openai api error", zap.String("kind", string(req.Kind)), zap.Int("status", apiErr.HTTPStatusCode), zap.String("message", apiErr.Message))
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	c.log.Debug("openai completion",
		zap.String("kind", string(req.Kind)),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

// sanitizeEnv strips surrounding whitespace and one pair of matching quotes,
// as left behind by some .env editors.
func sanitizeEnv(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
