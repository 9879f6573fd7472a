package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient calls an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	api          *openai.Client
	defaultModel string
}

// NewOpenAIClient creates a client for the given API key and default model.
// baseURL may be empty for the public endpoint.
func NewOpenAIClient(apiKey, baseURL, defaultModel string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		api:          openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

var _ Client = (*OpenAIClient)(nil)

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }

// classifyAPIError maps transport errors onto the gateway's failure kinds.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	// Connection-level failures arrive as plain errors.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
