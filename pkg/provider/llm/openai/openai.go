// Package openai provides a Completion backed directly by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parleyvoice/parley/pkg/provider/llm"
)

// Completion implements llm.Completion using the OpenAI API.
type Completion struct {
	client oai.Client
	model  string
}

var _ llm.Completion = (*Completion)(nil)

// config holds optional configuration for the Completion.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Completion.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs an OpenAI-backed Completion.
func New(apiKey string, model string, opts ...Option) (*Completion, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Completion{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Query implements llm.Completion.
func (c *Completion) Query(ctx context.Context, text string, opts llm.Options) (string, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, oai.UserMessage(text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Close implements llm.Completion. The client is a stateless HTTP client.
func (c *Completion) Close() error { return nil }
