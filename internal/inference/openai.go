package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"mcp-meal-lens/internal/config"
	"mcp-meal-lens/internal/logger"
)

// OpenAIInferencer talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, the Hugging Face router) through openai-go.
type OpenAIInferencer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature *float64
	retry       *RetryHandler
}

// OpenAIOption configures optional behaviour.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	httpClient *http.Client
	retry      *RetryHandler
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(o *openAIOptions) {
		o.httpClient = client
	}
}

// WithRetryHandler injects a custom retry handler.
func WithRetryHandler(handler *RetryHandler) OpenAIOption {
	return func(o *openAIOptions) {
		o.retry = handler
	}
}

func NewOpenAIInferencer(cfg config.Model, opts ...OpenAIOption) (*OpenAIInferencer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("inference: base url is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("inference: model name is required")
	}

	var o openAIOptions
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		// Retries are owned by RetryHandler.
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	client := openai.NewClient(reqOpts...)

	retry := o.retry
	if retry == nil {
		retry = NewRetryHandler(RetryConfig{MaxRetries: cfg.MaxRetries})
	}

	return &OpenAIInferencer{
		client:      &client,
		model:       cfg.Name,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retry:       retry,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAIInferencer) Model() string {
	return o.model
}

func (o *OpenAIInferencer) Infer(ctx context.Context, prompt string, images []Image) (string, error) {
	params := o.buildParams(prompt, images)

	start := time.Now()
	var completion *openai.ChatCompletion
	err := o.retry.Do(ctx, func() error {
		resp, callErr := o.client.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		completion = resp
		return nil
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion failed with status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	text := completion.Choices[0].Message.Content
	logger.Info("model call complete",
		zap.String("model", o.model),
		zap.Int("images", len(images)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens))
	return text, nil
}

func (o *OpenAIInferencer) buildParams(prompt string, images []Image) openai.ChatCompletionNewParams {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	parts = append(parts, openai.TextContentPart(UserInstruction))
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: img.DataURL(),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(parts),
		},
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}
	if o.temperature != nil {
		params.Temperature = openai.Float(*o.temperature)
	}
	return params
}
