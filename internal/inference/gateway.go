package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"mcp-meal-lens/internal/config"
)

// GatewayInferencer calls create_completion on an MCP proxy gateway over
// JSON-RPC, the way the compose stack exposes OpenRouter.
type GatewayInferencer struct {
	httpClient  *http.Client
	proxyURL    string
	apiKey      string
	model       string
	maxTokens   int
	temperature *float64
	retry       *RetryHandler
}

func NewGatewayInferencer(cfg config.Model) *GatewayInferencer {
	return &GatewayInferencer{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		proxyURL:    strings.TrimRight(cfg.ProxyURL, "/"),
		apiKey:      cfg.ProxyAPIKey,
		model:       cfg.Name,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retry:       NewRetryHandler(RetryConfig{MaxRetries: cfg.MaxRetries}),
	}
}

// Model returns the configured model name.
func (g *GatewayInferencer) Model() string {
	return g.model
}

func (g *GatewayInferencer) Infer(ctx context.Context, prompt string, images []Image) (string, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": UserInstruction},
	}
	for _, img := range images {
		content = append(content, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]interface{}{"url": img.DataURL()},
		})
	}

	completionRequest := map[string]interface{}{
		"model":         g.model,
		"system_prompt": prompt,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": content,
			},
		},
		"max_tokens": g.maxTokens,
	}
	if g.temperature != nil {
		completionRequest["temperature"] = *g.temperature
	}

	var text string
	err := g.retry.Do(ctx, func() error {
		var callErr error
		text, callErr = g.callGateway(ctx, "create_completion", completionRequest)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to get AI completion: %w", err)
	}
	return unwrapCompletion(text), nil
}

func (g *GatewayInferencer) callGateway(ctx context.Context, toolName string, args interface{}) (string, error) {
	url := fmt.Sprintf("%s/openrouter-gateway", g.proxyURL)

	requestData := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      toolName,
			"arguments": args,
		},
	}

	jsonData, err := json.Marshal(requestData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("failed to decode response: invalid JSON")
	}

	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return "", fmt.Errorf("gateway error: %s", msg.String())
	}
	text := parsed.Get("result.content.0.text")
	if text.Type != gjson.String {
		return "", fmt.Errorf("unexpected response format")
	}
	return text.String(), nil
}

// unwrapCompletion returns the assistant text from a completion envelope
// ({"content": "..."}). Anything else is already the text.
func unwrapCompletion(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return text
	}
	if content := gjson.Get(trimmed, "content"); content.Type == gjson.String {
		return content.String()
	}
	return text
}
