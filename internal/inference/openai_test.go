package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcp-meal-lens/internal/config"
)

const completionBody = `{
	"id":"chatcmpl-1",
	"object":"chat.completion",
	"created":1730366400,
	"model":"google/gemma-3n-E2B-it",
	"choices":[
		{
			"index":0,
			"finish_reason":"stop",
			"logprobs":null,
			"message":{"role":"assistant","content":"` + "```json\\n{\\\"meal_title\\\":\\\"Toast\\\"}\\n```" + `"}
		}
	],
	"usage":{"prompt_tokens":10,"completion_tokens":12,"total_tokens":22}
}`

func testModelConfig(baseURL string) config.Model {
	temp := 0.2
	return config.Model{
		Provider:    config.ProviderOpenAI,
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Name:        "google/gemma-3n-E2B-it",
		MaxTokens:   2000,
		Temperature: &temp,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
	}
}

func TestOpenAIInferencerInfer(t *testing.T) {
	var (
		mu       sync.Mutex
		lastBody []byte
		lastPath string
		lastAuth string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		lastPath = r.URL.Path
		lastAuth = r.Header.Get("Authorization")
		lastBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer server.Close()

	inf, err := NewOpenAIInferencer(testModelConfig(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	require.Equal(t, "google/gemma-3n-E2B-it", inf.Model())

	img, err := NewImage("dinner.png", pngBytes)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := inf.Infer(ctx, "SYSTEM PROMPT", []Image{img})
	require.NoError(t, err)
	require.Equal(t, "```json\n{\"meal_title\":\"Toast\"}\n```", text)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/chat/completions", lastPath)
	require.Equal(t, "Bearer test-key", lastAuth)

	var payload struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(lastBody, &payload))
	require.Equal(t, "google/gemma-3n-E2B-it", payload.Model)
	require.Equal(t, 2000, payload.MaxTokens)
	require.InDelta(t, 0.2, payload.Temperature, 0.0001)
	require.Len(t, payload.Messages, 2)
	require.Equal(t, "system", payload.Messages[0].Role)
	require.Equal(t, `"SYSTEM PROMPT"`, string(payload.Messages[0].Content))

	require.Equal(t, "user", payload.Messages[1].Role)
	var parts []map[string]any
	require.NoError(t, json.Unmarshal(payload.Messages[1].Content, &parts))
	require.Len(t, parts, 2)
	require.Equal(t, "text", parts[0]["type"])
	require.Equal(t, UserInstruction, parts[0]["text"])
	require.Equal(t, "image_url", parts[1]["type"])
	imageURL := parts[1]["image_url"].(map[string]any)
	require.Equal(t, img.DataURL(), imageURL["url"])
}

func TestOpenAIInferencerRetries(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"warming up"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	defer server.Close()

	inf, err := NewOpenAIInferencer(testModelConfig(server.URL),
		WithHTTPClient(server.Client()),
		WithRetryHandler(NewRetryHandler(RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})))
	require.NoError(t, err)

	_, err = inf.Infer(context.Background(), "p", nil)
	require.NoError(t, err)
	mu.Lock()
	require.Equal(t, 2, calls)
	mu.Unlock()
}

func TestOpenAIInferencerClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	inf, err := NewOpenAIInferencer(testModelConfig(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = inf.Infer(context.Background(), "p", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
}
