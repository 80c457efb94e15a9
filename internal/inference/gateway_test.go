package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcp-meal-lens/internal/config"
)

func gatewayConfig(url string) config.Model {
	return config.Model{
		Provider:    config.ProviderGateway,
		ProxyURL:    url,
		ProxyAPIKey: "proxy-key",
		Name:        "anthropic/claude-3.5-sonnet",
		MaxTokens:   2000,
		Timeout:     5 * time.Second,
	}
}

func TestGatewayInferencerInfer(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openrouter-gateway", r.URL.Path)
		require.Equal(t, "Bearer proxy-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		completion, _ := json.Marshal(map[string]string{"content": "the summary"})
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"content": []map[string]any{{"type": "text", "text": string(completion)}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	inf := NewGatewayInferencer(gatewayConfig(server.URL))
	img, err := NewImage("a.jpg", jpegBytes)
	require.NoError(t, err)

	text, err := inf.Infer(context.Background(), "SYSTEM", []Image{img})
	require.NoError(t, err)
	require.Equal(t, "the summary", text)

	require.Equal(t, "tools/call", got["method"])
	params := got["params"].(map[string]any)
	require.Equal(t, "create_completion", params["name"])
	args := params["arguments"].(map[string]any)
	require.Equal(t, "SYSTEM", args["system_prompt"])
	require.Equal(t, "anthropic/claude-3.5-sonnet", args["model"])
	msgs := args["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	require.Equal(t, UserInstruction, content[0].(map[string]any)["text"])
}

func TestGatewayInferencerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http error", http.StatusBadRequest, "nope", "status"},
		{"rpc error", http.StatusOK, `{"error":{"code":-32000,"message":"no credits"}}`, "no credits"},
		{"missing text", http.StatusOK, `{"result":{"content":[]}}`, "unexpected response format"},
		{"not json", http.StatusOK, `<html>`, "invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewGatewayInferencer(gatewayConfig(server.URL)).Infer(context.Background(), "p", nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestUnwrapCompletion(t *testing.T) {
	require.Equal(t, "hi", unwrapCompletion(`{"content":"hi"}`))
	require.Equal(t, "plain text", unwrapCompletion("plain text"))
	require.Equal(t, `{"other":1}`, unwrapCompletion(`{"other":1}`))
	require.Equal(t, "```json\n{}\n```", unwrapCompletion("```json\n{}\n```"))
}
