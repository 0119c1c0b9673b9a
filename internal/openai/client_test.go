// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		APIKey:     "sk-test",
		BaseURL:    url,
		MaxRetries: 1,
	})
}

func TestChatStreamAccumulatesContent(t *testing.T) {
	events := []string{
		`data: {"choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			w.Write([]byte(e + "\n\n"))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	var tokens []string
	result, err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(token string) {
		tokens = append(tokens, token)
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "stop", result.FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 7, result.Usage.TotalTokens)
}

func TestChatStreamEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).ChatStream(context.Background(), ChatRequest{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.Content)
}

func TestChatStreamTruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"partial"},"finish_reason":null}]}` + "\n\n"))
		// Connection drops without the done marker.
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ChatStream(context.Background(), ChatRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamInterrupted))
}

func TestChatStreamAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ChatStream(context.Background(), ChatRequest{Model: "m"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.Contains(t, err.Error(), "Incorrect API key")
}

func TestChatStreamNotConfigured(t *testing.T) {
	client := NewClient(ClientConfig{})
	_, err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestGenerateImage(t *testing.T) {
	pngBytes := []byte("\x89PNG fake image data")
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		w.Write([]byte(`{"data":[{"b64_json":"` + encoded + `","revised_prompt":"a detailed cat"}]}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).GenerateImage(context.Background(), ImageRequest{
		Prompt: "a cat",
		Model:  "dall-e-3",
		Size:   "1024x1024",
	})

	require.NoError(t, err)
	assert.Equal(t, pngBytes, result.Data)
	assert.Equal(t, "a detailed cat", result.RevisedPrompt)
}

func TestGenerateImageFormatSelection(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("img"))

	tests := []struct {
		name               string
		format             string
		wantResponseFormat string
		wantOutputFormat   string
	}{
		{"default", "", "b64_json", ""},
		{"b64_json", "b64_json", "b64_json", ""},
		{"png", "png", "", "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got imageAPIRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.Write([]byte(`{"data":[{"b64_json":"` + encoded + `"}]}`))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).GenerateImage(context.Background(), ImageRequest{
				Prompt: "p",
				Model:  "m",
				Size:   "1024x1024",
				Format: tt.format,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantResponseFormat, got.ResponseFormat)
			assert.Equal(t, tt.wantOutputFormat, got.OutputFormat)
		})
	}
}

func TestGenerateImageRetriesServerErrors(t *testing.T) {
	attempts := 0
	encoded := base64.StdEncoding.EncodeToString([]byte("img"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[{"b64_json":"` + encoded + `"}]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "sk-test", BaseURL: server.URL, MaxRetries: 3})
	result, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "p", Model: "m", Size: "512x512"})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []byte("img"), result.Data)
}

func TestGenerateImageRateLimitMapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{APIKey: "sk-test", BaseURL: server.URL, MaxRetries: 2})
	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "p", Model: "m", Size: "512x512"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestStreamReaderIgnoresMalformedEvents(t *testing.T) {
	input := strings.Join([]string{
		"data: not json",
		`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":null}]}`,
		": comment line",
		"data: [DONE]",
		"",
	}, "\n")

	reader := NewStreamReader(strings.NewReader(input))
	err := reader.Process(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", reader.Content())
}
