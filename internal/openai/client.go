// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai provides the HTTP client for the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"aiplay/internal/model"
)

// Configuration constants for the OpenAI API.
const (
	// DefaultBaseURL is the base URL for the OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// maxResponseSize caps response bodies to prevent memory exhaustion.
	maxResponseSize = 32 * 1024 * 1024
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorType categorizes client errors.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeModel      ErrorType = "model"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeStream     ErrorType = "stream"
)

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenAI API key not configured")

	// ErrAuthFailed indicates authentication failed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the API rate limit was hit.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrStreamInterrupted indicates the stream ended before completion.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// ClientError provides context about a failed API call.
type ClientError struct {
	Type    ErrorType
	Status  int
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("openai %s error (status %d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("openai %s error: %s", e.Type, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CLIENT
// =============================================================================

// ClientConfig holds client construction options. Zero values are
// replaced with defaults.
type ClientConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Timeout applies to non-streaming requests.
	Timeout time.Duration
	// MaxRetries is the retry budget for transient errors.
	MaxRetries int
	// RequestsPerMinute throttles outgoing requests (0 = no throttle).
	RequestsPerMinute int
}

// Client talks to the OpenAI API.
type Client struct {
	apiKey     string
	baseURL    string
	maxRetries int
	limiter    *rate.Limiter

	httpClient *http.Client
	// Streaming requests have no client timeout, cancellation is
	// context-controlled.
	streamClient *http.Client
}

// NewClient creates a client from config, filling in defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		maxRetries:   cfg.MaxRetries,
		limiter:      limiter,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aiplay/0.1.0")
}

// =============================================================================
// CHAT COMPLETIONS
// =============================================================================

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessagesFrom converts stored messages to request messages.
func ChatMessagesFrom(messages []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model         string        `json:"model"`
	Messages      []ChatMessage `json:"messages"`
	Temperature   float64       `json:"temperature,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

// apiUsage mirrors the usage object in API responses.
type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *apiUsage) toModel() *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// StreamCallback receives each content delta as it arrives.
type StreamCallback func(token string)

// ChatResult is the outcome of a completed streaming exchange.
type ChatResult struct {
	// Content is the full accumulated assistant reply. May be empty.
	Content string
	// Usage is token accounting from the final chunk, if reported.
	Usage *model.Usage
	// Duration is wall time from request to final chunk.
	Duration time.Duration
	// FinishReason is the provider's stop reason.
	FinishReason string
}

// ChatStream performs a streaming chat completion, invoking callback
// for every content delta. The callback runs on the caller's goroutine.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) (*ChatResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req.Stream = true
	req.StreamOptions = &struct {
		IncludeUsage bool `json:"include_usage"`
	}{IncludeUsage: true}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeConnection, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return nil, c.handleErrorResponse(resp.StatusCode, respBody)
	}

	reader := NewStreamReader(resp.Body)
	if err := reader.Process(ctx, callback); err != nil {
		return nil, err
	}

	return &ChatResult{
		Content:      reader.Content(),
		Usage:        reader.Usage(),
		Duration:     time.Since(start),
		FinishReason: reader.FinishReason(),
	}, nil
}

// =============================================================================
// IMAGE GENERATION
// =============================================================================

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt string
	Model  string
	Size   string
	// Format selects the payload encoding: "b64_json" asks for a
	// base64 response, "png" asks for a PNG output file format.
	// Empty means b64_json.
	Format string
}

// ImageResult carries the decoded image bytes.
type ImageResult struct {
	// Data is the raw PNG bytes.
	Data []byte
	// RevisedPrompt is the provider's rewritten prompt, if any.
	RevisedPrompt string
	// Duration is wall time for the request.
	Duration time.Duration
}

type imageAPIRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format,omitempty"`
	OutputFormat   string `json:"output_format,omitempty"`
}

type imageAPIResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// GenerateImage requests one image and returns the decoded bytes.
// Transient failures are retried with exponential backoff.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	apiReq := imageAPIRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		N:      1,
		Size:   req.Size,
	}
	switch req.Format {
	case "png":
		// Image models that take an output format return base64
		// unconditionally and reject response_format.
		apiReq.OutputFormat = "png"
	default:
		apiReq.ResponseFormat = "b64_json"
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		result, err := c.doImageRequest(ctx, body)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doImageRequest(ctx context.Context, body []byte) (*ImageResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeConnection, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, respBody)
	}

	var apiResp imageAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, &ClientError{Type: ErrorTypeServer, Message: "response contained no images"}
	}

	data, err := base64.StdEncoding.DecodeString(apiResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}

	return &ImageResult{
		Data:          data,
		RevisedPrompt: apiResp.Data[0].RevisedPrompt,
	}, nil
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// handleErrorResponse converts HTTP error responses to typed errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	message := string(body)
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return &ClientError{Type: ErrorTypeAuth, Status: statusCode, Message: message, Cause: ErrAuthFailed}
	case http.StatusNotFound:
		return &ClientError{Type: ErrorTypeModel, Status: statusCode, Message: message, Cause: ErrModelNotFound}
	case http.StatusTooManyRequests:
		return &ClientError{Type: ErrorTypeRateLimit, Status: statusCode, Message: message, Cause: ErrRateLimited}
	default:
		return &ClientError{Type: ErrorTypeServer, Status: statusCode, Message: message}
	}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrorTypeServer && clientErr.Status >= 500
	}
	return false
}

// calculateBackoff returns the delay before the next retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
