// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai provides the HTTP client for the OpenAI API.
//
// # Operations
//
// Chat completions stream over server-sent events. Content deltas are
// delivered to a callback as they arrive and the accumulated reply,
// token usage and stop reason are returned when the stream finishes:
//
//	result, err := client.ChatStream(ctx, req, func(token string) {
//	    fmt.Print(token)
//	})
//
// Image generation returns decoded PNG bytes from a single request:
//
//	img, err := client.GenerateImage(ctx, openai.ImageRequest{
//	    Prompt: "a watercolor fox",
//	    Model:  "dall-e-3",
//	    Size:   "1024x1024",
//	})
//
// # Error Handling
//
// API failures map to *ClientError values that wrap sentinel errors
// (ErrAuthFailed, ErrRateLimited, ErrModelNotFound) so callers can
// branch with errors.Is. Transient failures retry with exponential
// backoff; a client-side rate limiter smooths request bursts.
package openai
