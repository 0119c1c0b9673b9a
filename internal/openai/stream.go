// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"aiplay/internal/model"
)

// =============================================================================
// STREAM READER
// =============================================================================

// doneMarker terminates a server-sent event stream.
const doneMarker = "[DONE]"

// StreamReader parses server-sent events from a chat completion stream.
// Content deltas accumulate internally so the full reply is available
// when the stream finishes.
type StreamReader struct {
	reader *bufio.Reader
	// strings.Builder avoids quadratic allocations while accumulating
	accumulator  strings.Builder
	usage        *model.Usage
	finishReason string
	sawDone      bool
	firstToken   bool
	firstTokenAt time.Time
	startTime    time.Time
}

// NewStreamReader creates a stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		reader:     bufio.NewReader(r),
		firstToken: true,
		startTime:  time.Now(),
	}
}

// streamChunk mirrors one chat completion stream event.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage"`
}

// Process reads the stream and invokes callback for each content delta.
// Blocks until the stream completes or the context is cancelled.
// A stream that ends without the done marker returns ErrStreamInterrupted.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if stop := s.handleLine(line, callback); stop {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				if s.sawDone {
					return nil
				}
				return ErrStreamInterrupted
			}
			return &ClientError{Type: ErrorTypeStream, Message: "failed to read stream", Cause: err}
		}
	}
}

// handleLine parses one SSE line. Returns true when the stream is done.
func (s *StreamReader) handleLine(line []byte, callback StreamCallback) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	// Only data fields matter, other SSE fields are ignored.
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return false
	}
	data = bytes.TrimSpace(data)

	if string(data) == doneMarker {
		s.sawDone = true
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		// Skip malformed events
		return false
	}

	if chunk.Usage != nil {
		s.usage = chunk.Usage.toModel()
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finishReason = *choice.FinishReason
		}
		content := choice.Delta.Content
		if content == "" {
			continue
		}
		if s.firstToken {
			s.firstToken = false
			s.firstTokenAt = time.Now()
		}
		s.accumulator.WriteString(content)
		if callback != nil {
			callback(content)
		}
	}
	return false
}

// Content returns the accumulated assistant reply so far.
func (s *StreamReader) Content() string {
	return s.accumulator.String()
}

// Usage returns token accounting from the final chunk, or nil.
func (s *StreamReader) Usage() *model.Usage {
	return s.usage
}

// FinishReason returns the provider's stop reason, or empty.
func (s *StreamReader) FinishReason() string {
	return s.finishReason
}

// TimeToFirstToken returns the latency before the first content delta.
// Zero if no content arrived.
func (s *StreamReader) TimeToFirstToken() time.Duration {
	if s.firstTokenAt.IsZero() {
		return 0
	}
	return s.firstTokenAt.Sub(s.startTime)
}
