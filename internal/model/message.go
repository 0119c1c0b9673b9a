// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the core data structures for conversations.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Usage captures token accounting reported by the provider for a
// completed exchange. It is stored alongside the assistant message.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Encode serializes usage for the message row. The column is an
// opaque blob as far as the store is concerned.
func (u *Usage) Encode() (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("failed to marshal usage: %w", err)
	}
	return string(data), nil
}

// ParseUsage decodes a usage blob previously produced by MarshalText.
// An empty string yields a nil usage.
func ParseUsage(s string) (*Usage, error) {
	if s == "" {
		return nil, nil
	}
	var u Usage
	if err := json.Unmarshal([]byte(s), &u); err != nil {
		return nil, fmt.Errorf("failed to parse usage: %w", err)
	}
	return &u, nil
}

// Message is a single turn in a conversation. ID and ChatID are zero
// until the message has been persisted.
type Message struct {
	ID        int64
	ChatID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
	Usage     *Usage
}

// NewUserMessage creates a message with the user role.
func NewUserMessage(content string) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates a message with the assistant role.
func NewAssistantMessage(content string, usage *Usage) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now(),
		Usage:     usage,
	}
}

// Chat is a persisted conversation container. Messages are stored
// separately and ordered by insertion.
type Chat struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
