// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks the state of one interactive run: the active
// mode, the persisted chat binding, and the in-memory message history.
//
// A session binds to a chat row lazily. The first persisted turn after
// startup or after a clear creates a fresh chat, and every later turn
// in that episode lands in the same chat. Image mode never touches the
// store, generated images live only on disk.
package session

import (
	"context"
	"errors"
	"fmt"

	"aiplay/internal/model"
	"aiplay/internal/store"
)

// =============================================================================
// MODES
// =============================================================================

// Mode selects which collaborator handles free-form input.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeImage Mode = "image"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeChat || m == ModeImage
}

// AlreadyInModeError reports a transition into the current mode.
type AlreadyInModeError struct {
	Mode Mode
}

func (e *AlreadyInModeError) Error() string {
	return fmt.Sprintf("already in %s mode", e.Mode)
}

var errNoMessages = errors.New("no messages to drop")

// =============================================================================
// SESSION
// =============================================================================

// Session is the per-run conversation state. Not safe for concurrent
// use; the REPL owns it.
type Session struct {
	store    *store.ConversationStore
	mode     Mode
	chatID   int64 // 0 = not yet bound to a chat row
	messages []model.Message
}

// New creates a session starting in chat mode.
func New(s *store.ConversationStore) *Session {
	return &Session{
		store: s,
		mode:  ModeChat,
	}
}

// Mode returns the active mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// ChatID returns the bound chat row ID and whether one is bound.
func (s *Session) ChatID() (int64, bool) {
	return s.chatID, s.chatID != 0
}

// Messages returns the in-memory history in order.
func (s *Session) Messages() []model.Message {
	return s.messages
}

// SwitchMode transitions to the given mode. Switching to the mode
// already active is reported rather than silently ignored.
func (s *Session) SwitchMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if s.mode == mode {
		return &AlreadyInModeError{Mode: mode}
	}
	s.mode = mode
	return nil
}

// Reset clears the in-memory history and unbinds the chat. Persisted
// rows are untouched; the next persisted turn starts a new chat.
func (s *Session) Reset() {
	s.messages = nil
	s.chatID = 0
}

// ensureChat binds the session to a chat row, creating one if this is
// the first persisted turn of the episode.
func (s *Session) ensureChat(ctx context.Context) error {
	if s.chatID != 0 {
		return nil
	}
	chat, err := s.store.CreateChat(ctx)
	if err != nil {
		return err
	}
	s.chatID = chat.ID
	return nil
}

// AppendUser persists a user message and adds it to the history.
// The store write happens first; on failure the history is unchanged.
func (s *Session) AppendUser(ctx context.Context, content string) error {
	if err := s.ensureChat(ctx); err != nil {
		return err
	}
	stored, err := s.store.AppendMessage(ctx, s.chatID, model.NewUserMessage(content))
	if err != nil {
		return err
	}
	s.messages = append(s.messages, *stored)
	return nil
}

// AppendAssistant persists an assistant message and adds it to the
// history. Empty content is a valid reply and is persisted as-is.
func (s *Session) AppendAssistant(ctx context.Context, content string, usage *model.Usage) error {
	if err := s.ensureChat(ctx); err != nil {
		return err
	}
	stored, err := s.store.AppendMessage(ctx, s.chatID, model.NewAssistantMessage(content, usage))
	if err != nil {
		return err
	}
	s.messages = append(s.messages, *stored)
	return nil
}

// DropLast removes the most recent in-memory message. Used to roll
// back a turn after the collaborator fails mid-exchange.
func (s *Session) DropLast() error {
	if len(s.messages) == 0 {
		return errNoMessages
	}
	s.messages = s.messages[:len(s.messages)-1]
	return nil
}
