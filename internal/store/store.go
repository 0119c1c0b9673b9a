// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists conversations to a local SQLite database.
//
// Every chat turn is written synchronously as it happens. The schema is
// two tables: chat rows anchor a conversation, message rows carry the
// ordered turns. Deleting a chat cascades to its messages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"aiplay/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrInvalidRole  = errors.New("invalid message role")
	ErrClosed       = errors.New("store is closed")
)

// StoreError provides context about a failed store operation.
type StoreError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *StoreError) Error() string {
	if e.ChatID != 0 {
		return fmt.Sprintf("store %s (chat %d): %v", e.Op, e.ChatID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS chat (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	usage      TEXT
);

CREATE INDEX IF NOT EXISTS idx_message_chat ON message(chat_id, id);
`

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore is a SQLite-backed store for chats and messages.
// It is safe for use from a single goroutine; the REPL owns it.
type ConversationStore struct {
	db     *sql.DB
	closed bool
}

// Open opens (creating if needed) the database at path and prepares the
// schema. The parent directory is created if missing.
func Open(path string) (*ConversationStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to create database directory: %w", err)}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to set pragma: %w", err)}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("failed to initialize schema: %w", err)}
	}

	return &ConversationStore{db: db}, nil
}

// Close releases the underlying database. Further calls return ErrClosed.
func (s *ConversationStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// CreateChat inserts a new chat row and returns it.
func (s *ConversationStore) CreateChat(ctx context.Context) (*model.Chat, error) {
	if s.closed {
		return nil, &StoreError{Op: "create chat", Err: ErrClosed}
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chat (created_at, updated_at) VALUES (?, ?)",
		now.Unix(), now.Unix())
	if err != nil {
		return nil, &StoreError{Op: "create chat", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, &StoreError{Op: "create chat", Err: err}
	}

	return &model.Chat{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

// AppendMessage persists one message under chatID and bumps the chat's
// updated_at. The returned message carries the assigned row ID.
func (s *ConversationStore) AppendMessage(ctx context.Context, chatID int64, msg model.Message) (*model.Message, error) {
	if s.closed {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: ErrClosed}
	}
	if !msg.Role.Valid() {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: ErrInvalidRole}
	}

	var usageBlob sql.NullString
	if msg.Usage != nil {
		blob, err := msg.Usage.Encode()
		if err != nil {
			return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
		}
		usageBlob = sql.NullString{String: blob, Valid: true}
	}

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
	}
	defer tx.Rollback()

	// Verify the chat exists so a bad ID fails loudly instead of
	// violating the foreign key.
	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM chat WHERE id = ?", chatID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: ErrChatNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO message (chat_id, role, content, created_at, usage) VALUES (?, ?, ?, ?, ?)",
		chatID, string(msg.Role), msg.Content, now.Unix(), usageBlob)
	if err != nil {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE chat SET updated_at = ? WHERE id = ?", now.Unix(), chatID); err != nil {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Op: "append message", ChatID: chatID, Err: err}
	}

	id, _ := res.LastInsertId()
	stored := msg
	stored.ID = id
	stored.ChatID = chatID
	stored.CreatedAt = now
	return &stored, nil
}

// Messages returns all messages for a chat in insertion order.
func (s *ConversationStore) Messages(ctx context.Context, chatID int64) ([]model.Message, error) {
	if s.closed {
		return nil, &StoreError{Op: "list messages", ChatID: chatID, Err: ErrClosed}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at, usage FROM message WHERE chat_id = ? ORDER BY id",
		chatID)
	if err != nil {
		return nil, &StoreError{Op: "list messages", ChatID: chatID, Err: err}
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg       model.Message
			role      string
			createdAt int64
			usageBlob sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &createdAt, &usageBlob); err != nil {
			return nil, &StoreError{Op: "list messages", ChatID: chatID, Err: err}
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		if usageBlob.Valid {
			usage, err := model.ParseUsage(usageBlob.String)
			if err != nil {
				return nil, &StoreError{Op: "list messages", ChatID: chatID, Err: err}
			}
			msg.Usage = usage
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list messages", ChatID: chatID, Err: err}
	}

	return messages, nil
}

// ListChats returns all chats ordered by most recently updated.
func (s *ConversationStore) ListChats(ctx context.Context) ([]model.Chat, error) {
	if s.closed {
		return nil, &StoreError{Op: "list chats", Err: ErrClosed}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, updated_at FROM chat ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, &StoreError{Op: "list chats", Err: err}
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var (
			chat      model.Chat
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&chat.ID, &createdAt, &updatedAt); err != nil {
			return nil, &StoreError{Op: "list chats", Err: err}
		}
		chat.CreatedAt = time.Unix(createdAt, 0)
		chat.UpdatedAt = time.Unix(updatedAt, 0)
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list chats", Err: err}
	}

	return chats, nil
}
