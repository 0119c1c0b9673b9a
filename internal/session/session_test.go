// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiplay/internal/model"
	"aiplay/internal/store"
)

func newTestSession(t *testing.T) (*Session, *store.ConversationStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestStartsInChatMode(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, ModeChat, s.Mode())

	_, bound := s.ChatID()
	assert.False(t, bound)
	assert.Empty(t, s.Messages())
}

func TestSwitchMode(t *testing.T) {
	s, _ := newTestSession(t)

	require.NoError(t, s.SwitchMode(ModeImage))
	assert.Equal(t, ModeImage, s.Mode())

	require.NoError(t, s.SwitchMode(ModeChat))
	assert.Equal(t, ModeChat, s.Mode())
}

func TestSwitchToActiveModeReported(t *testing.T) {
	s, _ := newTestSession(t)

	err := s.SwitchMode(ModeChat)
	require.Error(t, err)

	var alreadyErr *AlreadyInModeError
	require.ErrorAs(t, err, &alreadyErr)
	assert.Equal(t, ModeChat, alreadyErr.Mode)

	// State unchanged after the report.
	assert.Equal(t, ModeChat, s.Mode())
}

func TestFirstTurnBindsChat(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUser(ctx, "hello"))

	id, bound := s.ChatID()
	assert.True(t, bound)
	assert.Greater(t, id, int64(0))

	require.NoError(t, s.AppendAssistant(ctx, "hi", nil))

	id2, _ := s.ChatID()
	assert.Equal(t, id, id2, "episode must stay in one chat")
}

func TestTurnsAlternateAndPersist(t *testing.T) {
	s, st := newTestSession(t)
	ctx := context.Background()

	const turns = 3
	for i := 0; i < turns; i++ {
		require.NoError(t, s.AppendUser(ctx, fmt.Sprintf("question %d", i)))
		require.NoError(t, s.AppendAssistant(ctx, fmt.Sprintf("answer %d", i), nil))
	}

	require.Len(t, s.Messages(), 2*turns)
	for i, msg := range s.Messages() {
		if i%2 == 0 {
			assert.Equal(t, model.RoleUser, msg.Role)
		} else {
			assert.Equal(t, model.RoleAssistant, msg.Role)
		}
	}

	id, _ := s.ChatID()
	persisted, err := st.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, persisted, 2*turns)
	for i, msg := range persisted {
		assert.Equal(t, s.Messages()[i].Content, msg.Content)
	}
}

func TestResetStartsNewEpisode(t *testing.T) {
	s, st := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUser(ctx, "first episode"))
	firstID, _ := s.ChatID()

	s.Reset()

	assert.Empty(t, s.Messages())
	_, bound := s.ChatID()
	assert.False(t, bound)

	require.NoError(t, s.AppendUser(ctx, "second episode"))
	secondID, _ := s.ChatID()
	assert.NotEqual(t, firstID, secondID)

	// Rows from the first episode survive the reset.
	old, err := st.Messages(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "first episode", old[0].Content)
}

func TestResetPreservesMode(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.SwitchMode(ModeImage))

	s.Reset()

	assert.Equal(t, ModeImage, s.Mode())
}

func TestDropLast(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUser(ctx, "kept"))
	require.NoError(t, s.AppendUser(ctx, "rolled back"))

	require.NoError(t, s.DropLast())
	require.Len(t, s.Messages(), 1)
	assert.Equal(t, "kept", s.Messages()[0].Content)

	require.NoError(t, s.DropLast())
	assert.Error(t, s.DropLast())
}

func TestEmptyAssistantReplyAccepted(t *testing.T) {
	s, st := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUser(ctx, "say nothing"))
	require.NoError(t, s.AppendAssistant(ctx, "", nil))

	id, _ := s.ChatID()
	persisted, err := st.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, "", persisted[1].Content)
}

func TestStoreFailureLeavesHistoryUnchanged(t *testing.T) {
	s, st := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.AppendUser(ctx, "before failure"))
	require.NoError(t, st.Close())

	err := s.AppendUser(ctx, "after close")
	require.Error(t, err)
	require.Len(t, s.Messages(), 1)
}
