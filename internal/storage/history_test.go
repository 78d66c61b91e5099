// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollachat/internal/model"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// recordConversation plays one exchange through a Conversation with the store hooked in.
func recordConversation(t *testing.T, store *HistoryStore, prompt, answer string) *model.Conversation {
	t.Helper()
	conv := model.NewConversation()
	conv.OnFinalize(store.Hook(func() string { return "llama3:8b" }))

	_, err := conv.AppendUserTurn(prompt)
	require.NoError(t, err)
	turn, err := conv.BeginAssistantTurn()
	require.NoError(t, err)
	require.NoError(t, conv.ApplyDelta(turn.ID, model.ChannelReasoning, "thinking"))
	require.NoError(t, conv.ApplyDelta(turn.ID, model.ChannelAnswer, answer))
	_, err = conv.FinalizeTurn(turn.ID, model.Completed())
	require.NoError(t, err)
	return conv
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "history.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, path, store.Path())
	assert.FileExists(t, path)

	var version string
	require.NoError(t, store.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "1", version)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", nil)
	require.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	conv := recordConversation(t, store, "hello", "hi")
	require.NoError(t, store.Close())

	store, err = Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	_, turns, err := store.Load(context.Background(), conv.ID())
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestHook_PersistsFinalizedTurns(t *testing.T) {
	store := openTestStore(t)
	conv := recordConversation(t, store, "What is\nGo?", "A language.")

	meta, turns, err := store.Load(context.Background(), conv.ID())
	require.NoError(t, err)

	assert.Equal(t, conv.ID(), meta.ID)
	assert.Equal(t, "llama3:8b", meta.Model)
	assert.Equal(t, "What is Go?", meta.Preview)
	assert.Equal(t, 2, meta.TurnCount)

	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "What is\nGo?", turns[0].Text)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, "A language.", turns[1].Text)
	assert.Equal(t, "thinking", turns[1].ReasoningText)
	assert.True(t, turns[1].IsFinal)
	assert.False(t, turns[1].Failed)
	assert.False(t, turns[1].FinalizedAt.IsZero())

	want := conv.Turns()
	for i := range turns {
		assert.Equal(t, want[i].ID, turns[i].ID)
		assert.Equal(t, want[i].CreatedAt.UnixMilli(), turns[i].CreatedAt.UnixMilli())
	}
}

func TestHook_PersistsFailedTurn(t *testing.T) {
	store := openTestStore(t)
	conv := model.NewConversation()
	conv.OnFinalize(store.Hook(nil))

	_, err := conv.AppendUserTurn("tell me")
	require.NoError(t, err)
	turn, err := conv.BeginAssistantTurn()
	require.NoError(t, err)
	require.NoError(t, conv.ApplyDelta(turn.ID, model.ChannelAnswer, "partial"))
	_, err = conv.FinalizeTurn(turn.ID, model.Failed(errors.New("stream interrupted")))
	require.NoError(t, err)

	_, turns, err := store.Load(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Failed)
	assert.Equal(t, model.FailedTurnText, turns[1].Text)
	assert.Equal(t, "partial", turns[1].PartialText)
	assert.Contains(t, turns[1].FailureReason, "stream interrupted")
}

func TestAppendTurn_Images(t *testing.T) {
	store := openTestStore(t)
	conv := model.NewConversation()
	conv.OnFinalize(store.Hook(nil))

	_, err := conv.AppendUserTurn("describe", []byte{0x89, 0x50}, []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)

	_, turns, err := store.Load(context.Background(), conv.ID())
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, [][]byte{{0x89, 0x50}, {0xff, 0xd8, 0xff}}, turns[0].Images)
}

func TestAppendTurn_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	turn := model.Turn{ID: "t1", Role: model.RoleUser, Text: "once", IsFinal: true, CreatedAt: time.Now()}

	require.NoError(t, store.AppendTurn(ctx, "c1", "", turn))
	require.NoError(t, store.AppendTurn(ctx, "c1", "", turn))

	_, turns, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestAppendTurn_Rejects(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.AppendTurn(ctx, "", "", model.Turn{ID: "t1", IsFinal: true})
	assert.Error(t, err)

	err = store.AppendTurn(ctx, "c1", "", model.Turn{ID: "t1", Role: model.RoleAssistant})
	assert.Error(t, err)

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestAppendTurn_KeepsModelWhenEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AppendTurn(ctx, "c1", "qwen3:4b", model.Turn{ID: "t1", Role: model.RoleUser, Text: "a", IsFinal: true, CreatedAt: now}))
	require.NoError(t, store.AppendTurn(ctx, "c1", "", model.Turn{ID: "t2", Role: model.RoleUser, Text: "b", IsFinal: true, CreatedAt: now}))

	meta, _, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "qwen3:4b", meta.Model)
	assert.Equal(t, "a", meta.Preview)
}

func TestList_OrderAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, prompt := range []string{"first", "second", "third"} {
		ids = append(ids, recordConversation(t, store, prompt, "ok").ID())
		time.Sleep(5 * time.Millisecond)
	}

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, ids[2], metas[0].ID)
	assert.Equal(t, "third", metas[0].Preview)
	assert.Equal(t, ids[0], metas[2].ID)

	metas, err = store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestResolve_Prefix(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"abc111", "abc222", "xyz_%"} {
		require.NoError(t, store.AppendTurn(ctx, id, "", model.Turn{
			ID: "t" + id, Role: model.RoleUser, Text: "p", IsFinal: true, CreatedAt: now.Add(time.Duration(i)),
		}))
	}

	id, err := store.Resolve(ctx, "abc1")
	require.NoError(t, err)
	assert.Equal(t, "abc111", id)

	id, err = store.Resolve(ctx, "abc111")
	require.NoError(t, err)
	assert.Equal(t, "abc111", id)

	_, err = store.Resolve(ctx, "abc")
	assert.ErrorIs(t, err, ErrAmbiguousID)

	_, err = store.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	// LIKE wildcards in the prefix match literally
	_, err = store.Resolve(ctx, "%")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	id, err = store.Resolve(ctx, "xyz_")
	require.NoError(t, err)
	assert.Equal(t, "xyz_%", id)

	_, err = store.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	conv := recordConversation(t, store, "bye", "ok")

	require.NoError(t, store.Delete(ctx, conv.ID()))

	_, _, err := store.Load(ctx, conv.ID())
	assert.ErrorIs(t, err, ErrConversationNotFound)

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n))
	assert.Zero(t, n, "turns should cascade")

	err = store.Delete(ctx, conv.ID())
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRestore_FromHistory(t *testing.T) {
	store := openTestStore(t)
	orig := recordConversation(t, store, "question", "answer")

	_, turns, err := store.Load(context.Background(), orig.ID())
	require.NoError(t, err)

	resumed := model.NewConversationWithID(orig.ID())
	resumed.Restore(turns)

	msgs := resumed.BuildWireMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestHook_Concurrent(t *testing.T) {
	store := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv := model.NewConversation()
			conv.OnFinalize(store.Hook(nil))
			for j := 0; j < 5; j++ {
				_, err := conv.AppendUserTurn("msg")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	metas, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, metas, 8)
	for _, m := range metas {
		assert.Equal(t, 5, m.TurnCount)
	}
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "No conversations found.", FormatList(nil))

	out := FormatList([]ConversationMeta{{
		ID:        "0123456789abcdef",
		Model:     "llama3:8b",
		Preview:   "hello there",
		UpdatedAt: time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC),
		TurnCount: 4,
	}})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "01234567 "))
	assert.NotContains(t, lines[1], "0123456789")
	assert.Contains(t, lines[1], "2025-03-04 05:06")
	assert.Contains(t, lines[1], "llama3:8b")
	assert.Contains(t, lines[1], "hello there")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "12345678", ShortID("123456789"))
}
