package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/kv/kvtest"
	"github.com/mindwell-ai/conductor/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(kvtest.New(), 180*time.Second, 60*time.Second, logger.New(logger.Config{Level: slog.LevelError}))
	t.Cleanup(s.Close)
	return s
}

func testState(rounds int) State {
	return State{
		ConversationID:     "conv-1",
		AssistantMessageID: "msg-1",
		UserID:             "user-1",
		CompletedRounds:    rounds,
		MaxRounds:          5,
		SessionState:       json.RawMessage(`{"history":[]}`),
		UserQuery:          "compare the options",
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testState(2), SaveOptions{}))

	loaded, err := s.Load(ctx, "conv-1", "msg-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CompletedRounds)
	assert.Equal(t, 5, loaded.MaxRounds)
	assert.Equal(t, "compare the options", loaded.UserQuery)
	assert.Equal(t, "user-1", loaded.UserID)
	assert.JSONEq(t, `{"history":[]}`, string(loaded.SessionState))
	assert.Equal(t, stateVersion, loaded.Version)
}

func TestLoadMissingSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "conv-x", "msg-x", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsStaleRound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testState(3), SaveOptions{}))

	err := s.Save(ctx, testState(2), SaveOptions{})
	assert.ErrorIs(t, err, ErrStaleRound)

	loaded, err := s.Load(ctx, "conv-1", "msg-1", false)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.CompletedRounds)
}

func TestSaveSameRoundOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testState(2)
	require.NoError(t, s.Save(ctx, first, SaveOptions{}))

	second := testState(2)
	second.UserQuery = "updated query"
	require.NoError(t, s.Save(ctx, second, SaveOptions{}))

	loaded, err := s.Load(ctx, "conv-1", "msg-1", false)
	require.NoError(t, err)
	assert.Equal(t, "updated query", loaded.UserQuery)
}

func TestDynamicTTL(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, 180*time.Second+5*60*time.Second, s.DynamicTTL(5, 0))
	assert.Equal(t, 180*time.Second+2*60*time.Second, s.DynamicTTL(5, 3))
	assert.Equal(t, 180*time.Second, s.DynamicTTL(5, 5))
	// Overshoot clamps to the base.
	assert.Equal(t, 180*time.Second, s.DynamicTTL(5, 7))
}

func TestDeleteRemovesCheckpointAndIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testState(1), SaveOptions{}))
	require.NoError(t, s.Delete(ctx, "conv-1", "msg-1", "user-1"))

	_, err := s.Load(ctx, "conv-1", "msg-1", false)
	assert.ErrorIs(t, err, ErrNotFound)

	unfinished, err := s.FindUnfinished(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestFindUnfinishedSkipsFinishedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := testState(2)
	require.NoError(t, s.Save(ctx, open, SaveOptions{}))

	done := testState(5)
	done.ConversationID = "conv-2"
	done.AssistantMessageID = "msg-2"
	require.NoError(t, s.Save(ctx, done, SaveOptions{}))

	unfinished, err := s.FindUnfinished(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "conv-1", unfinished[0].ConversationID)
}

func TestAsyncSaveIsEventuallyVisible(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testState(1), SaveOptions{Async: true}))

	var loaded *State
	var err error
	for i := 0; i < 100; i++ {
		loaded, err = s.Load(ctx, "conv-1", "msg-1", false)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CompletedRounds)
}

func TestSplitMember(t *testing.T) {
	conv, msg, ok := splitMember("conv-1:msg-1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", conv)
	assert.Equal(t, "msg-1", msg)

	_, _, ok = splitMember("no-separator")
	assert.False(t, ok)

	_, _, ok = splitMember("trailing:")
	assert.False(t, ok)
}

func TestSavedCallbackCountsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var saves int
	s.SetSavedCallback(func() { saves++ })

	require.NoError(t, s.Save(ctx, testState(1), SaveOptions{}))
	require.NoError(t, s.Save(ctx, testState(2), SaveOptions{}))
	assert.Equal(t, 2, saves)
}
