package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell-ai/conductor/internal/logger"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(ttl, logger.New(logger.Config{Level: slog.LevelError}))
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAddChunkAndAssemble(t *testing.T) {
	m := newTestManager(time.Minute)

	n, err := m.AddChunk("sess-1", 0, 3, b64("hello "))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Out-of-order delivery is fine; chunks are joined by index.
	n, err = m.AddChunk("sess-1", 2, 3, b64("world"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.AddChunk("sess-1", 1, 3, b64("there "))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	text, err := m.Assemble("sess-1", false)
	require.NoError(t, err)
	assert.Equal(t, "hello there world", text)

	// Assemble consumes the session.
	_, err = m.Assemble("sess-1", false)
	assert.Error(t, err)
}

func TestAssembleGzip(t *testing.T) {
	m := newTestManager(time.Minute)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("compressed payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = m.AddChunk("sess-1", 0, 1, base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)

	text, err := m.Assemble("sess-1", true)
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", text)
}

func TestAssembleIncompleteSession(t *testing.T) {
	m := newTestManager(time.Minute)

	_, err := m.AddChunk("sess-1", 0, 2, b64("half"))
	require.NoError(t, err)

	_, err = m.Assemble("sess-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestAddChunkValidation(t *testing.T) {
	m := newTestManager(time.Minute)

	_, err := m.AddChunk("", 0, 1, b64("x"))
	assert.Error(t, err)

	_, err = m.AddChunk("sess-1", 1, 1, b64("x"))
	assert.Error(t, err)

	_, err = m.AddChunk("sess-1", -1, 2, b64("x"))
	assert.Error(t, err)

	_, err = m.AddChunk("sess-1", 0, 1, "not base64!!!")
	assert.Error(t, err)
}

func TestAddChunkCountMismatch(t *testing.T) {
	m := newTestManager(time.Minute)

	_, err := m.AddChunk("sess-1", 0, 3, b64("a"))
	require.NoError(t, err)

	_, err = m.AddChunk("sess-1", 1, 4, b64("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestExpiredSessionsEvicted(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)

	_, err := m.AddChunk("sess-old", 0, 1, b64("stale"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Any AddChunk call sweeps expired sessions.
	_, err = m.AddChunk("sess-new", 0, 1, b64("fresh"))
	require.NoError(t, err)

	_, err = m.Assemble("sess-old", false)
	assert.Error(t, err)
}
