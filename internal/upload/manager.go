package upload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
)

// maxAssembledBytes caps a fully assembled upload.
const maxAssembledBytes = 8 << 20

// session accumulates the chunks of one large payload.
type session struct {
	chunks    map[int][]byte
	total     int
	createdAt time.Time
}

// Manager assembles chunked uploads in memory. Sessions expire after ttl
// so abandoned uploads don't accumulate.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	log      *logger.Logger
}

// NewManager creates an upload manager with the given session TTL
// (default 5 minutes).
func NewManager(ttl time.Duration, log *logger.Logger) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		sessions: make(map[string]*session),
		ttl:      ttl,
		log:      log.WithComponent("upload"),
	}
}

// AddChunk stores one base64-encoded chunk. totalChunks must agree across
// all chunks of a session. Returns the number of chunks received so far.
func (m *Manager) AddChunk(sessionID string, index, totalChunks int, data string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("sessionId is required")
	}
	if index < 0 || totalChunks <= 0 || index >= totalChunks {
		return 0, fmt.Errorf("invalid chunk index %d of %d", index, totalChunks)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk encoding: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked()

	sess, exists := m.sessions[sessionID]
	if !exists {
		sess = &session{chunks: make(map[int][]byte), total: totalChunks, createdAt: time.Now()}
		m.sessions[sessionID] = sess
	}
	if sess.total != totalChunks {
		return 0, fmt.Errorf("chunk count mismatch: session has %d, got %d", sess.total, totalChunks)
	}
	sess.chunks[index] = raw
	return len(sess.chunks), nil
}

// Assemble joins all chunks in order, gunzipping when compressed, and
// removes the session. Fails if any chunk is missing.
func (m *Manager) Assemble(sessionID string, compressed bool) (string, error) {
	m.mu.Lock()
	sess, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !exists {
		return "", fmt.Errorf("upload session %s not found", sessionID)
	}
	if len(sess.chunks) != sess.total {
		return "", fmt.Errorf("upload session %s incomplete: %d of %d chunks", sessionID, len(sess.chunks), sess.total)
	}

	var buf bytes.Buffer
	for i := 0; i < sess.total; i++ {
		chunk, ok := sess.chunks[i]
		if !ok {
			return "", fmt.Errorf("upload session %s missing chunk %d", sessionID, i)
		}
		if buf.Len()+len(chunk) > maxAssembledBytes {
			return "", fmt.Errorf("upload session %s exceeds size limit", sessionID)
		}
		buf.Write(chunk)
	}

	if !compressed {
		return buf.String(), nil
	}

	zr, err := gzip.NewReader(&buf)
	if err != nil {
		return "", fmt.Errorf("failed to open gzip payload: %w", err)
	}
	defer zr.Close()

	decoded, err := io.ReadAll(io.LimitReader(zr, maxAssembledBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to decompress payload: %w", err)
	}
	if len(decoded) > maxAssembledBytes {
		return "", fmt.Errorf("decompressed payload exceeds size limit")
	}
	return string(decoded), nil
}

// evictExpiredLocked drops sessions older than the TTL. Caller holds mu.
func (m *Manager) evictExpiredLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for id, sess := range m.sessions {
		if sess.createdAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}
