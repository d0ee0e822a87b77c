package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
)

// Writer is a single-producer SSE framer over one HTTP response.
//
// All events are framed as "data: <json>\n\n"; heartbeats are the comment
// line ": keep-alive\n\n"; a terminal "data: [DONE]\n\n" ends the stream.
//
// A single closed flag guards every write. Once the client disconnects (or
// Close is called) all subsequent writes are no-ops returning false, which
// upstream loops poll to stop consuming model output for an abandoned tab.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{} // closed exactly once when the writer closes

	heartbeatStop     chan struct{}
	heartbeatOnce     sync.Once
	heartbeatStopOnce sync.Once

	log *logger.Logger
}

// ErrStreamingUnsupported is reported when the response writer cannot flush.
type ErrStreamingUnsupported struct{}

func (ErrStreamingUnsupported) Error() string { return "response writer does not support streaming" }

// NewWriter prepares the response for SSE and returns a Writer. It watches
// ctx (typically the HTTP request context) and transitions to the closed
// state when the client disconnects.
func NewWriter(ctx context.Context, w http.ResponseWriter, log *logger.Logger) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported{}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &Writer{
		w:             w,
		flusher:       flusher,
		done:          make(chan struct{}),
		heartbeatStop: make(chan struct{}),
		log:           log.WithComponent("sse-writer"),
	}

	go func() {
		select {
		case <-ctx.Done():
			sw.Close()
		case <-sw.done:
		}
	}()

	return sw, nil
}

// WriteEvent marshals payload and emits one "data:" frame.
// Returns false if the writer is closed or the write failed.
func (sw *Writer) WriteEvent(payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		sw.log.Error("failed to marshal SSE payload", slog.String("error", err.Error()))
		return false
	}
	return sw.writeRaw("data: " + string(data) + "\n\n")
}

// WriteDone emits the terminal "data: [DONE]" frame.
func (sw *Writer) WriteDone() bool {
	return sw.writeRaw("data: [DONE]\n\n")
}

// writeRaw writes one pre-framed SSE block under the writer lock.
func (sw *Writer) writeRaw(frame string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return false
	}

	if _, err := sw.w.Write([]byte(frame)); err != nil {
		// Write failure means the client is gone. Not logged as an error:
		// disconnects are normal operation.
		sw.log.Debug("SSE write failed, marking writer closed", slog.String("error", err.Error()))
		sw.closeLocked()
		return false
	}
	sw.flusher.Flush()
	return true
}

// Heartbeat starts a background tick that emits ": keep-alive" comment
// lines at the given interval until the writer closes. Safe to call once.
func (sw *Writer) Heartbeat(interval time.Duration) {
	sw.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if !sw.writeRaw(": keep-alive\n\n") {
						return
					}
				case <-sw.done:
					return
				case <-sw.heartbeatStop:
					return
				}
			}
		}()
	})
}

// StopHeartbeat cancels the heartbeat tick without closing the writer.
func (sw *Writer) StopHeartbeat() {
	sw.heartbeatStopOnce.Do(func() { close(sw.heartbeatStop) })
}

// Close transitions the writer to its terminal closed state.
// Idempotent; subsequent writes return false.
func (sw *Writer) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closeLocked()
}

func (sw *Writer) closeLocked() {
	if sw.closed {
		return
	}
	sw.closed = true
	close(sw.done)
}

// IsClosed reports whether the writer has observed close.
// Upstream LLM reads and tool rounds must consult this to abort early.
func (sw *Writer) IsClosed() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.closed
}

// Done returns a channel closed when the writer closes.
func (sw *Writer) Done() <-chan struct{} {
	return sw.done
}
