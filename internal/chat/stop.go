package chat

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindwell-ai/conductor/internal/httperr"
)

// StopController lets a client stop its own in-flight stream without tearing
// down the connection. The streaming loops poll it at the same points they
// poll for client disconnect.
type StopController struct {
	mu      sync.Mutex
	stopped map[string]time.Time
}

// NewStopController creates an empty controller.
func NewStopController() *StopController {
	return &StopController{stopped: make(map[string]time.Time)}
}

// Stop marks the conversation's active stream as stopped by the user.
func (s *StopController) Stop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[conversationID] = time.Now()
	s.evictLocked()
}

// IsStopped reports whether a stop was requested for the conversation.
func (s *StopController) IsStopped(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stopped[conversationID]
	return ok
}

// Clear removes the stop mark when a new stream starts.
func (s *StopController) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stopped, conversationID)
}

// evictLocked drops stale marks. Caller holds mu.
func (s *StopController) evictLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for id, at := range s.stopped {
		if at.Before(cutoff) {
			delete(s.stopped, id)
		}
	}
}

type stopRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

// Handler serves POST /chat/stop.
func (s *StopController) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req stopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.AbortWithBadRequest(c, "conversationId is required", nil)
			return
		}
		s.Stop(req.ConversationID)
		c.JSON(http.StatusOK, gin.H{"stopped": true})
	}
}
