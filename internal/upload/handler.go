package upload

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindwell-ai/conductor/internal/httperr"
)

type chunkRequest struct {
	SessionID   string `json:"sessionId" binding:"required"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks" binding:"required"`
	Data        string `json:"data" binding:"required"`
}

// Handler accepts one chunk of a large payload.
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chunkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.AbortWithBadRequest(c, "invalid upload chunk: "+err.Error(), nil)
			return
		}

		received, err := m.AddChunk(req.SessionID, req.ChunkIndex, req.TotalChunks, req.Data)
		if err != nil {
			httperr.AbortWithBadRequest(c, err.Error(), nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessionId":      req.SessionID,
			"receivedChunks": received,
			"totalChunks":    req.TotalChunks,
			"complete":       received == req.TotalChunks,
		})
	}
}
