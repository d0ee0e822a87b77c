package httperr

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueueBusyError is the 429 response returned when a chat request is queued
// behind the per-identity concurrency cap. The client is expected to retry
// with the returned queue token to preserve its FIFO position.
type QueueBusyError struct {
	Error            string `json:"error"`
	QueueToken       string `json:"queue_token"`
	QueuePosition    int    `json:"queue_position"`
	RetryAfterSec    int    `json:"retry_after_sec"`
	EstimatedWaitSec int    `json:"estimated_wait_sec"`
}

// AbortWithQueueBusy sends a 429 response with queue metadata headers and
// aborts the request.
func AbortWithQueueBusy(c *gin.Context, err *QueueBusyError) {
	c.Header("Retry-After", strconv.Itoa(err.RetryAfterSec))
	c.Header("X-Queue-Token", err.QueueToken)
	c.Header("X-Queue-Position", strconv.Itoa(err.QueuePosition))
	c.Header("X-Queue-Estimated-Wait", strconv.Itoa(err.EstimatedWaitSec))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}
