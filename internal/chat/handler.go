package chat

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mindwell-ai/conductor/internal/httperr"
	"github.com/mindwell-ai/conductor/internal/sse"
)

// ResumeFrom asks for a content-range replay of an in-progress message.
type ResumeFrom struct {
	MessageID string `json:"messageId"`
	Position  int    `json:"position"`
}

// Request is the POST /chat body.
type Request struct {
	Message                  string      `json:"message"`
	ModelType                string      `json:"modelType"`
	ConversationID           string      `json:"conversationId"`
	UserID                   string      `json:"userId"`
	DeviceID                 string      `json:"deviceId"`
	Mode                     string      `json:"mode"`
	ClientUserMessageID      string      `json:"clientUserMessageId"`
	ClientAssistantMessageID string      `json:"clientAssistantMessageId"`
	QueueToken               string      `json:"queueToken"`
	UploadSessionID          string      `json:"uploadSessionId"`
	IsCompressed             bool        `json:"isCompressed"`
	ResumeFrom               *ResumeFrom `json:"resumeFrom"`
	ResumeFromRound          int         `json:"resumeFromRound"`
}

// Handler serves POST /chat: validate, assemble uploads, admit, ensure the
// conversation, delegate resumes, persist the user turn, probe the cache
// and route to a streaming pipeline. The admission grant is released in a
// defer that covers every exit path.
func (d *Dispatcher) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.AbortWithBadRequest(c, "invalid request body: "+err.Error(), nil)
			return
		}

		if req.UserID == "" {
			httperr.AbortWithBadRequest(c, "userId is required", nil)
			return
		}

		if req.UploadSessionID != "" {
			assembled, err := d.uploads.Assemble(req.UploadSessionID, req.IsCompressed)
			if err != nil {
				httperr.AbortWithBadRequest(c, err.Error(), nil)
				return
			}
			req.Message = assembled
		}

		if strings.TrimSpace(req.Message) == "" && req.ResumeFrom == nil {
			httperr.AbortWithBadRequest(c, "message is required", nil)
			return
		}

		grant, queued := d.admission.Acquire(req.UserID, req.QueueToken)
		if queued != nil {
			httperr.AbortWithQueueBusy(c, &httperr.QueueBusyError{
				Error:            "too many concurrent requests",
				QueueToken:       queued.QueueToken,
				QueuePosition:    queued.QueuePosition,
				RetryAfterSec:    queued.RetryAfterSec,
				EstimatedWaitSec: queued.EstimatedWaitSec,
			})
			return
		}
		defer grant.Release()

		ctx := c.Request.Context()
		log := d.log.WithContext(ctx)

		conv, err := d.store.EnsureConversation(ctx, req.ConversationID, req.UserID, req.Message)
		if err != nil {
			log.Error("failed to ensure conversation", slog.String("error", err.Error()))
			httperr.AbortWithInternal(c, "failed to prepare conversation")
			return
		}
		req.ConversationID = conv.ID

		w, err := sse.NewWriter(ctx, c.Writer, d.log)
		if err != nil {
			httperr.AbortWithInternal(c, err.Error())
			return
		}
		defer w.Close()
		d.metrics.ActiveStreams.Inc()
		defer d.metrics.ActiveStreams.Dec()

		if req.ResumeFrom != nil {
			d.resumer.Resume(ctx, w, req.ConversationID, req.ResumeFrom.MessageID, req.UserID, req.ResumeFrom.Position)
			return
		}

		d.persistUserMessage(ctx, &req)

		if entry := d.probeCache(ctx, &req); entry != nil {
			d.replayCached(ctx, w, &req, entry)
			return
		}
		d.metrics.CacheHits.WithLabelValues("miss").Inc()

		d.route(ctx, w, &req)
	}
}

// PreflightHandler serves OPTIONS /chat.
func PreflightHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	}
}
