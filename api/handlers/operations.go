package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type EnqueueOperationRequest struct {
	Type    enum.OperationType     `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// EnqueueOperation queues a mutation and replays the queue right away when online.
func (h *APIHandlers) EnqueueOperation() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.EnqueueOperation")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		var request EnqueueOperationRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		op, err := h.queue.Enqueue(ctx, &models.PendingOperation{
			AccountID: accountID,
			Type:      request.Type,
			Payload:   models.JSONMap(request.Payload),
		})
		if err != nil {
			respondError(c, span, err)
			return
		}
		tracing.TagEntity(span, op.ID)

		if h.connectivity == nil || h.connectivity.IsOnline() {
			go h.drainInBackground(accountID)
		}

		c.JSON(http.StatusAccepted, gin.H{"operation": op})
	}
}

func (h *APIHandlers) drainInBackground(accountID string) {
	defer tracing.RecoverAndLogToJaeger(h.log)

	span, ctx := tracing.StartTracerSpan(utils.SetAccountIDInContext(context.Background(), accountID), "Handlers.drainInBackground")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	if _, err := h.queue.Drain(ctx, accountID); err != nil {
		h.log.Warnf("[%s] Drain after enqueue stopped: %v", accountID, err)
	}
}

func (h *APIHandlers) ListOperations() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListOperations")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		ops, err := h.queue.Pending(ctx, accountID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"operations": ops,
			"exhausted":  h.queue.ExhaustedCount(accountID),
		})
	}
}

// DrainOperations replays the queue synchronously and returns the outcome.
func (h *APIHandlers) DrainOperations() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.DrainOperations")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		if h.connectivity != nil && !h.connectivity.IsOnline() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "offline"})
			return
		}

		result, err := h.queue.Drain(ctx, accountID)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
				tracing.TraceErr(span, err)
			}
			c.JSON(status, gin.H{"error": err.Error(), "result": result})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
