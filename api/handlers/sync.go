package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (h *APIHandlers) StartSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.StartSync")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		if err := h.syncService.StartSync(ctx, accountID); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, h.syncService.Status(ctx, accountID))
	}
}

func (h *APIHandlers) StopSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.StopSync")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		h.syncService.StopSync(accountID)
		c.JSON(http.StatusOK, h.syncService.Status(ctx, accountID))
	}
}

func (h *APIHandlers) SyncStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.SyncStatus")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		account, err := h.repositories.AccountRepository.GetByID(ctx, accountID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		if account == nil {
			respondError(c, span, mailsync_errors.ErrAccountNotFound)
			return
		}

		folders, err := h.repositories.FolderRepository.ListByAccount(ctx, accountID)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       h.syncService.Status(ctx, accountID),
			"syncStatus":   account.SyncStatus,
			"errorMessage": account.ErrorMessage,
			"lastSyncAt":   account.LastSyncAt,
			"folders":      folders,
		})
	}
}

func (h *APIHandlers) ListFolders() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListFolders")
		defer span.Finish()
		accountID := c.Param("accountId")
		tracing.TagAccount(span, accountID)

		folders, err := h.repositories.FolderRepository.ListByAccount(ctx, accountID)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"folders": folders})
	}
}

// ListEmails pages through a folder's cached messages, newest first.
func (h *APIHandlers) ListEmails() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListEmails")
		defer span.Finish()
		accountID := c.Param("accountId")
		folderID := c.Param("folderId")
		tracing.TagAccount(span, accountID)
		tracing.TagFolder(span, folderID)

		limit := queryInt(c, "limit", defaultPageSize)
		if limit <= 0 || limit > maxPageSize {
			limit = defaultPageSize
		}
		offset := queryInt(c, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		emails, total, err := h.repositories.EmailRepository.ListByFolder(ctx, accountID, folderID, limit, offset)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"emails": emails, "total": total, "limit": limit, "offset": offset})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
