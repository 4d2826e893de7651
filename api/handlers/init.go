package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
)

type APIHandlers struct {
	repositories *repository.Repositories
	credentials  interfaces.CredentialProvider
	syncService  interfaces.SyncService
	queue        interfaces.OfflineQueue
	connectivity interfaces.ConnectivityMonitor
	log          logger.Logger
}

func InitHandlers(
	repos *repository.Repositories,
	credentials interfaces.CredentialProvider,
	syncService interfaces.SyncService,
	queue interfaces.OfflineQueue,
	connectivity interfaces.ConnectivityMonitor,
	log logger.Logger,
) *APIHandlers {
	return &APIHandlers{
		repositories: repos,
		credentials:  credentials,
		syncService:  syncService,
		queue:        queue,
		connectivity: connectivity,
		log:          log,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mailsync_errors.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, mailsync_errors.ErrAccountDisabled):
		return http.StatusConflict
	case errors.Is(err, mailsync_errors.ErrInvalidOperation):
		return http.StatusBadRequest
	case mailsync_errors.IsNetwork(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, span opentracing.Span, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		tracing.TraceErr(span, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
