package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status reports connectivity and the sync state of every account
func (h *APIHandlers) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		accounts, err := h.repositories.AccountRepository.List(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		statuses := make([]interface{}, 0, len(accounts))
		running := 0
		for _, account := range accounts {
			status := h.syncService.Status(ctx, account.ID)
			if status.Running {
				running++
			}
			statuses = append(statuses, status)
		}

		c.JSON(http.StatusOK, gin.H{
			"online":   h.connectivity == nil || h.connectivity.IsOnline(),
			"accounts": len(accounts),
			"running":  running,
			"sync":     statuses,
		})
	}
}
