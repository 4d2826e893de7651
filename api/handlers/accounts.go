package handlers

import (
	"net/http"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	api_errors "github.com/customeros/mailsync/api/errors"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type AddAccountRequest struct {
	EmailAddress string             `json:"emailAddress"`
	DisplayName  string             `json:"displayName"`
	ImapServer   string             `json:"imapServer"`
	ImapPort     int                `json:"imapPort"`
	ImapSecurity enum.EmailSecurity `json:"imapSecurity"`
	SmtpServer   string             `json:"smtpServer"`
	SmtpPort     int                `json:"smtpPort"`
	SmtpSecurity enum.EmailSecurity `json:"smtpSecurity"`
	Username     string             `json:"username"`
	AuthMode     enum.AuthMode      `json:"authMode"`
	// Secret is a password or an OAuth access token, depending on AuthMode.
	Secret      string `json:"secret"`
	SyncEnabled *bool  `json:"syncEnabled"`
}

func (r *AddAccountRequest) normalize() *api_errors.MultiErrors {
	errs := api_errors.NewMultiErrors()

	validation := mailvalidate.ValidateEmailSyntax(strings.TrimSpace(r.EmailAddress))
	if !validation.IsValid {
		errs.Add("emailAddress", "must be a valid email address", nil)
	} else {
		r.EmailAddress = validation.CleanEmail
	}
	if r.ImapServer == "" {
		errs.Add("imapServer", "is required", nil)
	}
	if r.ImapPort <= 0 || r.ImapPort > 65535 {
		errs.Add("imapPort", "must be a valid port", nil)
	}
	if r.SmtpPort < 0 || r.SmtpPort > 65535 {
		errs.Add("smtpPort", "must be a valid port", nil)
	}
	if r.Secret == "" {
		errs.Add("secret", "is required", nil)
	}

	if r.ImapSecurity == "" {
		r.ImapSecurity = enum.EmailSecurityTLS
	}
	if r.SmtpSecurity == "" {
		r.SmtpSecurity = enum.EmailSecurityStartTLS
	}
	switch r.AuthMode {
	case "":
		r.AuthMode = enum.AuthModePassword
	case enum.AuthModePassword, enum.AuthModeOAuth2:
	default:
		errs.Add("authMode", "must be password or oauth2", nil)
	}
	if r.Username == "" {
		r.Username = r.EmailAddress
	}
	return errs
}

func (h *APIHandlers) ListAccounts() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.ListAccounts")
		defer span.Finish()

		accounts, err := h.repositories.AccountRepository.List(ctx)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

func (h *APIHandlers) GetAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.GetAccount")
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
		c.JSON(http.StatusOK, gin.H{
			"account": account,
			"sync":    h.syncService.Status(ctx, accountID),
		})
	}
}

// AddAccount stores the account and its secret, then starts syncing when enabled.
func (h *APIHandlers) AddAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.AddAccount")
		defer span.Finish()

		var request AddAccountRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errs := request.normalize(); errs.HasErrors() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errs.Error()})
			return
		}

		account := &models.Account{
			EmailAddress: request.EmailAddress,
			DisplayName:  request.DisplayName,
			ImapServer:   request.ImapServer,
			ImapPort:     request.ImapPort,
			ImapSecurity: request.ImapSecurity,
			SmtpServer:   request.SmtpServer,
			SmtpPort:     request.SmtpPort,
			SmtpSecurity: request.SmtpSecurity,
			Username:     request.Username,
			AuthMode:     request.AuthMode,
			Enabled:      true,
			SyncEnabled:  utils.GetOrDefault(request.SyncEnabled, true),
		}
		if err := h.repositories.AccountRepository.Create(ctx, account); err != nil {
			respondError(c, span, err)
			return
		}
		tracing.TagAccount(span, account.ID)

		if err := h.credentials.SetSecret(ctx, account.ID, request.Secret); err != nil {
			if deleteErr := h.repositories.AccountRepository.Delete(ctx, account.ID); deleteErr != nil {
				h.log.Errorf("[%s] Failed to roll back account without credential: %v", account.ID, deleteErr)
			}
			respondError(c, span, err)
			return
		}

		if account.CanSync() {
			if err := h.syncService.StartSync(ctx, account.ID); err != nil {
				h.log.Warnf("[%s] Account added but sync did not start: %v", account.ID, err)
			}
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// RemoveAccount stops syncing and deletes the account, its local data and its secret.
func (h *APIHandlers) RemoveAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.RemoveAccount")
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

		h.syncService.StopSync(accountID)

		if err := h.repositories.AccountRepository.Delete(ctx, accountID); err != nil {
			respondError(c, span, err)
			return
		}
		if err := h.credentials.DeleteSecret(ctx, accountID); err != nil {
			h.log.Warnf("[%s] Account removed but its credential was not: %v", accountID, err)
		}

		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": accountID})
	}
}
