package orchestrator

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
)

// SessionFactory builds an unconnected session.
type SessionFactory func() interfaces.MailSession

type registryEntry struct {
	mu      sync.Mutex
	session interfaces.MailSession
}

// Registry holds one session per account. Connecting is serialized per account so the
// sync task and a queue drain never open two connections for the same mailbox.
type Registry struct {
	repositories *repository.Repositories
	credentials  interfaces.CredentialProvider
	factory      SessionFactory
	cfg          *config.SyncConfig
	log          logger.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

var _ interfaces.SessionProvider = (*Registry)(nil)

func NewRegistry(
	repos *repository.Repositories,
	credentials interfaces.CredentialProvider,
	factory SessionFactory,
	cfg *config.SyncConfig,
	log logger.Logger,
) *Registry {
	return &Registry{
		repositories: repos,
		credentials:  credentials,
		factory:      factory,
		cfg:          cfg,
		log:          log,
		entries:      make(map[string]*registryEntry),
	}
}

func (r *Registry) entry(accountID string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[accountID]
	if !ok {
		e = &registryEntry{}
		r.entries[accountID] = e
	}
	return e
}

// Acquire returns the account's connected session, connecting it first when needed.
func (r *Registry) Acquire(ctx context.Context, accountID string) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Registry.Acquire")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	e := r.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil && e.session.State() != enum.ConnectionDisconnected {
		return e.session, nil
	}

	account, err := r.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		err = mailsync_errors.Storage("registry.account", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil {
		tracing.TraceErr(span, mailsync_errors.ErrAccountNotFound)
		return nil, mailsync_errors.ErrAccountNotFound
	}
	if !account.Enabled {
		tracing.TraceErr(span, mailsync_errors.ErrAccountDisabled)
		return nil, mailsync_errors.ErrAccountDisabled
	}

	secret, err := r.credentials.GetSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, mailsync_errors.ErrCredentialNotFound) {
			err = mailsync_errors.Auth("registry.secret", err)
		} else {
			err = mailsync_errors.Storage("registry.secret", err)
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	if e.session == nil {
		e.session = r.factory()
	}

	connectCtx := ctx
	if r.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := e.session.Connect(connectCtx, account, secret); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return e.session, nil
}

// Connected reports whether the account currently holds a live session.
func (r *Registry) Connected(accountID string) bool {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil && e.session.State() != enum.ConnectionDisconnected
}

// Release disconnects and forgets the account's session.
func (r *Registry) Release(accountID string) {
	r.mu.Lock()
	e, ok := r.entries[accountID]
	delete(r.entries, accountID)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Disconnect()
		e.session = nil
	}
	r.log.Debugf("[%s] Session released", accountID)
}

// CloseAll disconnects every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Release(id)
	}
}
