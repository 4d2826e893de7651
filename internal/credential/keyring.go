package credential

import (
	"context"
	"strings"

	"github.com/99designs/keyring"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/tracing"
)

const keyPrefix = "mailsync:"

var ErrCredentialNotFound = mailsync_errors.ErrCredentialNotFound

// Provider stores account secrets in the system keyring under "mailsync:<accountID>".
type Provider struct {
	ring keyring.Keyring
}

var _ interfaces.CredentialProvider = (*Provider)(nil)

// Open configures the keyring from the allowed backends, first available wins.
func Open(cfg *config.CredentialConfig) (*Provider, error) {
	backends := make([]keyring.BackendType, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		name = strings.TrimSpace(name)
		if name != "" {
			backends = append(backends, keyring.BackendType(name))
		}
	}
	if len(backends) == 0 {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return NewProvider(ring), nil
}

func NewProvider(ring keyring.Keyring) *Provider {
	return &Provider{ring: ring}
}

func key(accountID string) string {
	return keyPrefix + accountID
}

func (p *Provider) GetSecret(ctx context.Context, accountID string) (string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CredentialProvider.GetSecret")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	item, err := p.ring.Get(key(accountID))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", errors.Wrapf(ErrCredentialNotFound, "account %s", accountID)
		}
		tracing.TraceErr(span, err)
		return "", errors.Wrapf(err, "getting credential for %s", accountID)
	}
	return string(item.Data), nil
}

func (p *Provider) SetSecret(ctx context.Context, accountID, secret string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CredentialProvider.SetSecret")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	err := p.ring.Set(keyring.Item{
		Key:   key(accountID),
		Data:  []byte(secret),
		Label: "mailsync account " + accountID,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "setting credential for %s", accountID)
	}
	return nil
}

// DeleteSecret succeeds when the secret is already gone.
func (p *Provider) DeleteSecret(ctx context.Context, accountID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CredentialProvider.DeleteSecret")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	if err := p.ring.Remove(key(accountID)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "deleting credential for %s", accountID)
	}
	return nil
}
