package imap

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

var ErrPushWaitActive = errors.New("push-wait already active")

const (
	updatesBuffer    = 100
	pushEventsBuffer = 32
	dialKeepAlive    = 30 * time.Second
)

// Session owns one IMAP connection. Commands are serialized on mu; a command issued
// while a push-wait is active ends the push-wait first.
type Session struct {
	cfg *config.SyncConfig
	log logger.Logger

	mu        sync.Mutex
	client    *client.Client
	account   *models.Account
	delimiter string
	selected  string
	readOnly  bool
	closed    chan struct{}
	// seen is the highest uid handed out per server folder name
	seen map[string]uint32

	stateMu sync.RWMutex
	state   enum.ConnectionState

	pushMu sync.Mutex
	push   *pushWait
}

var _ interfaces.MailSession = (*Session)(nil)

func NewSession(cfg *config.SyncConfig, log logger.Logger) *Session {
	return &Session{
		cfg:   cfg,
		log:   log,
		state: enum.ConnectionDisconnected,
		seen:  make(map[string]uint32),
	}
}

func (s *Session) State() enum.ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state enum.ConnectionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Session) accountID() string {
	if s.account == nil {
		return ""
	}
	return s.account.ID
}

// Connect dials the account's IMAP server and authenticates. An existing connection is
// closed first.
func (s *Session) Connect(ctx context.Context, account *models.Account, secret string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("security", account.ImapSecurity.String())
	span.SetTag("auth", account.AuthMode.String())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.haltPushLocked()
		s.closeLocked()
	}
	if s.account == nil || s.account.ID != account.ID {
		s.seen = make(map[string]uint32)
	}
	s.account = account
	s.setState(enum.ConnectionConnecting)

	c, err := s.dial(ctx, account)
	if err != nil {
		s.setState(enum.ConnectionDisconnected)
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.authenticate(c, account, secret); err != nil {
		_ = c.Terminate()
		s.setState(enum.ConnectionDisconnected)
		tracing.TraceErr(span, err)
		return err
	}

	c.Timeout = s.cfg.CommandTimeout
	updates := make(chan client.Update, updatesBuffer)
	c.Updates = updates

	s.client = c
	s.selected = ""
	s.closed = make(chan struct{})
	go s.dispatchUpdates(updates, s.closed)

	s.setState(enum.ConnectionAuthenticated)
	s.log.Infof("[%s] Connected and authenticated to %s:%d", account.ID, account.ImapServer, account.ImapPort)
	span.SetTag("success", true)
	return nil
}

func (s *Session) dial(ctx context.Context, account *models.Account) (*client.Client, error) {
	addr := net.JoinHostPort(account.ImapServer, strconv.Itoa(account.ImapPort))

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{
		Timeout:   s.cfg.ConnectTimeout,
		KeepAlive: dialKeepAlive,
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, mailsync_errors.Network("imap.dial", errors.Wrapf(err, "failed to connect to %s", addr))
	}

	tlsConfig := &tls.Config{ServerName: account.ImapServer}
	if account.ImapSecurity.Implicit() {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return nil, mailsync_errors.Network("imap.tls", errors.Wrapf(err, "tls handshake with %s", addr))
		}
		conn = tlsConn
	}

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, classify("imap.greeting", err)
	}
	c.Timeout = s.cfg.ConnectTimeout

	if account.ImapSecurity == enum.EmailSecurityStartTLS {
		supported, err := c.SupportStartTLS()
		if err != nil {
			_ = c.Terminate()
			return nil, classify("imap.capability", err)
		}
		if !supported {
			_ = c.Terminate()
			return nil, mailsync_errors.Protocol("imap.starttls", errors.Errorf("%s does not support STARTTLS", addr))
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Terminate()
			return nil, classify("imap.starttls", err)
		}
	}

	return c, nil
}

func (s *Session) authenticate(c *client.Client, account *models.Account, secret string) error {
	var err error
	switch account.AuthMode {
	case enum.AuthModeOAuth2:
		supported, capErr := c.SupportAuth(sasl.OAuthBearer)
		if capErr != nil {
			return classify("imap.capability", capErr)
		}
		if !supported {
			return mailsync_errors.Protocol("imap.authenticate", errors.New("server does not support OAUTHBEARER"))
		}
		err = c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: account.Username,
			Token:    secret,
			Host:     account.ImapServer,
			Port:     account.ImapPort,
		}))
	default:
		err = c.Login(account.Username, secret)
	}
	if err == nil {
		return nil
	}
	if mailsync_errors.IsConnectionError(err) {
		return mailsync_errors.Network("imap.login", err)
	}
	return mailsync_errors.Auth("imap.login", errors.Wrapf(err, "failed to login as %s", account.Username))
}

// Disconnect always succeeds: LOGOUT is bounded by the disconnect timeout and the
// transport is closed afterwards.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.haltPushLocked()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	c := s.client
	if c == nil {
		s.setState(enum.ConnectionDisconnected)
		return
	}
	s.client = nil
	s.selected = ""
	close(s.closed)

	c.Timeout = s.cfg.DisconnectTimeout
	done := make(chan error, 1)
	go func() {
		done <- c.Logout()
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Debugf("[%s] Error during logout: %v", s.accountID(), err)
		} else {
			s.log.Infof("[%s] Logged out", s.accountID())
		}
	case <-time.After(s.cfg.DisconnectTimeout):
		s.log.Warnf("[%s] Logout timed out, closing connection", s.accountID())
	}
	_ = c.Terminate()
	s.setState(enum.ConnectionDisconnected)
}

// dropLocked forgets a connection whose transport failed.
func (s *Session) dropLocked() {
	c := s.client
	if c == nil {
		return
	}
	s.client = nil
	s.selected = ""
	close(s.closed)
	_ = c.Terminate()
	s.setState(enum.ConnectionDisconnected)
	s.log.Warnf("[%s] Connection dropped", s.accountID())
}

// run executes fn with exclusive use of the connection.
func (s *Session) run(ctx context.Context, op string, timeout time.Duration, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.haltPushLocked()
	if s.client == nil || s.State() == enum.ConnectionDisconnected {
		s.dropLocked()
		return mailsync_errors.Network(op, mailsync_errors.ErrNotConnected)
	}

	s.client.Timeout = timeout
	err := fn(s.client)
	if s.client != nil {
		s.client.Timeout = s.cfg.CommandTimeout
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}

	err = classify(op, err)
	if mailsync_errors.IsNetwork(err) {
		s.dropLocked()
	}
	return err
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if mailsync_errors.KindOf(err) != mailsync_errors.KindUnknown {
		return err
	}
	if mailsync_errors.IsConnectionError(err) {
		return mailsync_errors.Network(op, err)
	}
	if mailsync_errors.IsAuthFailure(err) {
		return mailsync_errors.Auth(op, err)
	}
	return mailsync_errors.Protocol(op, err)
}
