package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/customeros/mailsherpa/mailvalidate"
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
	"github.com/customeros/mailsync/internal/utils"
)

var (
	ErrMissingRecipients = errors.New("at least one recipient is required")
	ErrMissingContent    = errors.New("email must have either text or HTML content")
	ErrInvalidAddress    = errors.New("invalid email address")
	ErrSmtpNotConfigured = errors.New("account has no SMTP server")
)

// Sender delivers outgoing mail over SMTP with the account's settings and secret.
type Sender struct {
	cfg *config.SyncConfig
	log logger.Logger
}

var _ interfaces.MailSender = (*Sender)(nil)

func NewSender(cfg *config.SyncConfig, log logger.Logger) *Sender {
	return &Sender{
		cfg: cfg,
		log: log,
	}
}

func (s *Sender) Send(ctx context.Context, account *models.Account, secret string, email *interfaces.OutgoingEmail) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Sender.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if account.SmtpServer == "" {
		tracing.TraceErr(span, ErrSmtpNotConfigured)
		return nil, mailsync_errors.Protocol("smtp.send", ErrSmtpNotConfigured)
	}

	domain, err := ValidateEmail(account, email)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if email.MessageID == "" {
		email.MessageID = utils.GenerateMessageID(domain, email.Subject)
	}

	message, err := BuildMessage(email, time.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	recipients := make([]string, 0, len(email.To)+len(email.Cc)+len(email.Bcc))
	recipients = append(recipients, email.To...)
	recipients = append(recipients, email.Cc...)
	recipients = append(recipients, email.Bcc...)

	if err := s.sendToServer(ctx, account, secret, email.From, recipients, message); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("[%s] Sent %s to %d recipient(s)", account.ID, email.MessageID, len(recipients))
	return message, nil
}

// ValidateEmail cleans every address in place and returns the sender's domain.
func ValidateEmail(account *models.Account, email *interfaces.OutgoingEmail) (string, error) {
	if email == nil {
		return "", mailsync_errors.Protocol("smtp.validate", errors.New("email cannot be nil"))
	}
	if email.From == "" {
		email.From = account.EmailAddress
	}
	if email.FromName == "" {
		email.FromName = account.DisplayName
	}

	from := mailvalidate.ValidateEmailSyntax(email.From)
	if !from.IsValid {
		return "", mailsync_errors.Protocol("smtp.validate", errors.Wrapf(ErrInvalidAddress, "from %q", email.From))
	}
	email.From = from.CleanEmail

	var err error
	if email.To, err = cleanAddresses(email.To); err != nil {
		return "", err
	}
	if email.Cc, err = cleanAddresses(email.Cc); err != nil {
		return "", err
	}
	if email.Bcc, err = cleanAddresses(email.Bcc); err != nil {
		return "", err
	}
	if len(email.To)+len(email.Cc)+len(email.Bcc) == 0 {
		return "", mailsync_errors.Protocol("smtp.validate", ErrMissingRecipients)
	}
	if email.BodyText == "" && email.BodyHTML == "" {
		return "", mailsync_errors.Protocol("smtp.validate", ErrMissingContent)
	}
	return from.Domain, nil
}

func cleanAddresses(addresses []string) ([]string, error) {
	cleaned := make([]string, 0, len(addresses))
	for _, address := range addresses {
		validation := mailvalidate.ValidateEmailSyntax(address)
		if !validation.IsValid {
			return nil, mailsync_errors.Protocol("smtp.validate", errors.Wrapf(ErrInvalidAddress, "%q", address))
		}
		cleaned = utils.AppendUnique(cleaned, validation.CleanEmail)
	}
	return cleaned, nil
}

// BuildMessage renders the email as RFC 5322 bytes. Bcc is never written to the headers.
func BuildMessage(email *interfaces.OutgoingEmail, date time.Time) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)

	headers := [][2]string{
		{"From", formatAddress(email.FromName, email.From)},
		{"To", strings.Join(email.To, ", ")},
	}
	if len(email.Cc) > 0 {
		headers = append(headers, [2]string{"Cc", strings.Join(email.Cc, ", ")})
	}
	headers = append(headers,
		[2]string{"Subject", mime.QEncoding.Encode("UTF-8", email.Subject)},
		[2]string{"Date", date.Format(time.RFC1123Z)},
		[2]string{"Message-ID", angle(email.MessageID)},
		[2]string{"MIME-Version", "1.0"},
	)
	if email.InReplyTo != "" {
		headers = append(headers, [2]string{"In-Reply-To", angle(email.InReplyTo)})
	}
	if len(email.References) > 0 {
		refs := make([]string, 0, len(email.References))
		for _, ref := range email.References {
			refs = append(refs, angle(ref))
		}
		headers = append(headers, [2]string{"References", strings.Join(refs, " ")})
	}

	if email.BodyText != "" && email.BodyHTML != "" {
		writer := multipart.NewWriter(buffer)
		headers = append(headers, [2]string{"Content-Type", "multipart/alternative; boundary=" + writer.Boundary()})
		// headers go first; the multipart writer only emits parts
		var head bytes.Buffer
		writeHeaders(headers, &head)
		if err := addPart(writer, "text/plain; charset=UTF-8", email.BodyText); err != nil {
			return nil, err
		}
		if err := addPart(writer, "text/html; charset=UTF-8", email.BodyHTML); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return append(head.Bytes(), buffer.Bytes()...), nil
	}

	contentType, body := "text/plain; charset=UTF-8", email.BodyText
	if body == "" {
		contentType, body = "text/html; charset=UTF-8", email.BodyHTML
	}
	headers = append(headers,
		[2]string{"Content-Type", contentType},
		[2]string{"Content-Transfer-Encoding", "quoted-printable"},
	)
	writeHeaders(headers, buffer)
	if err := writeQuotedPrintable(buffer, body); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func writeHeaders(headers [][2]string, buffer *bytes.Buffer) {
	for _, header := range headers {
		buffer.WriteString(fmt.Sprintf("%s: %s\r\n", header[0], header[1]))
	}
	buffer.WriteString("\r\n")
}

func addPart(writer *multipart.Writer, contentType, content string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	return writeQuotedPrintable(part, content)
}

func writeQuotedPrintable(w interface{ Write([]byte) (int, error) }, content string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	return qp.Close()
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("UTF-8", name), address)
}

func angle(id string) string {
	return "<" + utils.NormalizeMessageID(id) + ">"
}

func (s *Sender) sendToServer(ctx context.Context, account *models.Account, secret, from string, recipients []string, message []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Sender.sendToServer")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("smtp_server", account.SmtpServer, "smtp_port", account.SmtpPort, "security", account.SmtpSecurity.String())

	addr := net.JoinHostPort(account.SmtpServer, strconv.Itoa(account.SmtpPort))
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return mailsync_errors.Network("smtp.dial", fmt.Errorf("failed to connect to SMTP server: %w", err))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: account.SmtpServer}
	if account.SmtpSecurity.Implicit() {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			return mailsync_errors.Network("smtp.tls", fmt.Errorf("tls handshake failed: %w", err))
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, account.SmtpServer)
	if err != nil {
		return classify("smtp.greeting", fmt.Errorf("failed to create SMTP client: %w", err))
	}
	defer client.Close()

	if account.SmtpSecurity == enum.EmailSecurityStartTLS {
		if err = client.StartTLS(tlsConfig); err != nil {
			return classify("smtp.starttls", fmt.Errorf("failed to start TLS: %w", err))
		}
	}

	if err = client.Auth(s.auth(account, secret)); err != nil {
		if mailsync_errors.IsConnectionError(err) {
			return mailsync_errors.Network("smtp.auth", err)
		}
		return mailsync_errors.Auth("smtp.auth", fmt.Errorf("SMTP authentication failed: %w", err))
	}

	if err = client.Mail(from); err != nil {
		return classify("smtp.mail", fmt.Errorf("SMTP MAIL command failed: %w", err))
	}
	for _, recipient := range recipients {
		if err = client.Rcpt(recipient); err != nil {
			return classify("smtp.rcpt", fmt.Errorf("SMTP RCPT command failed for %s: %w", recipient, err))
		}
	}

	dataWriter, err := client.Data()
	if err != nil {
		return classify("smtp.data", fmt.Errorf("SMTP DATA command failed: %w", err))
	}
	if _, err = dataWriter.Write(message); err != nil {
		return classify("smtp.data", fmt.Errorf("failed to write email data: %w", err))
	}
	if err = dataWriter.Close(); err != nil {
		return classify("smtp.data", fmt.Errorf("failed to close data writer: %w", err))
	}

	return client.Quit()
}

func (s *Sender) auth(account *models.Account, secret string) smtp.Auth {
	if account.AuthMode == enum.AuthModeOAuth2 {
		return &saslAuth{client: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: account.Username,
			Token:    secret,
			Host:     account.SmtpServer,
			Port:     account.SmtpPort,
		})}
	}
	return smtp.PlainAuth("", account.Username, secret, account.SmtpServer)
}

// saslAuth lets net/smtp drive a go-sasl client.
type saslAuth struct {
	client sasl.Client
}

func (a *saslAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("refusing to send a token over an unencrypted connection")
	}
	return a.client.Start()
}

func (a *saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}

func classify(op string, err error) error {
	if mailsync_errors.IsConnectionError(err) {
		return mailsync_errors.Network(op, err)
	}
	return mailsync_errors.Protocol(op, err)
}
