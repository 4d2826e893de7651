package imap

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	go_imap "github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/lib/pq"

	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
	"github.com/customeros/mailsync/services/classifier"
)

const previewLength = 200

func toEmail(accountID string, msg *go_imap.Message, section *go_imap.BodySectionName) *models.Email {
	email := &models.Email{
		AccountID:     accountID,
		UID:           msg.Uid,
		MessageNumber: msg.SeqNum,
	}
	email.ApplyFlags(msg.Flags)
	if !msg.InternalDate.IsZero() {
		received := msg.InternalDate.UTC()
		email.ReceivedAt = &received
	}

	processEnvelope(email, msg.Envelope)

	if raw := extractFullMessage(msg, section); len(raw) > 0 {
		parseWithEnmime(email, raw)
	}

	email.Preview = buildPreview(email)
	email.ThreadID = threadID(email)
	classifier.Apply(email)
	return email
}

func processEnvelope(email *models.Email, envelope *go_imap.Envelope) {
	if envelope == nil {
		return
	}

	if !envelope.Date.IsZero() {
		sentAt := envelope.Date.UTC()
		email.SentAt = &sentAt
	}

	email.Subject = envelope.Subject
	email.MessageID = utils.NormalizeMessageID(envelope.MessageId)

	processInReplyTo(email, envelope)

	if len(envelope.From) > 0 {
		sender := envelope.From[0]
		email.FromName = sender.PersonalName
		email.FromAddress = cleanAddress(sender)
	}
	if len(envelope.ReplyTo) > 0 {
		email.ReplyTo = cleanAddress(envelope.ReplyTo[0])
	}

	email.ToAddresses = convertAddressesToStringArray(envelope.To)
	email.CcAddresses = convertAddressesToStringArray(envelope.Cc)
	email.BccAddresses = convertAddressesToStringArray(envelope.Bcc)
}

// processInReplyTo keeps the first id of In-Reply-To; the header may carry several.
func processInReplyTo(email *models.Email, envelope *go_imap.Envelope) {
	if envelope.InReplyTo == "" {
		return
	}

	var refs []string
	for _, ref := range strings.Fields(envelope.InReplyTo) {
		ref = utils.NormalizeMessageID(ref)
		if ref != "" {
			refs = utils.AppendUnique(refs, ref)
		}
	}
	if len(refs) > 0 {
		email.InReplyTo = refs[0]
	}
	email.References = refs
}

func cleanAddress(addr *go_imap.Address) string {
	if addr == nil || addr.MailboxName == "" || addr.HostName == "" {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(addr.Address())
	if !validation.IsValid {
		return ""
	}
	return validation.CleanEmail
}

func convertAddressesToStringArray(addresses []*go_imap.Address) pq.StringArray {
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if clean := cleanAddress(addr); clean != "" {
			result = append(result, clean)
		}
	}
	return pq.StringArray(result)
}

func extractFullMessage(msg *go_imap.Message, section *go_imap.BodySectionName) []byte {
	if literal := msg.GetBody(section); literal != nil {
		data, err := io.ReadAll(literal)
		if err == nil {
			return data
		}
	}

	for name, literal := range msg.Body {
		if len(name.Path) == 0 && name.Specifier == go_imap.EntireSpecifier {
			data, err := io.ReadAll(literal)
			if err == nil {
				return data
			}
		}
	}
	return nil
}

func parseWithEnmime(email *models.Email, raw []byte) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return
	}

	headers := make(map[string]interface{})
	for _, key := range envelope.GetHeaderKeys() {
		if values := envelope.GetHeaderValues(key); len(values) > 0 {
			headers[key] = values
		}
	}
	email.RawHeaders = models.JSONMap(headers)

	processReferences(email, envelope.GetHeaderValues("References"))

	email.BodyText = envelope.Text
	email.BodyHTML = envelope.HTML
	email.HasAttachment = len(envelope.Attachments) > 0 || len(envelope.Inlines) > 0
}

// processReferences puts the References header first, so References[0] is the thread root.
func processReferences(email *models.Email, headerValues []string) {
	var refs []string
	for _, value := range headerValues {
		for _, ref := range strings.Fields(value) {
			ref = utils.NormalizeMessageID(ref)
			if ref != "" {
				refs = utils.AppendUnique(refs, ref)
			}
		}
	}
	refs = utils.AppendUnique(refs, email.References...)
	email.References = pq.StringArray(refs)
}

func buildPreview(email *models.Email) string {
	text := email.BodyText
	if strings.TrimSpace(text) == "" && email.BodyHTML != "" {
		if plain, err := htmlToPlainText(email.BodyHTML); err == nil {
			text = plain
		}
	}
	return utils.Truncate(strings.Join(strings.Fields(text), " "), previewLength)
}

func htmlToPlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style").Each(func(i int, el *goquery.Selection) {
		el.Remove()
	})
	return strings.TrimSpace(doc.Find("body").Text()), nil
}

// threadID is the first References id, else In-Reply-To, else the message's own id.
func threadID(email *models.Email) *string {
	switch {
	case len(email.References) > 0 && email.References[0] != "":
		return utils.ToPtr(email.References[0])
	case email.InReplyTo != "":
		return utils.ToPtr(email.InReplyTo)
	case email.MessageID != "":
		return utils.ToPtr(email.MessageID)
	}
	return nil
}
