package classifier

import (
	"net/textproto"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

var bounceSubjects = []string{
	"mail delivery failure",
	"undelivered mail returned to sender",
	"delivery status notification",
	"undeliverable",
	"undelivered",
	"delivery failure",
	"failure notice",
	"returned mail",
	"returned to sender",
}

// headers wraps the raw header map captured at parse time. Values are []string
// when fresh and []interface{} after a round trip through the store.
type headers models.JSONMap

func (h headers) values(key string) []string {
	raw, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func (h headers) get(key string) string {
	if values := h.values(key); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

func (h headers) has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Classify labels a message from its headers and addresses. The first matching
// rule wins: bounce, auto reply, bulk, internal, otherwise ok.
func Classify(email *models.Email) (enum.EmailClassification, string) {
	h := headers(email.RawHeaders)

	if ok, reason := isBounce(h, email.Subject, email.FromAddress); ok {
		return enum.EmailClassificationBounce, reason
	}
	if ok, reason := isAutoReply(h); ok {
		return enum.EmailClassificationAutoReply, reason
	}
	if ok, reason := isBulk(h, email.ReplyTo, email.FromAddress); ok {
		return enum.EmailClassificationBulk, reason
	}
	if isInternal(email) {
		return enum.EmailClassificationInternal, ""
	}
	return enum.EmailClassificationOK, ""
}

// Apply sets the classification columns on email.
func Apply(email *models.Email) {
	email.Classification, email.ClassificationReason = Classify(email)
}

func isBounce(h headers, subject, from string) (bool, string) {
	switch {
	case len(h.values("X-Failed-Recipients")) > 0:
		return true, "X-FAILED-RECIPIENTS header present"
	case strings.EqualFold(h.get("Content-Description"), "delivery report"):
		return true, "CONTENT-DESCRIPTION: DELIVERY REPORT header present"
	case hasMailerDaemon(h.get("Return-Path")):
		return true, "RETURN-PATH contains bounce keywords"
	case hasMailerDaemon(from):
		return true, "FROM contains bounce keywords"
	case isBounceSubject(subject):
		return true, "SUBJECT contains bounce keywords"
	}
	return false, ""
}

func hasMailerDaemon(s string) bool {
	return strings.Contains(strings.ToLower(s), "mailer-daemon")
}

func isBounceSubject(subject string) bool {
	subject = strings.ToLower(subject)
	for _, phrase := range bounceSubjects {
		if strings.Contains(subject, phrase) {
			return true
		}
	}
	return false
}

func isAutoReply(h headers) (bool, string) {
	switch {
	case h.get("X-Autoreply") != "":
		return true, "X-AUTOREPLY header present"
	case h.get("X-Autorespond") != "":
		return true, "X-AUTORESPOND header present"
	case h.has("X-Loop"):
		return true, "X-LOOP header present"
	case strings.EqualFold(h.get("Precedence"), "auto_reply"):
		return true, "PRECEDENCE: AUTO_REPLY header present"
	case h.get("Auto-Submitted") != "" && !strings.EqualFold(h.get("Auto-Submitted"), "no"):
		return true, "AUTO-SUBMITTED header present"
	}
	return false, ""
}

func isBulk(h headers, replyTo, from string) (bool, string) {
	switch {
	case h.has("List-Unsubscribe"):
		return true, "UNSUBSCRIBE header present"
	case strings.EqualFold(h.get("Precedence"), "bulk"), strings.EqualFold(h.get("Precedence"), "list"):
		return true, "PRECEDENCE: BULK header present"
	}

	if from == "" {
		return false, ""
	}
	sender := extractAddress(h.get("Sender"))
	if sender != "" && !strings.EqualFold(sender, from) {
		return true, "SENDER != FROM"
	}

	validation := mailvalidate.ValidateEmailSyntax(from)
	if validation.IsSystemGenerated {
		return true, "FROM is system generated"
	}
	if validation.IsRoleAccount && replyTo != "" && !strings.EqualFold(replyTo, from) {
		return true, "FROM is a role account with a different REPLY-TO"
	}
	return false, ""
}

// isInternal reports whether every recipient shares the sender's non-free domain.
func isInternal(email *models.Email) bool {
	sender := mailvalidate.ValidateEmailSyntax(email.FromAddress)
	if !sender.IsValid || sender.IsFreeAccount || sender.Domain == "" {
		return false
	}

	var recipients []string
	recipients = append(recipients, email.ToAddresses...)
	recipients = append(recipients, email.CcAddresses...)
	recipients = append(recipients, email.BccAddresses...)
	if len(recipients) == 0 {
		return false
	}

	for _, recipient := range recipients {
		validation := mailvalidate.ValidateEmailSyntax(recipient)
		if validation.Domain == "" {
			continue
		}
		if !strings.EqualFold(validation.Domain, sender.Domain) {
			return false
		}
	}
	return true
}

func extractAddress(value string) string {
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.Index(value[start:], ">"); end > 0 {
			return strings.TrimSpace(value[start+1 : start+end])
		}
	}
	return strings.TrimSpace(value)
}
