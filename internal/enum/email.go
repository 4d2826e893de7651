package enum

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecuritySSL      EmailSecurity = "ssl"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

// Implicit reports whether the transport is TLS from the first byte.
func (t EmailSecurity) Implicit() bool {
	return t == EmailSecuritySSL || t == EmailSecurityTLS
}

type AuthMode string

const (
	AuthModePassword AuthMode = "password"
	AuthModeOAuth2   AuthMode = "oauth2"
)

func (t AuthMode) String() string {
	return string(t)
}

type EmailSyncState string

const (
	EmailSyncStateSynced       EmailSyncState = "synced"
	EmailSyncStatePendingWrite EmailSyncState = "pending_write"
)

func (t EmailSyncState) String() string {
	return string(t)
}

type EmailClassification string

const (
	EmailClassificationOK        EmailClassification = "ok"
	EmailClassificationBounce    EmailClassification = "bounce"
	EmailClassificationAutoReply EmailClassification = "auto_reply"
	EmailClassificationBulk      EmailClassification = "bulk"
	EmailClassificationInternal  EmailClassification = "internal"
)

func (t EmailClassification) String() string {
	return string(t)
}
