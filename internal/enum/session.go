package enum

type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionConnecting  SessionState = "connecting"
	SessionReconciling SessionState = "reconciling"
	SessionFetching    SessionState = "fetching"
	SessionWatching    SessionState = "watching"
	SessionFailed      SessionState = "failed"
)

func (t SessionState) String() string {
	return string(t)
}

// ConnectionState is the protocol-level state of a single connection.
type ConnectionState string

const (
	ConnectionDisconnected  ConnectionState = "disconnected"
	ConnectionConnecting    ConnectionState = "connecting"
	ConnectionAuthenticated ConnectionState = "authenticated"
	ConnectionWatching      ConnectionState = "watching"
)

func (t ConnectionState) String() string {
	return string(t)
}

type PushEventKind string

const (
	PushEventNewMail      PushEventKind = "new_mail"
	PushEventExpunge      PushEventKind = "expunge"
	PushEventFlagsChanged PushEventKind = "flags_changed"
)

func (t PushEventKind) String() string {
	return string(t)
}
