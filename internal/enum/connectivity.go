package enum

type ConnectivityEventType string

const (
	ConnectivityConnected    ConnectivityEventType = "connected"
	ConnectivityDisconnected ConnectivityEventType = "disconnected"
	ConnectivityTypeChanged  ConnectivityEventType = "type_changed"
)

func (t ConnectivityEventType) String() string {
	return string(t)
}
