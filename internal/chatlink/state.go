package chatlink

// ConnectionState is the lifecycle state of a Link.
type ConnectionState string

const (
	StateUninitialized ConnectionState = "uninitialized"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateDisconnected  ConnectionState = "disconnected"
	StateFailed        ConnectionState = "failed"
)

// String returns the state name.
func (s ConnectionState) String() string {
	return string(s)
}

// hasSession reports whether the transport may hold an open or opening
// session in this state.
func (s ConnectionState) hasSession() bool {
	switch s {
	case StateConnecting, StateConnected, StateDisconnecting, StateFailed:
		return true
	default:
		return false
	}
}
