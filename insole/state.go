package insole

// SessionState is the lifecycle state of one device session. Exactly one
// state is current per DeviceHandle; transitions are driven by transport
// events and explicit API calls, never by decoded packet content.
type SessionState int

const (
	StateIdle SessionState = iota
	StateScanning
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can never leave this state.
func (s SessionState) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}
