package model

// SessionStatus is the connection state of a tenant's messaging session.
// The handshake itself is an external collaborator; the pipeline only
// reads the resulting status.
type SessionStatus string

const (
	StatusNotInitialized SessionStatus = "not_initialized"
	StatusPendingQR      SessionStatus = "pending_qr"
	StatusConnected      SessionStatus = "connected"
	StatusDisconnected   SessionStatus = "disconnected"
	StatusError          SessionStatus = "error"
)

// Connected reports whether automatic message ingestion is meaningful.
func (s SessionStatus) Connected() bool {
	return s == StatusConnected
}
