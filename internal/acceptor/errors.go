package acceptor

import "fmt"

// HandshakeError is logged when a message arrives out of
// turn during the handshake's strict state sequence. The connection is
// always closed alongside this error.
type HandshakeError struct {
	RemoteAddr string
	State      string
	Reason     string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("acceptor: handshake violation from %s in state %s: %s", e.RemoteAddr, e.State, e.Reason)
}
