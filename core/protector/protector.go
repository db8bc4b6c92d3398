package protector

import (
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

// Protector wraps a raw transport connection with a private-network
// layer (typically a pre-shared key cipher) before the security
// handshake runs.
type Protector interface {
	Protect(c transport.Conn) (transport.Conn, error)
}
