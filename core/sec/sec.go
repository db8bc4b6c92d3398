package sec

import (
	"context"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

// Conn is a connection whose payload is encrypted and whose remote
// identity has been authenticated by the handshake.
type Conn interface {
	transport.Conn

	// LocalPeer returns our peer ID
	LocalPeer() peer.ID

	// RemotePeer returns the cryptographically authenticated identity of
	// the remote peer.
	RemotePeer() peer.ID
}

// Transport secures a raw connection. The protocol selection (which
// security protocol to speak) happens before Encrypt is called; Encrypt
// only runs the handshake.
type Transport interface {
	// Tag is the protocol string announced during negotiation,
	// e.g. "/noise" or "/plaintext/1.0.0".
	Tag() string

	// Encrypt runs the handshake over insecure. On the dialing side
	// remote holds the identity we expect to find; listeners pass an
	// empty remote and learn the identity from the handshake.
	Encrypt(ctx context.Context, local *peer.Info, insecure transport.Conn, remote peer.ID) (Conn, error)
}
