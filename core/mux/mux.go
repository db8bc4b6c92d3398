package mux

import (
	"context"

	"github.com/libp2p/go-libp2p-switch/core/transport"
)

// Transport instantiates a stream muxer over an already secured
// connection.
type Transport interface {
	// Protocol is the multicodec announced during negotiation,
	// e.g. "/yamux/1.0.0".
	Protocol() string

	// NewConn wraps the connection. Exactly one side must be the server.
	NewConn(c transport.Conn, server bool) (Conn, error)
}

// Conn multiplexes logical substreams over one connection. Substreams
// are transport.Conns so the remote peer's Info can be attached to them.
//
// A closed session surfaces as an error from AcceptStream; the switch
// treats that as the connection's close signal.
type Conn interface {
	// OpenStream creates a new substream.
	OpenStream(ctx context.Context) (transport.Conn, error)

	// AcceptStream blocks until the remote side opens a substream.
	AcceptStream() (transport.Conn, error)

	// Close closes the muxer and the underlying connection.
	Close() error

	// IsClosed returns whether the session is fully closed.
	IsClosed() bool
}
