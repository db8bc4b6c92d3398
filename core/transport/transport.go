package transport

import (
	"context"

	"github.com/libp2p/go-libp2p-switch/core/peer"

	ma "github.com/multiformats/go-multiaddr"
)

// Transport dials raw connections to remote peers and accepts raw
// connections from them. Connections handed out by a Transport carry no
// security and no multiplexing; the switch upgrades them.
type Transport interface {
	// Tag is the name the transport is registered under ("tcp", "ws",
	// "p2p-circuit", ...). Which addresses the transport can dial is
	// decided by Filter, not by the tag.
	Tag() string

	// Dial opens a raw connection to one of the peer's addresses.
	Dial(ctx context.Context, pi *peer.Info) (Conn, error)

	// CreateListener returns a listener that invokes handler for every
	// accepted raw connection.
	CreateListener(handler func(Conn)) Listener

	// Filter returns the subset of addrs this transport can dial.
	Filter(addrs []ma.Multiaddr) []ma.Multiaddr
}

type Listener interface {
	// Listen binds the listener to the given addresses.
	Listen(addrs ...ma.Multiaddr) error

	// Multiaddrs returns the addresses the listener is bound to.
	Multiaddrs() []ma.Multiaddr

	Close() error
}
