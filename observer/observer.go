// Package observer meters the bytes flowing through the switch's
// connections, tagging them with the transport, the negotiated protocol
// and the remote peer.
package observer

import (
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

// Reporter receives one callback per read or write on a tapped
// connection. pi may be nil while the remote identity is still unknown.
type Reporter interface {
	LogSent(transportTag string, proto protocol.ID, pi *peer.Info, n int64)
	LogRecv(transportTag string, proto protocol.ID, pi *peer.Info, n int64)
}

type tappedConn struct {
	transport.Conn

	transportTag string
	proto        protocol.ID
	rep          Reporter
}

// Tap wraps c so that every byte read or written is reported. Either tag
// may be empty when unknown at that layer (a raw transport connection has
// no protocol yet, a negotiated substream has no transport of its own).
//
// The remote peer is resolved lazily: each callback reads the underlying
// connection's current PeerInfo, so taps created before the security
// handshake start reporting the peer as soon as SetPeerInfo lands.
func Tap(c transport.Conn, transportTag string, proto protocol.ID, rep Reporter) transport.Conn {
	if rep == nil {
		return c
	}
	return &tappedConn{Conn: c, transportTag: transportTag, proto: proto, rep: rep}
}

func (t *tappedConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.rep.LogRecv(t.transportTag, t.proto, t.Conn.PeerInfo(), int64(n))
	}
	return n, err
}

func (t *tappedConn) Write(p []byte) (int, error) {
	n, err := t.Conn.Write(p)
	if n > 0 {
		t.rep.LogSent(t.transportTag, t.proto, t.Conn.PeerInfo(), int64(n))
	}
	return n, err
}
