package transport

import (
	"io"
	"net"
	"sync"

	"github.com/libp2p/go-libp2p-switch/core/peer"
)

// Conn is a raw bidirectional byte stream. The remote peer's Info may be
// unknown when the connection is created (inbound connections before the
// security handshake) and is attached later with SetPeerInfo.
type Conn interface {
	io.ReadWriteCloser

	// SetPeerInfo attaches the remote peer's Info to the connection.
	SetPeerInfo(pi *peer.Info)

	// PeerInfo returns the remote peer's Info, or nil if not yet known.
	PeerInfo() *peer.Info
}

// Raw adapts a net.Conn (or any ReadWriteCloser) into a Conn. Transports
// embed or return it directly.
type Raw struct {
	io.ReadWriteCloser

	mu sync.RWMutex
	pi *peer.Info
}

var _ Conn = &Raw{}

func NewRaw(c io.ReadWriteCloser) *Raw {
	return &Raw{ReadWriteCloser: c}
}

// NewRawWithPeer returns a Raw with the peer info pre-populated, for
// outbound connections where the dialer already knows who it dialed.
func NewRawWithPeer(c io.ReadWriteCloser, pi *peer.Info) *Raw {
	return &Raw{ReadWriteCloser: c, pi: pi}
}

func (r *Raw) SetPeerInfo(pi *peer.Info) {
	r.mu.Lock()
	r.pi = pi
	r.mu.Unlock()
}

func (r *Raw) PeerInfo() *peer.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pi
}

// NetConn unwraps the underlying net.Conn if there is one.
func (r *Raw) NetConn() net.Conn {
	if c, ok := r.ReadWriteCloser.(net.Conn); ok {
		return c
	}
	return nil
}
