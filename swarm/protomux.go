package swarm

import (
	"io"

	mss "github.com/multiformats/go-multistream"

	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
)

// registerProtocols adds every registered protocol to the negotiation
// muxer m. Protocols registered with a matcher use it to decide
// acceptance; the rest match on string equality.
func (s *Switch) registerProtocols(m *mss.MultistreamMuxer[protocol.ID]) {
	s.mu.Lock()
	entries := make([]*protocolEntry, 0, len(s.protocolOrder))
	for _, id := range s.protocolOrder {
		entries = append(entries, s.protocols[id])
	}
	s.mu.Unlock()

	for _, e := range entries {
		e := e
		hf := func(p protocol.ID, rwc io.ReadWriteCloser) error {
			c, ok := rwc.(transport.Conn)
			if !ok {
				c = transport.NewRaw(rwc)
			}
			e.handler(p, c)
			return nil
		}
		if e.match != nil {
			m.AddHandlerWithFunc(e.id, e.match, hf)
		} else {
			m.AddHandler(e.id, hf)
		}
	}
}

// handleStream negotiates one of the registered protocols on the stream
// and dispatches it to the matching handler. This is the entry point for
// every incoming substream of a muxed connection.
func (s *Switch) handleStream(c transport.Conn) {
	m := mss.NewMultistreamMuxer[protocol.ID]()
	s.registerProtocols(m)

	proto, handler, err := m.Negotiate(c)
	if err != nil {
		log.Debugf("incoming stream negotiation failed: %v", err)
		c.Close()
		return
	}

	tapped := observer.Tap(c, "", proto, s.obs)
	if err := handler(proto, tapped); err != nil {
		log.Debugf("protocol %s handler: %v", proto, err)
	}
}

// shakeMuxed opens a substream on m and negotiates proto on it.
func (s *Switch) shakeMuxed(req *dialRequest, m mux.Conn) (transport.Conn, error) {
	stream, err := m.OpenStream(req.ctx)
	if err != nil {
		return nil, err
	}
	stream.SetPeerInfo(req.them)
	if err := mss.SelectProtoOrFail(req.proto, stream); err != nil {
		stream.Close()
		return nil, maybeUnexpectedEnd(err)
	}
	return observer.Tap(stream, "", req.proto, s.obs), nil
}
