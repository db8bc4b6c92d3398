package swarm

import (
	"context"
	"sync"

	mss "github.com/multiformats/go-multistream"

	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
)

// Inbound mirrors Outbound for accepted sockets. It starts in DIALED
// (the socket already exists), acts as the listener side of every
// negotiation, and takes the disconnect edge on any failure.
type Inbound struct {
	fsm

	sw *Switch

	// resMu guards conn, muxer and them: unlike Outbound, parts of the
	// inbound pipeline run on a negotiation goroutine that outlives the
	// UPGRADING entry action.
	resMu sync.Mutex
	conn  transport.Conn
	muxer mux.Conn
	them  *peer.Info

	done     chan struct{}
	doneOnce sync.Once
}

var _ ConnFSM = (*Inbound)(nil)

func newInbound(sw *Switch, c transport.Conn) *Inbound {
	in := &Inbound{
		sw:   sw,
		conn: c,
		done: make(chan struct{}),
	}
	in.fsm = fsm{
		name:  "conn-in",
		edges: inboundEdges,
		state: Dialed,
		enter: in.enter,
	}
	return in
}

// start drives the accepted socket into the upgrade pipeline.
func (in *Inbound) start() {
	if in.sw.protector != nil {
		in.trigger(evPrivatize)
		return
	}
	if in.handoffRaw() {
		return
	}
	in.trigger(evEncrypt)
}

// handoffRaw gives the connection to a caller-supplied raw handler,
// bypassing the rest of the pipeline. Reports whether it did.
func (in *Inbound) handoffRaw() bool {
	h := in.sw.rawHandler
	if h == nil {
		return false
	}
	in.resMu.Lock()
	c := in.conn
	in.conn = nil
	in.resMu.Unlock()
	go h(c)
	return true
}

func (in *Inbound) Disconnect() {
	in.trigger(evDisconnect)
}

func (in *Inbound) RemotePeer() *peer.Info {
	in.resMu.Lock()
	defer in.resMu.Unlock()
	return in.them
}

func (in *Inbound) Muxer() mux.Conn {
	in.resMu.Lock()
	defer in.resMu.Unlock()
	return in.muxer
}

func (in *Inbound) Done() <-chan struct{} {
	return in.done
}

func (in *Inbound) enter(st State) {
	switch st {
	case Privatizing:
		in.enterPrivatizing()
	case Privatized:
		log.Debugf("%s: private", in.name)
		if !in.handoffRaw() {
			in.trigger(evEncrypt)
		}
	case Encrypting:
		in.enterEncrypting()
	case Encrypted:
		log.Debugf("%s: encrypted", in.name)
		in.trigger(evUpgrade)
	case Upgrading:
		in.enterUpgrading()
	case Muxed:
		log.Debugf("%s: muxed", in.name)
	case Disconnecting:
		in.enterDisconnecting()
	case Disconnected:
		in.doneOnce.Do(func() { close(in.done) })
	}
}

func (in *Inbound) enterPrivatizing() {
	in.resMu.Lock()
	c := in.conn
	in.resMu.Unlock()

	pc, err := in.sw.protector.Protect(c)
	if err != nil {
		log.Debugf("%s: protector: %v", in.name, err)
		in.trigger(evDisconnect)
		return
	}
	in.resMu.Lock()
	in.conn = pc
	in.resMu.Unlock()
	in.trigger(evDone)
}

// enterEncrypting negotiates the security protocol as listener and runs
// the handshake without an expected identity; the remote peer is
// whoever the handshake authenticates.
func (in *Inbound) enterEncrypting() {
	in.resMu.Lock()
	c := in.conn
	in.resMu.Unlock()

	cryptoTag := protocol.ID(in.sw.crypto.Tag())
	m := mss.NewMultistreamMuxer[protocol.ID]()
	m.AddHandler(cryptoTag, nil)
	proto, _, err := m.Negotiate(c)
	if err != nil {
		log.Debugf("%s: security negotiation: %v", in.name, maybeUnexpectedEnd(err))
		in.trigger(evDisconnect)
		return
	}

	tapped := observer.Tap(c, "", proto, in.sw.obs)
	sconn, err := in.sw.crypto.Encrypt(context.Background(), in.sw.local, tapped, "")
	if err != nil {
		log.Debugf("%s: security handshake: %v", in.name, maybeUnexpectedEnd(err))
		in.trigger(evDisconnect)
		return
	}

	them := peer.NewInfo(sconn.RemotePeer())
	sconn.SetPeerInfo(them)
	in.resMu.Lock()
	in.conn = sconn
	in.them = them
	in.resMu.Unlock()
	in.trigger(evDone)
}

// enterUpgrading assembles one negotiation listener offering both the
// registered muxer codecs and the registered protocols, hands it to a
// goroutine to drive, and completes immediately: listeners accept
// whatever the remote selects.
func (in *Inbound) enterUpgrading() {
	muxers := in.sw.streamMuxers()
	byCodec := make(map[protocol.ID]mux.Transport, len(muxers))

	m := mss.NewMultistreamMuxer[protocol.ID]()
	for _, mt := range muxers {
		codec := protocol.ID(mt.Protocol())
		byCodec[codec] = mt
		m.AddHandler(codec, nil)
	}
	in.sw.registerProtocols(m)

	go in.negotiate(m, byCodec)
	in.trigger(evDone)
}

// negotiate runs the shared listener negotiation. A selected muxer codec
// upgrades the connection and feeds its substreams to the protocol
// muxer; a selected protocol is served directly over the encrypted
// connection (the unmuxed mode, one protocol per connection).
func (in *Inbound) negotiate(m *mss.MultistreamMuxer[protocol.ID], byCodec map[protocol.ID]mux.Transport) {
	in.resMu.Lock()
	c := in.conn
	them := in.them
	in.resMu.Unlock()

	proto, handler, err := m.Negotiate(c)
	if err != nil {
		log.Debugf("%s: upgrade negotiation: %v", in.name, maybeUnexpectedEnd(err))
		in.trigger(evDisconnect)
		return
	}

	tapped := observer.Tap(c, "", proto, in.sw.obs)

	mt, isMuxer := byCodec[proto]
	if !isMuxer {
		if handler != nil {
			if err := handler(proto, tapped); err != nil {
				log.Debugf("%s: protocol %s handler: %v", in.name, proto, err)
			}
		}
		return
	}

	mc, err := mt.NewConn(tapped, true)
	if err != nil {
		log.Debugf("%s: muxer %s: %v", in.name, proto, err)
		in.trigger(evDisconnect)
		return
	}

	in.resMu.Lock()
	in.muxer = mc
	in.resMu.Unlock()
	in.sw.addMuxedConn(them.ID(), in)
	in.sw.emitPeerMuxEstablished(them)

	for {
		s, err := mc.AcceptStream()
		if err != nil {
			in.trigger(evDisconnect)
			return
		}
		s.SetPeerInfo(them)
		go in.sw.handleStream(s)
	}
}

func (in *Inbound) enterDisconnecting() {
	in.resMu.Lock()
	them := in.them
	m := in.muxer
	c := in.conn
	in.muxer = nil
	in.conn = nil
	in.resMu.Unlock()

	if them != nil {
		them.Disconnect()
	}
	if m != nil {
		if err := m.Close(); err != nil && !shutdownOK(err) {
			log.Debugf("%s: muxer close: %v", in.name, err)
		}
		defer func() { go in.sw.emitPeerMuxClosed(them) }()
	}
	if c != nil {
		c.Close()
	}
	if them != nil {
		in.sw.removeConn(them.ID(), in)
	}
	in.trigger(evDone)
}
