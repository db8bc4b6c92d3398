// Package swarm implements the peer-to-peer connection switch: it dials
// peers across pluggable transports, upgrades raw sockets through an
// optional private-network protector, a security handshake and a stream
// muxer, and routes negotiated protocol streams to registered handlers.
package swarm

import (
	"context"

	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protector"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
)

var log = logrus.WithField("prefix", "swarm")

// CircuitTag is the registration tag of the relay transport. It sorts
// last during transport selection and is only dialed after every direct
// transport failed.
const CircuitTag = "p2p-circuit"

type lifecycle uint8

const (
	Stopped lifecycle = iota
	Starting
	Started
	Stopping
)

var lifecycleNames = map[lifecycle]string{
	Stopped:  "STOPPED",
	Starting: "STARTING",
	Started:  "STARTED",
	Stopping: "STOPPING",
}

func (l lifecycle) String() string { return lifecycleNames[l] }

// StreamHandler is invoked with the negotiated protocol and the stream.
// The protocol may differ from the registered one when the handler was
// registered with a matcher.
type StreamHandler func(proto protocol.ID, s transport.Conn)

type protocolEntry struct {
	id      protocol.ID
	handler StreamHandler
	match   func(protocol.ID) bool
}

// ConnFSM is the caller-visible face of a connection state machine,
// outbound or inbound.
type ConnFSM interface {
	// State returns the current lifecycle state.
	State() State

	// Muxer returns the established stream muxer, or nil for unmuxed
	// connections.
	Muxer() mux.Conn

	// RemotePeer returns the remote peer's Info.
	RemotePeer() *peer.Info

	// Disconnect tears the connection down.
	Disconnect()

	// Done is closed once the connection has fully wound down.
	Done() <-chan struct{}
}

// Switch is the top-level connection manager. It owns the transport,
// muxer and protocol registries and the tables of live connections.
type Switch struct {
	local     *peer.Info
	crypto    sec.Transport
	protector protector.Protector
	obs       observer.Reporter

	// rawHandler, when set, receives inbound connections right after the
	// protector layer, bypassing the rest of the upgrade pipeline.
	rawHandler func(transport.Conn)

	mu         sync.Mutex
	state      lifecycle
	transports map[string]transport.Transport
	transportOrder []string
	muxers     []mux.Transport
	protocols  map[protocol.ID]*protocolEntry
	protocolOrder []protocol.ID

	// conns holds encrypted-but-unmuxed connections; no later muxing
	// attempt is made on them, and protocol handshakes run directly on
	// the connection. muxedConns holds fully muxed ones. A peer has at
	// most one entry in muxedConns at any time.
	conns      map[peer.ID]*Outbound
	muxedConns map[peer.ID]ConnFSM

	listeners []transport.Listener

	dialer *dialScheduler

	notifMu sync.Mutex
	notifs  []Notifiee
}

// Opts carries the collaborators a Switch is built from. Crypto is
// mandatory; everything else is optional.
type Opts struct {
	Crypto     sec.Transport
	Protector  protector.Protector
	Observer   observer.Reporter
	RawHandler func(transport.Conn)
}

func NewSwitch(local *peer.Info, opts Opts) (*Switch, error) {
	if local == nil {
		return nil, errors.Errorf("local peer info is required")
	}
	if opts.Crypto == nil {
		return nil, errors.Errorf("a security transport is required")
	}
	s := &Switch{
		local:      local,
		crypto:     opts.Crypto,
		protector:  opts.Protector,
		obs:        opts.Observer,
		rawHandler: opts.RawHandler,
		transports: make(map[string]transport.Transport),
		protocols:  make(map[protocol.ID]*protocolEntry),
		conns:      make(map[peer.ID]*Outbound),
		muxedConns: make(map[peer.ID]ConnFSM),
	}
	s.dialer = newDialScheduler(s)
	return s, nil
}

// LocalPeer returns the Info of the local peer.
func (s *Switch) LocalPeer() *peer.Info {
	return s.local
}

// AddTransport registers a transport under its tag. Registration order
// is the dial preference order, except the circuit transport which is
// always tried last.
func (s *Switch) AddTransport(t transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := t.Tag()
	if _, dup := s.transports[tag]; !dup {
		s.transportOrder = append(s.transportOrder, tag)
	}
	s.transports[tag] = t
}

// Transport returns the transport registered under tag, or nil.
func (s *Switch) Transport(tag string) transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[tag]
}

// AddStreamMuxer appends a muxer to the negotiation list. Muxers are
// proposed to remote peers in insertion order.
func (s *Switch) AddStreamMuxer(m mux.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muxers = append(s.muxers, m)
}

func (s *Switch) streamMuxers() []mux.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]mux.Transport, len(s.muxers))
	copy(res, s.muxers)
	return res
}

// Handle registers a protocol handler. A nil match means exact string
// equality; otherwise match decides which negotiated protocol IDs the
// handler accepts.
func (s *Switch) Handle(proto protocol.ID, handler StreamHandler, match func(protocol.ID) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.protocols[proto]; !dup {
		s.protocolOrder = append(s.protocolOrder, proto)
	}
	s.protocols[proto] = &protocolEntry{id: proto, handler: handler, match: match}
}

// Unhandle removes a protocol handler.
func (s *Switch) Unhandle(proto protocol.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.protocols[proto]; !ok {
		return
	}
	delete(s.protocols, proto)
	for i, id := range s.protocolOrder {
		if id == proto {
			s.protocolOrder = append(s.protocolOrder[:i], s.protocolOrder[i+1:]...)
			break
		}
	}
}

// Start binds a listener for every transport that accepts one of the
// local addresses. Start on a started switch is a no-op; Start during
// STARTING or STOPPING is a state-transition error.
func (s *Switch) Start() error {
	s.mu.Lock()
	switch s.state {
	case Started:
		s.mu.Unlock()
		return nil
	case Starting, Stopping:
		st := s.state
		s.mu.Unlock()
		return errors.Errorf("invalid switch transition: start while %s", st)
	}
	s.state = Starting
	order := make([]string, len(s.transportOrder))
	copy(order, s.transportOrder)
	transports := make(map[string]transport.Transport, len(s.transports))
	for tag, t := range s.transports {
		transports[tag] = t
	}
	s.mu.Unlock()

	var listeners []transport.Listener
	for _, tag := range order {
		t := transports[tag]
		addrs := t.Filter(s.local.Addrs())
		if len(addrs) == 0 {
			continue
		}
		l := t.CreateListener(s.handleIncoming)
		if err := l.Listen(addrs...); err != nil {
			for _, open := range listeners {
				open.Close()
			}
			s.mu.Lock()
			s.state = Stopped
			s.mu.Unlock()
			return errors.Wrapf(err, "transport %s failed to listen", tag)
		}
		listeners = append(listeners, l)
	}

	s.mu.Lock()
	s.listeners = listeners
	s.state = Started
	s.mu.Unlock()
	s.dialer.reset()
	s.emitStarted()
	return nil
}

// Stop aborts pending dials, ends every muxer, disconnects every
// connection and closes every listener. Stop on a stopped switch is a
// no-op; Stop during STARTING or STOPPING is a state-transition error.
func (s *Switch) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return nil
	case Starting, Stopping:
		st := s.state
		s.mu.Unlock()
		return errors.Errorf("invalid switch transition: stop while %s", st)
	}
	s.state = Stopping
	active := make([]ConnFSM, 0, len(s.muxedConns)+len(s.conns))
	for _, c := range s.muxedConns {
		active = append(active, c)
	}
	for _, c := range s.conns {
		active = append(active, c)
	}
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	s.dialer.abort()

	for _, c := range active {
		c.Disconnect()
	}
	for _, c := range active {
		<-c.Done()
	}

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			log.Debugf("listener close: %v", err)
		}
	}

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	s.emitStopped()
	return nil
}

// ListenAddrs returns the addresses the switch's listeners are bound
// to. Empty unless the switch is started.
func (s *Switch) ListenAddrs() []ma.Multiaddr {
	s.mu.Lock()
	listeners := make([]transport.Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	var res []ma.Multiaddr
	for _, l := range listeners {
		res = append(res, l.Multiaddrs()...)
	}
	return res
}

// HangUp closes the connection to the given peer, if any, and blocks
// until it has wound down or ctx expires.
func (s *Switch) HangUp(ctx context.Context, them *peer.Info) error {
	s.mu.Lock()
	var targets []ConnFSM
	if c, ok := s.muxedConns[them.ID()]; ok {
		targets = append(targets, c)
	}
	if c, ok := s.conns[them.ID()]; ok {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.Disconnect()
	}
	for _, c := range targets {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MuxedConn returns the muxed connection FSM for the peer, or nil.
func (s *Switch) MuxedConn(id peer.ID) ConnFSM {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muxedConns[id]
}

// UnmuxedConn returns the encrypted-but-unmuxed connection for the peer,
// or nil.
func (s *Switch) UnmuxedConn(id peer.ID) *Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *Switch) addMuxedConn(id peer.ID, c ConnFSM) {
	s.mu.Lock()
	delete(s.conns, id)
	s.muxedConns[id] = c
	s.mu.Unlock()
}

func (s *Switch) addUnmuxedConn(id peer.ID, c *Outbound) {
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
}

// removeConn drops c from both tables. Only the registered FSM is
// removed, so a stale disconnect cannot evict a replacement connection.
func (s *Switch) removeConn(id peer.ID, c ConnFSM) {
	s.mu.Lock()
	if have, ok := s.muxedConns[id]; ok && have == c {
		delete(s.muxedConns, id)
	}
	if have, ok := s.conns[id]; ok && ConnFSM(have) == c {
		delete(s.conns, id)
	}
	s.mu.Unlock()
}

// availableTransports returns the tags able to dial at least one of the
// peer's addresses, in registration order with the circuit transport
// partitioned last.
func (s *Switch) availableTransports(them *peer.Info) []string {
	s.mu.Lock()
	order := make([]string, len(s.transportOrder))
	copy(order, s.transportOrder)
	transports := make(map[string]transport.Transport, len(s.transports))
	for tag, t := range s.transports {
		transports[tag] = t
	}
	s.mu.Unlock()

	addrs := them.Addrs()
	var res []string
	var circuit bool
	for _, tag := range order {
		if len(transports[tag].Filter(addrs)) == 0 {
			continue
		}
		if tag == CircuitTag {
			circuit = true
			continue
		}
		res = append(res, tag)
	}
	if circuit {
		res = append(res, CircuitTag)
	}
	return res
}

func (s *Switch) hasNonCircuitTransport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag := range s.transports {
		if tag != CircuitTag {
			return true
		}
	}
	return false
}

// handleIncoming is the accept handler every listener is created with.
func (s *Switch) handleIncoming(c transport.Conn) {
	in := newInbound(s, c)
	in.start()
}

// Dial ensures a connection to the peer and, when proto is non-empty,
// opens a stream and negotiates the protocol on it. Concurrent dials to
// the same peer share a single transport dial and a single muxer.
func (s *Switch) Dial(ctx context.Context, them *peer.Info, proto protocol.ID) (transport.Conn, error) {
	if them.ID() == s.local.ID() {
		s.emitError(ErrDialSelf)
		return nil, ErrDialSelf
	}
	req := newDialRequest(ctx, them, proto, false)
	s.dialer.add(req)
	select {
	case res := <-req.res:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DialFSM is like Dial but surfaces the connection state machine to the
// caller instead of a negotiated stream.
func (s *Switch) DialFSM(ctx context.Context, them *peer.Info, proto protocol.ID) (ConnFSM, error) {
	if them.ID() == s.local.ID() {
		s.emitError(ErrDialSelf)
		return nil, ErrDialSelf
	}
	req := newDialRequest(ctx, them, proto, true)
	s.dialer.add(req)
	select {
	case res := <-req.res:
		return res.fsm, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
