package swarm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	ma "github.com/multiformats/go-multiaddr"
	mss "github.com/multiformats/go-multistream"

	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
)

// Outbound owns the upgrade pipeline of one outgoing connection: raw
// dial, optional private-network protection, security handshake, muxer
// negotiation. Fields below the fsm are written only from entry actions,
// which the fsm serializes, except markedAborted, which Abort sets.
type Outbound struct {
	fsm

	sw   *Switch
	them *peer.Info

	// connMu guards the conn pointer so Disconnect and Abort can close
	// an in-flight connection out from under a blocked entry action.
	connMu sync.Mutex
	conn   transport.Conn

	muxer mux.Conn

	circuitTried bool

	errOnce sync.Once
	err     error

	ready chan struct{}
	done  chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once

	// markedAborted is set when an abort arrived in a state with no
	// abort edge; the dial queue disconnects such connections once they
	// settle.
	markedAborted atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

var _ ConnFSM = (*Outbound)(nil)

func NewOutbound(sw *Switch, them *peer.Info) *Outbound {
	o := &Outbound{
		sw:    sw,
		them:  them,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	o.fsm = fsm{
		name:  "conn-out " + them.ID().String(),
		edges: outboundEdges,
		state: Disconnected,
		enter: o.enter,
	}
	return o
}

// Dial starts the pipeline. It returns once the connection settles in
// MUXED or CONNECTED, or fails.
func (o *Outbound) Dial() {
	o.trigger(evDial)
}

// Disconnect tears the connection down from any state that admits it.
// In-flight dials and handshakes are interrupted.
func (o *Outbound) Disconnect() {
	if o.trigger(evDisconnect) {
		o.interrupt()
	}
}

// Abort cancels the connection attempt. States without an abort edge
// fall back to an immediate disconnect, or, failing that, mark the
// connection so its owner disconnects it once it settles.
func (o *Outbound) Abort() {
	if o.trigger(evAbort) {
		o.interrupt()
		return
	}
	if o.trigger(evDisconnect) {
		o.interrupt()
		return
	}
	o.markedAborted.Store(true)
}

// RemotePeer returns the remote peer's Info.
func (o *Outbound) RemotePeer() *peer.Info {
	return o.them
}

// Muxer returns the established muxer, or nil while unmuxed.
func (o *Outbound) Muxer() mux.Conn {
	return o.muxer
}

// Ready is closed when the connection settles in MUXED or CONNECTED.
func (o *Outbound) Ready() <-chan struct{} {
	return o.ready
}

// Done is closed when the connection reaches DISCONNECTED or ABORTED.
func (o *Outbound) Done() <-chan struct{} {
	return o.done
}

// Err returns the first terminal error observed, if any. Valid after
// Ready or Done.
func (o *Outbound) Err() error {
	return o.err
}

func (o *Outbound) setErr(err error) {
	o.errOnce.Do(func() { o.err = err })
}

// fail routes pipeline failures through the errored state.
func (o *Outbound) fail(err error) {
	o.setErr(err)
	o.trigger(evError)
}

func (o *Outbound) interrupt() {
	o.cancelMu.Lock()
	cancel := o.cancel
	o.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	// Entry actions blocked on handshake I/O only notice the teardown
	// when the socket dies.
	if c := o.curConn(); c != nil {
		c.Close()
	}
}

func (o *Outbound) setConn(c transport.Conn) {
	o.connMu.Lock()
	o.conn = c
	o.connMu.Unlock()
}

func (o *Outbound) curConn() transport.Conn {
	o.connMu.Lock()
	defer o.connMu.Unlock()
	return o.conn
}

// inflight returns a context that Disconnect and Abort cancel.
func (o *Outbound) inflight() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
	return ctx, func() {
		o.cancelMu.Lock()
		o.cancel = nil
		o.cancelMu.Unlock()
		cancel()
	}
}

func (o *Outbound) enter(st State) {
	switch st {
	case Dialing:
		o.enterDialing()
	case Dialed:
		log.Debugf("%s: connected", o.name)
		o.drive(evEncrypt, evPrivatize)
	case Privatizing:
		o.enterPrivatizing()
	case Privatized:
		log.Debugf("%s: private", o.name)
		o.trigger(evEncrypt)
	case Encrypting:
		o.enterEncrypting()
	case Encrypted:
		log.Debugf("%s: encrypted", o.name)
		o.trigger(evUpgrade)
	case Upgrading:
		o.enterUpgrading()
	case Muxed:
		log.Debugf("%s: muxed", o.name)
		o.readyOnce.Do(func() { close(o.ready) })
	case Connected:
		log.Debugf("%s: unmuxed", o.name)
		o.sw.addUnmuxedConn(o.them.ID(), o)
		o.readyOnce.Do(func() { close(o.ready) })
	case Disconnecting:
		o.enterDisconnecting()
	case Disconnected:
		o.doneOnce.Do(func() { close(o.done) })
	case Aborted:
		o.setErr(ErrDialAborted)
		if c := o.curConn(); c != nil {
			c.Close()
			o.setConn(nil)
		}
		o.doneOnce.Do(func() { close(o.done) })
	case Errored:
		err := o.err
		if err == nil {
			err = errors.Errorf("%s: unknown connection error", o.name)
		}
		o.sw.emitError(err)
		o.trigger(evDisconnect)
	}
}

// drive picks the next pipeline event after a passive state: privatize
// when a protector is configured, otherwise the given default.
func (o *Outbound) drive(def, withProtector Event) {
	if o.sw.protector != nil {
		o.trigger(withProtector)
		return
	}
	o.trigger(def)
}

// enterDialing walks the available transports in order. Direct
// transports first; if all of them fail and a circuit transport is
// registered, the peer's address set gains a circuit address and the
// relay is tried exactly once.
func (o *Outbound) enterDialing() {
	if !o.sw.hasNonCircuitTransport() {
		o.setErr(ErrNoTransports)
		o.sw.emitError(ErrNoTransports)
		o.trigger(evDisconnect)
		return
	}

	ctx, done := o.inflight()
	defer done()

	var derr *multierror.Error
	for _, tag := range o.sw.availableTransports(o.them) {
		if tag == CircuitTag {
			continue
		}
		if o.dialOne(ctx, tag, &derr) {
			return
		}
	}

	if ct := o.sw.Transport(CircuitTag); ct != nil && !o.circuitTried {
		o.circuitTried = true
		caddr, err := ma.NewMultiaddr("/p2p-circuit/ipfs/" + o.them.ID().String())
		if err == nil && !o.them.HasAddr(caddr) {
			o.them.AddAddr(caddr)
		}
		if o.dialOne(ctx, CircuitTag, &derr) {
			return
		}
	}

	// An abort that landed during the dial has already moved the FSM to
	// ABORTED; that entry action records ErrDialAborted.
	if o.State() == Aborted {
		return
	}

	err := errors.Errorf("could not dial peer %s: all transports failed", o.them.ID())
	if derr.ErrorOrNil() != nil {
		err = errors.Wrapf(derr.ErrorOrNil(), "could not dial peer %s", o.them.ID())
	}
	o.setErr(err)
	o.trigger(evDisconnect)
}

// dialOne tries a single transport. Per-dial failures are absorbed into
// derr and drive fallback to the next transport.
func (o *Outbound) dialOne(ctx context.Context, tag string, derr **multierror.Error) bool {
	t := o.sw.Transport(tag)
	if t == nil {
		return false
	}
	c, err := t.Dial(ctx, o.them)
	if err != nil {
		log.Debugf("%s: transport %s failed: %v", o.name, tag, err)
		*derr = multierror.Append(*derr, errors.Wrapf(err, "transport %s", tag))
		return false
	}
	c.SetPeerInfo(o.them)
	o.setConn(observer.Tap(c, tag, "", o.sw.obs))
	o.trigger(evDone)
	return true
}

func (o *Outbound) enterPrivatizing() {
	pc, err := o.sw.protector.Protect(o.curConn())
	if err != nil {
		o.setErr(err)
		o.trigger(evDisconnect)
		return
	}
	o.setConn(pc)
	o.trigger(evDone)
}

// enterEncrypting negotiates the security protocol as dialer and runs
// the handshake, expecting the configured remote identity.
func (o *Outbound) enterEncrypting() {
	ctx, done := o.inflight()
	defer done()

	conn := o.curConn()
	cryptoTag := protocol.ID(o.sw.crypto.Tag())
	if err := mss.SelectProtoOrFail(cryptoTag, conn); err != nil {
		o.fail(maybeUnexpectedEnd(err))
		return
	}

	tapped := observer.Tap(conn, "", cryptoTag, o.sw.obs)
	sconn, err := o.sw.crypto.Encrypt(ctx, o.sw.local, tapped, o.them.ID())
	if err != nil {
		o.fail(maybeUnexpectedEnd(err))
		return
	}
	sconn.SetPeerInfo(o.them)
	o.setConn(sconn)
	o.trigger(evDone)
}

// enterUpgrading proposes the registered muxers in insertion order. The
// first accepted one is instantiated as dialer and registered in the
// switch's muxed table. When the remote rejects all of them the
// connection is kept encrypted-only.
func (o *Outbound) enterUpgrading() {
	muxers := o.sw.streamMuxers()
	if len(muxers) == 0 {
		o.trigger(evStop)
		return
	}

	byCodec := make(map[protocol.ID]mux.Transport, len(muxers))
	codecs := make([]protocol.ID, 0, len(muxers))
	for _, mt := range muxers {
		codec := protocol.ID(mt.Protocol())
		byCodec[codec] = mt
		codecs = append(codecs, codec)
	}

	conn := o.curConn()
	selected, err := mss.SelectOneOf(codecs, conn)
	if err != nil {
		if negotiationRejected(err) {
			o.trigger(evStop)
			return
		}
		o.fail(maybeUnexpectedEnd(err))
		return
	}

	tapped := observer.Tap(conn, "", selected, o.sw.obs)
	m, err := byCodec[selected].NewConn(tapped, false)
	if err != nil {
		o.fail(err)
		return
	}
	o.muxer = m
	o.sw.addMuxedConn(o.them.ID(), o)
	go o.acceptStreams(m)
	o.sw.emitPeerMuxEstablished(o.them)
	o.trigger(evDone)
}

// acceptStreams feeds incoming substreams to the protocol muxer until
// the session closes, which disconnects the FSM.
func (o *Outbound) acceptStreams(m mux.Conn) {
	for {
		s, err := m.AcceptStream()
		if err != nil {
			o.trigger(evDisconnect)
			return
		}
		s.SetPeerInfo(o.them)
		go o.sw.handleStream(s)
	}
}

func (o *Outbound) enterDisconnecting() {
	// Only the remote Info is disconnected; the local one is
	// process-global.
	o.them.Disconnect()

	if m := o.muxer; m != nil {
		if err := m.Close(); err != nil && !shutdownOK(err) {
			log.Debugf("%s: muxer close: %v", o.name, err)
		}
		them := o.them
		// Deliver after this entry action has returned.
		defer func() { go o.sw.emitPeerMuxClosed(them) }()
	}
	if c := o.curConn(); c != nil {
		c.Close()
	}
	o.muxer = nil
	o.setConn(nil)
	o.sw.removeConn(o.them.ID(), o)
	o.trigger(evDone)
}

// Shake performs the protocol handshake for proto. With a muxer present
// it runs on a fresh substream; otherwise it runs directly on the
// encrypted connection, which then speaks that single protocol for its
// whole lifetime.
func (o *Outbound) Shake(ctx context.Context, proto protocol.ID) (transport.Conn, error) {
	if proto == "" {
		return nil, nil
	}
	if m := o.muxer; m != nil {
		stream, err := m.OpenStream(ctx)
		if err != nil {
			return nil, err
		}
		stream.SetPeerInfo(o.them)
		if err := mss.SelectProtoOrFail(proto, stream); err != nil {
			stream.Close()
			return nil, maybeUnexpectedEnd(err)
		}
		return observer.Tap(stream, "", proto, o.sw.obs), nil
	}

	c := o.curConn()
	if c == nil {
		return nil, errors.Errorf("%s: no connection to shake on", o.name)
	}
	c.SetPeerInfo(o.them)
	if err := mss.SelectProtoOrFail(proto, c); err != nil {
		return nil, maybeUnexpectedEnd(err)
	}
	return observer.Tap(c, "", proto, o.sw.obs), nil
}
