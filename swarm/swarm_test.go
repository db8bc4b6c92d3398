package swarm_test

import (
	"context"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
	"github.com/libp2p/go-libp2p-switch/p2p/mux/yamux"
	"github.com/libp2p/go-libp2p-switch/p2p/security/plaintext"
	"github.com/libp2p/go-libp2p-switch/swarm"
)

const waitTime = 2 * time.Second

// hub wires fake transports together: fake multiaddrs map to real
// loopback TCP listeners, so the byte streams behave like production
// sockets.
type hub struct {
	mu  sync.Mutex
	eps map[string]string // fake maddr -> real tcp address
}

func newHub() *hub {
	return &hub{eps: make(map[string]string)}
}

func (h *hub) register(maddr ma.Multiaddr, tcpAddr string) {
	h.mu.Lock()
	h.eps[maddr.String()] = tcpAddr
	h.mu.Unlock()
}

func (h *hub) unregister(maddr ma.Multiaddr) {
	h.mu.Lock()
	delete(h.eps, maddr.String())
	h.mu.Unlock()
}

func (h *hub) lookup(maddr ma.Multiaddr) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr, ok := h.eps[maddr.String()]
	return addr, ok
}

// fakeTransport dials through the hub. Dial failures can be injected and
// every dial attempt is counted.
type fakeTransport struct {
	tag   string
	match func(ma.Multiaddr) bool
	hub   *hub

	dials   atomic.Int32
	mu      sync.Mutex
	dialErr error
}

var _ transport.Transport = &fakeTransport{}

func (t *fakeTransport) Tag() string { return t.tag }

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	t.dialErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) Filter(addrs []ma.Multiaddr) []ma.Multiaddr {
	var res []ma.Multiaddr
	for _, a := range addrs {
		if t.match(a) {
			res = append(res, a)
		}
	}
	return res
}

func (t *fakeTransport) Dial(ctx context.Context, pi *peer.Info) (transport.Conn, error) {
	t.dials.Add(1)
	t.mu.Lock()
	derr := t.dialErr
	t.mu.Unlock()
	if derr != nil {
		return nil, derr
	}
	for _, addr := range t.Filter(pi.Addrs()) {
		realAddr, ok := t.hub.lookup(addr)
		if !ok {
			continue
		}
		nc, err := net.Dial("tcp", realAddr)
		if err != nil {
			continue
		}
		pi.Connect(addr)
		return transport.NewRawWithPeer(nc, pi), nil
	}
	return nil, io.ErrUnexpectedEOF
}

func (t *fakeTransport) CreateListener(handler func(transport.Conn)) transport.Listener {
	return &fakeListener{t: t, handler: handler}
}

type fakeListener struct {
	t       *fakeTransport
	handler func(transport.Conn)

	mu     sync.Mutex
	ln     []net.Listener
	maddrs []ma.Multiaddr
}

func (l *fakeListener) Listen(addrs ...ma.Multiaddr) error {
	for _, addr := range addrs {
		nl, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		l.t.hub.register(addr, nl.Addr().String())
		l.mu.Lock()
		l.ln = append(l.ln, nl)
		l.maddrs = append(l.maddrs, addr)
		l.mu.Unlock()
		go func(nl net.Listener) {
			for {
				c, err := nl.Accept()
				if err != nil {
					return
				}
				go l.handler(transport.NewRaw(c))
			}
		}(nl)
	}
	return nil
}

func (l *fakeListener) Multiaddrs() []ma.Multiaddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]ma.Multiaddr, len(l.maddrs))
	copy(res, l.maddrs)
	return res
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, nl := range l.ln {
		nl.Close()
	}
	for _, maddr := range l.maddrs {
		l.t.hub.unregister(maddr)
	}
	l.ln = nil
	l.maddrs = nil
	return nil
}

func matchTCP(a ma.Multiaddr) bool {
	protos := a.Protocols()
	return len(protos) == 2 && protos[1].Code == ma.P_TCP
}

func matchWS(a ma.Multiaddr) bool {
	protos := a.Protocols()
	return len(protos) == 3 && protos[2].Code == ma.P_WS
}

func matchCircuit(a ma.Multiaddr) bool {
	for _, p := range a.Protocols() {
		if p.Code == ma.P_CIRCUIT {
			return true
		}
	}
	return false
}

var nextPort atomic.Int32

func fakeAddr(t *testing.T, tmpl string) ma.Multiaddr {
	t.Helper()
	port := 20000 + nextPort.Add(1)
	addr, err := ma.NewMultiaddr(strings.Replace(tmpl, "PORT", strconv.Itoa(int(port)), 1))
	require.NoError(t, err)
	return addr
}

type node struct {
	sw         *swarm.Switch
	info       *peer.Info
	tcp        *fakeTransport
	transports map[string]*fakeTransport
}

type nodeSetup struct {
	opts       swarm.Opts
	addrTmpls  []string
	transports map[string]func(ma.Multiaddr) bool
	noMuxer    bool
	circuit    bool
}

type nodeOpt func(*nodeSetup)

func withOpts(o swarm.Opts) nodeOpt {
	return func(ns *nodeSetup) { ns.opts = o }
}

func withTransport(tag string, match func(ma.Multiaddr) bool) nodeOpt {
	return func(ns *nodeSetup) { ns.transports[tag] = match }
}

func withAddr(tmpl string) nodeOpt {
	return func(ns *nodeSetup) { ns.addrTmpls = append(ns.addrTmpls, tmpl) }
}

func withoutMuxer() nodeOpt {
	return func(ns *nodeSetup) { ns.noMuxer = true }
}

// withCircuit makes the node reachable through the relay transport.
func withCircuit() nodeOpt {
	return func(ns *nodeSetup) {
		ns.circuit = true
		ns.transports[swarm.CircuitTag] = matchCircuit
	}
}

// newNode builds a started switch wired to the hub: fake tcp transport,
// plaintext security and the yamux muxer by default.
func newNode(t *testing.T, h *hub, opts ...nodeOpt) *node {
	t.Helper()

	ns := &nodeSetup{
		opts:       swarm.Opts{Crypto: plaintext.New()},
		addrTmpls:  []string{"/ip4/127.0.0.1/tcp/PORT"},
		transports: map[string]func(ma.Multiaddr) bool{"tcp": matchTCP},
	}
	for _, o := range opts {
		o(ns)
	}
	if ns.opts.Crypto == nil {
		ns.opts.Crypto = plaintext.New()
	}

	privk, _, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(privk)
	require.NoError(t, err)

	local := peer.NewInfo(id)
	for _, tmpl := range ns.addrTmpls {
		local.AddAddr(fakeAddr(t, tmpl))
	}
	if ns.circuit {
		caddr, err := ma.NewMultiaddr("/p2p-circuit/ipfs/" + id.String())
		require.NoError(t, err)
		local.AddAddr(caddr)
	}

	sw, err := swarm.NewSwitch(local, ns.opts)
	require.NoError(t, err)

	n := &node{sw: sw, transports: make(map[string]*fakeTransport)}
	// Register in sorted tag order so dial preference is deterministic:
	// "tcp" is tried before "ws".
	tags := make([]string, 0, len(ns.transports))
	for tag := range ns.transports {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		match := ns.transports[tag]
		ft := &fakeTransport{tag: tag, match: match, hub: h}
		sw.AddTransport(ft)
		n.transports[tag] = ft
	}
	n.tcp = n.transports["tcp"]
	if !ns.noMuxer {
		sw.AddStreamMuxer(yamux.New())
	}

	require.NoError(t, sw.Start())
	t.Cleanup(func() { sw.Stop() })

	info := peer.NewInfo(id)
	info.AddAddrs(local.Addrs()...)
	n.info = info
	return n
}

func echoHandler(proto protocol.ID, s transport.Conn) {
	defer s.Close()
	io.Copy(s, s)
}

func requireEcho(t *testing.T, s transport.Conn) {
	t.Helper()
	msg := []byte("hello switch")
	_, err := s.Write(msg)
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTime)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDialHappyPath(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	b.sw.Handle("/proto/1", echoHandler, nil)

	var established atomic.Int32
	a.sw.Notify(&swarm.NotifyBundle{
		PeerMuxEstablishedF: func(_ *swarm.Switch, pi *peer.Info) {
			if pi.ID() == b.info.ID() {
				established.Add(1)
			}
		},
	})

	s, err := a.sw.Dial(context.Background(), b.info, "/proto/1")
	require.NoError(t, err)
	require.NotNil(t, s)

	// the substream knows who it talks to
	require.NotNil(t, s.PeerInfo())
	require.Equal(t, b.info.ID(), s.PeerInfo().ID())

	require.Equal(t, int32(1), established.Load())

	c := a.sw.MuxedConn(b.info.ID())
	require.NotNil(t, c)
	require.Equal(t, swarm.Muxed, c.State())

	requireEcho(t, s)
}

func TestDialFSM(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	c, err := a.sw.DialFSM(context.Background(), b.info, "")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, swarm.Muxed, c.State())
	require.NotNil(t, c.Muxer())
	require.Equal(t, b.info.ID(), c.RemotePeer().ID())
}

func TestTransportFallback(t *testing.T) {
	h := newHub()
	a := newNode(t, h, withTransport("ws", matchWS))
	b := newNode(t, h,
		withTransport("ws", matchWS),
		withAddr("/ip4/127.0.0.1/tcp/PORT/ws"))

	// a's tcp transport is broken; the dial must fall back to ws.
	a.tcp.setDialErr(io.ErrUnexpectedEOF)

	c, err := a.sw.DialFSM(context.Background(), b.info, "")
	require.NoError(t, err)
	require.Equal(t, swarm.Muxed, c.State())

	// one failed tcp attempt, one successful ws attempt
	require.Equal(t, int32(1), a.tcp.dials.Load())
	require.Equal(t, int32(1), a.transports["ws"].dials.Load())
}

func TestCircuitFallback(t *testing.T) {
	h := newHub()
	a := newNode(t, h, withTransport(swarm.CircuitTag, matchCircuit))
	b := newNode(t, h, withCircuit())

	circuitAddr, err := ma.NewMultiaddr("/p2p-circuit/ipfs/" + b.info.ID().String())
	require.NoError(t, err)

	// b's direct address is unreachable from a
	a.tcp.setDialErr(io.ErrUnexpectedEOF)

	them := peer.NewInfo(b.info.ID())
	for _, addr := range b.info.Addrs() {
		if !matchCircuit(addr) {
			them.AddAddr(addr)
		}
	}
	require.False(t, them.HasAddr(circuitAddr))

	c, err := a.sw.DialFSM(context.Background(), them, "")
	require.NoError(t, err)
	require.Equal(t, swarm.Muxed, c.State())

	// the circuit address was added to the peer exactly once
	count := 0
	for _, addr := range them.Addrs() {
		if addr.Equal(circuitAddr) {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, int32(1), a.transports[swarm.CircuitTag].dials.Load())
}

func TestDialCoalescing(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	protos := []protocol.ID{"/p/1", "/p/2", "/p/3", "/p/4", "/p/5"}
	for _, p := range protos {
		b.sw.Handle(p, echoHandler, nil)
	}

	var established atomic.Int32
	b.sw.Notify(&swarm.NotifyBundle{
		PeerMuxEstablishedF: func(*swarm.Switch, *peer.Info) { established.Add(1) },
	})

	var wg sync.WaitGroup
	conns := make([]transport.Conn, len(protos))
	errs := make([]error, len(protos))
	for i, p := range protos {
		wg.Add(1)
		go func(i int, p protocol.ID) {
			defer wg.Done()
			conns[i], errs[i] = a.sw.Dial(context.Background(), b.info, p)
		}(i, p)
	}
	wg.Wait()

	for i := range protos {
		require.NoError(t, errs[i])
		require.NotNil(t, conns[i])
		requireEcho(t, conns[i])
	}

	// exactly one transport dial and one muxer for all five requests
	require.Equal(t, int32(1), a.tcp.dials.Load())
	require.Equal(t, int32(1), established.Load())
}

func TestDialSelf(t *testing.T) {
	h := newHub()
	a := newNode(t, h)

	var gotErr atomic.Value
	a.sw.Notify(&swarm.NotifyBundle{
		ErrorF: func(_ *swarm.Switch, err error) { gotErr.Store(err) },
	})

	_, err := a.sw.Dial(context.Background(), a.sw.LocalPeer(), "/proto/1")
	require.ErrorIs(t, err, swarm.ErrDialSelf)
	require.ErrorIs(t, gotErr.Load().(error), swarm.ErrDialSelf)

	// no connection state was created
	require.Nil(t, a.sw.MuxedConn(a.sw.LocalPeer().ID()))
	require.Nil(t, a.sw.UnmuxedConn(a.sw.LocalPeer().ID()))
}

func TestNoTransports(t *testing.T) {
	h := newHub()
	b := newNode(t, h)

	privk, _, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(privk)
	require.NoError(t, err)

	sw, err := swarm.NewSwitch(peer.NewInfo(id), swarm.Opts{Crypto: plaintext.New()})
	require.NoError(t, err)
	require.NoError(t, sw.Start())
	defer sw.Stop()

	_, err = sw.Dial(context.Background(), b.info, "/proto/1")
	require.ErrorIs(t, err, swarm.ErrNoTransports)
}

// A dialer with no stream muxers ends CONNECTED: the encrypted
// connection carries a single protocol for its whole lifetime.
func TestUnmuxablePeer(t *testing.T) {
	h := newHub()
	a := newNode(t, h, withoutMuxer())
	b := newNode(t, h)
	b.sw.Handle("/solo/1", echoHandler, nil)

	s, err := a.sw.Dial(context.Background(), b.info, "/solo/1")
	require.NoError(t, err)
	require.NotNil(t, s)

	require.Nil(t, a.sw.MuxedConn(b.info.ID()))
	c := a.sw.UnmuxedConn(b.info.ID())
	require.NotNil(t, c)
	require.Equal(t, swarm.Connected, c.State())
	require.Nil(t, c.Muxer())

	requireEcho(t, s)
}

func TestHangUp(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	var closed atomic.Int32
	a.sw.Notify(&swarm.NotifyBundle{
		PeerMuxClosedF: func(_ *swarm.Switch, pi *peer.Info) {
			if pi.ID() == b.info.ID() {
				closed.Add(1)
			}
		},
	})

	c, err := a.sw.DialFSM(context.Background(), b.info, "")
	require.NoError(t, err)
	m := c.Muxer()
	require.NotNil(t, m)

	require.NoError(t, a.sw.HangUp(context.Background(), b.info))
	require.Nil(t, a.sw.MuxedConn(b.info.ID()))
	require.True(t, m.IsClosed())
	require.Equal(t, swarm.Disconnected, c.State())

	// peer-mux-closed lands on the next tick
	eventually(t, func() bool { return closed.Load() == 1 }, "peer-mux-closed never fired")
}

// A dial after hangUp establishes a fresh connection.
func TestRedialAfterHangUp(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)
	b.sw.Handle("/proto/1", echoHandler, nil)

	_, err := a.sw.Dial(context.Background(), b.info, "/proto/1")
	require.NoError(t, err)
	require.NoError(t, a.sw.HangUp(context.Background(), b.info))

	s, err := a.sw.Dial(context.Background(), b.info, "/proto/1")
	require.NoError(t, err)
	requireEcho(t, s)
	require.Equal(t, int32(2), a.tcp.dials.Load())
}

// Both directions share one muxer: after a dials b, a dial from b to a
// reuses the inbound muxed connection instead of opening a new socket.
func TestReuseInboundConnection(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)
	a.sw.Handle("/back/1", echoHandler, nil)

	_, err := a.sw.DialFSM(context.Background(), b.info, "")
	require.NoError(t, err)

	eventually(t, func() bool { return b.sw.MuxedConn(a.info.ID()) != nil },
		"inbound connection never registered on b")

	s, err := b.sw.Dial(context.Background(), a.info, "/back/1")
	require.NoError(t, err)
	requireEcho(t, s)
	require.Equal(t, int32(0), b.tcp.dials.Load())
}

func TestProtocolMatcher(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	var negotiated atomic.Value
	b.sw.Handle("/chat/1", func(proto protocol.ID, s transport.Conn) {
		negotiated.Store(proto)
		echoHandler(proto, s)
	}, func(proto protocol.ID) bool {
		return strings.HasPrefix(string(proto), "/chat/")
	})

	s, err := a.sw.Dial(context.Background(), b.info, "/chat/1.1.0")
	require.NoError(t, err)
	requireEcho(t, s)
	require.Equal(t, protocol.ID("/chat/1.1.0"), negotiated.Load())
}

func TestUnhandle(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	b.sw.Handle("/gone/1", echoHandler, nil)
	b.sw.Unhandle("/gone/1")

	_, err := a.sw.Dial(context.Background(), b.info, "/gone/1")
	require.Error(t, err)
}

func TestSwitchLifecycle(t *testing.T) {
	h := newHub()
	a := newNode(t, h)

	var started, stopped atomic.Int32
	a.sw.Notify(&swarm.NotifyBundle{
		StartedF: func(*swarm.Switch) { started.Add(1) },
		StoppedF: func(*swarm.Switch) { stopped.Add(1) },
	})

	// re-entrant start is a no-op
	require.NoError(t, a.sw.Start())
	require.Equal(t, int32(0), started.Load())

	require.NoError(t, a.sw.Stop())
	require.Equal(t, int32(1), stopped.Load())

	// stop on a stopped switch is a no-op
	require.NoError(t, a.sw.Stop())
	require.Equal(t, int32(1), stopped.Load())

	require.NoError(t, a.sw.Start())
	require.Equal(t, int32(1), started.Load())
}

func TestStopClosesEverything(t *testing.T) {
	h := newHub()
	a := newNode(t, h)
	b := newNode(t, h)

	c, err := a.sw.DialFSM(context.Background(), b.info, "")
	require.NoError(t, err)
	m := c.Muxer()

	require.NoError(t, a.sw.Stop())
	require.True(t, m.IsClosed())
	require.Nil(t, a.sw.MuxedConn(b.info.ID()))
	require.Equal(t, 0, len(a.sw.ListenAddrs()))

	// a's listener is gone; b can no longer reach it
	_, err = b.sw.Dial(context.Background(), a.info, "/nope/1")
	require.Error(t, err)
}

func TestObserverSeesTraffic(t *testing.T) {
	h := newHub()
	cnt := observer.NewCounter()
	a := newNode(t, h, withOpts(swarm.Opts{Crypto: plaintext.New(), Observer: cnt}))
	b := newNode(t, h)
	b.sw.Handle("/proto/1", echoHandler, nil)

	s, err := a.sw.Dial(context.Background(), b.info, "/proto/1")
	require.NoError(t, err)
	requireEcho(t, s)

	require.Greater(t, cnt.Total().Out, int64(0))
	require.Greater(t, cnt.Total().In, int64(0))
	require.Greater(t, cnt.ForPeer(b.info.ID()).Out, int64(0))
	require.Greater(t, cnt.ForProtocol("/proto/1").Out, int64(0))
}
