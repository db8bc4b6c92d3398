// Package tcp provides the raw TCP transport. Connections handed out
// carry no security and no multiplexing; the switch upgrades them.
package tcp

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	tec "github.com/jbenet/go-temp-err-catcher"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

var log = logrus.WithFields(logrus.Fields{
	"prefix":    "p2p",
	"transport": "tcp",
})

const Tag = "tcp"

const DefaultDialTimeout = 15 * time.Second

type Transport struct {
	// Maximum duration of a single address dial attempt.
	DialTimeout time.Duration
}

var _ transport.Transport = &Transport{}

func New() *Transport {
	return &Transport{DialTimeout: DefaultDialTimeout}
}

func (t *Transport) Tag() string {
	return Tag
}

// Filter keeps the addresses this transport can dial: ip4/ip6 plus tcp,
// and nothing stacked on top of the tcp component.
func (t *Transport) Filter(addrs []ma.Multiaddr) []ma.Multiaddr {
	var res []ma.Multiaddr
	for _, addr := range addrs {
		if dialable(addr) {
			res = append(res, addr)
		}
	}
	return res
}

func dialable(addr ma.Multiaddr) bool {
	protos := addr.Protocols()
	if len(protos) != 2 {
		return false
	}
	if protos[0].Code != ma.P_IP4 && protos[0].Code != ma.P_IP6 {
		return false
	}
	return protos[1].Code == ma.P_TCP
}

// Dial tries the peer's tcp addresses in order and returns the first
// connection established.
func (t *Transport) Dial(ctx context.Context, pi *peer.Info) (transport.Conn, error) {
	addrs := t.Filter(pi.Addrs())
	if len(addrs) == 0 {
		return nil, errors.Errorf("peer %s has no tcp addresses", pi.ID())
	}

	var lastErr error
	for _, addr := range addrs {
		dctx := ctx
		if t.DialTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
			defer cancel()
		}
		var d manet.Dialer
		c, err := d.DialContext(dctx, addr)
		if err != nil {
			log.Debugf("failed to dial %s at %s: %v", pi.ID(), addr, err)
			lastErr = err
			continue
		}
		pi.Connect(addr)
		return transport.NewRawWithPeer(c, pi), nil
	}
	return nil, lastErr
}

func (t *Transport) CreateListener(handler func(transport.Conn)) transport.Listener {
	return &Listener{handler: handler}
}

type Listener struct {
	handler func(transport.Conn)

	mu        sync.Mutex
	listeners []manet.Listener
	closed    bool
}

var _ transport.Listener = &Listener{}

func (l *Listener) Listen(addrs ...ma.Multiaddr) error {
	for _, addr := range addrs {
		ml, err := manet.Listen(addr)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", addr)
		}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			ml.Close()
			return errors.Errorf("listener is closed")
		}
		l.listeners = append(l.listeners, ml)
		l.mu.Unlock()
		go l.serve(ml)
	}
	return nil
}

// serve accepts until the listener closes. Temporary accept errors are
// retried.
func (l *Listener) serve(ml manet.Listener) {
	var catcher tec.TempErrCatcher
	for {
		c, err := ml.Accept()
		if err != nil {
			if catcher.IsTemporary(err) {
				continue
			}
			return
		}
		go l.handler(transport.NewRaw(c))
	}
}

func (l *Listener) Multiaddrs() []ma.Multiaddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]ma.Multiaddr, 0, len(l.listeners))
	for _, ml := range l.listeners {
		res = append(res, ml.Multiaddr())
	}
	return res
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	listeners := l.listeners
	l.listeners = nil
	l.mu.Unlock()
	for _, ml := range listeners {
		ml.Close()
	}
	return nil
}
