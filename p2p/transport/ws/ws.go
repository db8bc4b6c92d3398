// Package ws provides a raw WebSocket transport. Payload flows as binary
// messages; each connection is upgraded by the switch like any other raw
// connection.
package ws

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

var log = logrus.WithFields(logrus.Fields{
	"prefix":    "p2p",
	"transport": "ws",
})

const Tag = "ws"

var wsComponent = ma.StringCast("/ws")

type Transport struct{}

var _ transport.Transport = &Transport{}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Tag() string {
	return Tag
}

// Filter keeps ip+tcp addresses terminated by a /ws component.
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
	if len(protos) != 3 {
		return false
	}
	if protos[0].Code != ma.P_IP4 && protos[0].Code != ma.P_IP6 {
		return false
	}
	return protos[1].Code == ma.P_TCP && protos[2].Code == ma.P_WS
}

func url(addr ma.Multiaddr) (string, error) {
	inner, _ := ma.SplitLast(addr)
	na, err := manet.ToNetAddr(inner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ws://%s", na.String()), nil
}

func (t *Transport) Dial(ctx context.Context, pi *peer.Info) (transport.Conn, error) {
	addrs := t.Filter(pi.Addrs())
	if len(addrs) == 0 {
		return nil, errors.Errorf("peer %s has no ws addresses", pi.ID())
	}

	var lastErr error
	for _, addr := range addrs {
		u, err := url(addr)
		if err != nil {
			lastErr = err
			continue
		}
		wc, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
		if err != nil {
			log.Debugf("failed to dial %s at %s: %v", pi.ID(), u, err)
			lastErr = err
			continue
		}
		pi.Connect(addr)
		return transport.NewRawWithPeer(newConn(wc), pi), nil
	}
	return nil, lastErr
}

func (t *Transport) CreateListener(handler func(transport.Conn)) transport.Listener {
	return &Listener{handler: handler}
}

// conn adapts a websocket connection to a byte stream, one binary
// message per Write.
type conn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	reader  io.Reader
	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

type Listener struct {
	handler func(transport.Conn)

	mu      sync.Mutex
	servers []*http.Server
	nls     []net.Listener
	maddrs  []ma.Multiaddr
	closed  bool
}

var _ transport.Listener = &Listener{}

var upgrader = websocket.Upgrader{
	// The switch's security layer authenticates peers; origin checking
	// is a browser concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (l *Listener) Listen(addrs ...ma.Multiaddr) error {
	for _, addr := range addrs {
		inner, _ := ma.SplitLast(addr)
		na, err := manet.ToNetAddr(inner)
		if err != nil {
			return err
		}
		nl, err := net.Listen("tcp", na.String())
		if err != nil {
			return errors.Wrapf(err, "listen on %s", addr)
		}
		bound, err := manet.FromNetAddr(nl.Addr())
		if err != nil {
			nl.Close()
			return err
		}

		srv := &http.Server{Handler: http.HandlerFunc(l.serveHTTP)}
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			nl.Close()
			return errors.Errorf("listener is closed")
		}
		l.servers = append(l.servers, srv)
		l.nls = append(l.nls, nl)
		l.maddrs = append(l.maddrs, bound.Encapsulate(wsComponent))
		l.mu.Unlock()

		go srv.Serve(nl)
	}
	return nil
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade: %v", err)
		return
	}
	l.handler(transport.NewRaw(newConn(wc)))
}

func (l *Listener) Multiaddrs() []ma.Multiaddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]ma.Multiaddr, len(l.maddrs))
	copy(res, l.maddrs)
	return res
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	servers := l.servers
	l.servers = nil
	l.nls = nil
	l.maddrs = nil
	l.mu.Unlock()
	for _, srv := range servers {
		srv.Close()
	}
	return nil
}
