// Package yamux adapts hashicorp/yamux to the switch's muxer contract.
package yamux

import (
	"context"
	"io"

	"github.com/hashicorp/yamux"

	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

const ID = "/yamux/1.0.0"

type Transport struct {
	// Config overrides the yamux defaults when non-nil.
	Config *yamux.Config
}

var _ mux.Transport = &Transport{}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Protocol() string {
	return ID
}

func (t *Transport) NewConn(c transport.Conn, server bool) (mux.Conn, error) {
	cfg := t.Config
	if cfg == nil {
		cfg = yamux.DefaultConfig()
		cfg.LogOutput = io.Discard
	}
	var session *yamux.Session
	var err error
	if server {
		session, err = yamux.Server(c, cfg)
	} else {
		session, err = yamux.Client(c, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &conn{session: session}, nil
}

type conn struct {
	session *yamux.Session
}

var _ mux.Conn = &conn{}

func (y *conn) OpenStream(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := y.session.OpenStream()
	if err != nil {
		return nil, err
	}
	return transport.NewRaw(stream), nil
}

func (y *conn) AcceptStream() (transport.Conn, error) {
	stream, err := y.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	return transport.NewRaw(stream), nil
}

func (y *conn) Close() error {
	return y.session.Close()
}

func (y *conn) IsClosed() bool {
	return y.session.IsClosed()
}
