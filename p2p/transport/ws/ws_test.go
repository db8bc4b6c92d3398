package ws_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/p2p/transport/ws"

	"github.com/stretchr/testify/require"

	ma "github.com/multiformats/go-multiaddr"
)

func newInfo(t *testing.T, addrs ...ma.Multiaddr) *peer.Info {
	t.Helper()
	privk, _, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(privk)
	require.NoError(t, err)
	pi := peer.NewInfo(id)
	pi.AddAddrs(addrs...)
	return pi
}

func TestFilter(t *testing.T) {
	tr := ws.New()

	keep := ma.StringCast("/ip4/127.0.0.1/tcp/4001/ws")
	drop := ma.StringCast("/ip4/127.0.0.1/tcp/4001")

	res := tr.Filter([]ma.Multiaddr{keep, drop})
	require.Equal(t, 1, len(res))
	require.True(t, res[0].Equal(keep))
}

func TestDialAndAccept(t *testing.T) {
	tr := ws.New()

	accepted := make(chan transport.Conn, 1)
	l := tr.CreateListener(func(c transport.Conn) { accepted <- c })
	require.NoError(t, l.Listen(ma.StringCast("/ip4/127.0.0.1/tcp/0/ws")))
	defer l.Close()

	bound := l.Multiaddrs()
	require.Equal(t, 1, len(bound))

	them := newInfo(t, bound...)
	c, err := tr.Dial(context.Background(), them)
	require.NoError(t, err)
	defer c.Close()

	var sc transport.Conn
	select {
	case sc = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	defer sc.Close()

	// both directions, across message boundaries
	msg := []byte("binary framed")
	_, err = c.Write(msg)
	require.NoError(t, err)
	_, err = c.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 2*len(msg))
	_, err = io.ReadFull(sc, buf)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, msg...), msg...), buf)

	_, err = sc.Write([]byte("pong"))
	require.NoError(t, err)
	buf = make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), buf)
}
