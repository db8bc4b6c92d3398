package plaintext_test

import (
	"context"
	"net"
	"testing"

	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/p2p/security/plaintext"

	"github.com/stretchr/testify/require"
)

func newInfo(t *testing.T) *peer.Info {
	t.Helper()
	privk, _, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(privk)
	require.NoError(t, err)
	return peer.NewInfo(id)
}

func TestIdentityExchange(t *testing.T) {
	tr := plaintext.New()
	dialer := newInfo(t)
	listener := newInfo(t)

	c1, c2 := net.Pipe()

	type result struct {
		conn sec.Conn
		err  error
	}
	lis := make(chan result, 1)
	go func() {
		conn, err := tr.Encrypt(context.Background(), listener, transport.NewRaw(c2), "")
		lis <- result{conn, err}
	}()

	dconn, err := tr.Encrypt(context.Background(), dialer, transport.NewRaw(c1), listener.ID())
	require.NoError(t, err)
	lres := <-lis
	require.NoError(t, lres.err)

	require.Equal(t, listener.ID(), dconn.RemotePeer())
	require.Equal(t, dialer.ID(), dconn.LocalPeer())
	require.Equal(t, dialer.ID(), lres.conn.RemotePeer())
}

func TestIdentityMismatch(t *testing.T) {
	tr := plaintext.New()
	dialer := newInfo(t)
	listener := newInfo(t)
	other := newInfo(t)

	c1, c2 := net.Pipe()
	go tr.Encrypt(context.Background(), listener, transport.NewRaw(c2), "")

	_, err := tr.Encrypt(context.Background(), dialer, transport.NewRaw(c1), other.ID())
	require.Error(t, err)
}
