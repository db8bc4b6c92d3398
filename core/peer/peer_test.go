package peer_test

import (
	"testing"

	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"

	"github.com/stretchr/testify/require"

	ma "github.com/multiformats/go-multiaddr"
)

func TestIDFromPublicKey(t *testing.T) {
	privk, pubk, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)

	id1, err := peer.IDFromPublicKey(pubk)
	require.NoError(t, err)

	id2, err := peer.IDFromPrivateKey(privk)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// base58 rendering must survive a decode roundtrip
	id3, err := peer.Decode(id1.String())
	require.NoError(t, err)
	require.Equal(t, id1, id3)
}

func TestIDFromBytes(t *testing.T) {
	_, pubk, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pubk)
	require.NoError(t, err)

	raw, err := id.MarshalBinary()
	require.NoError(t, err)

	id2, err := peer.IDFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, id, id2)
}

func TestSplitAddr(t *testing.T) {
	id := mustID(t)
	full := ma.StringCast("/ip4/127.0.0.1/tcp/1234/p2p/" + id.String())

	transport, got := peer.SplitAddr(full)
	require.Equal(t, id, got)
	require.True(t, transport.Equal(ma.StringCast("/ip4/127.0.0.1/tcp/1234")))

	transport, got = peer.SplitAddr(ma.StringCast("/ip4/127.0.0.1/tcp/1234"))
	require.Equal(t, peer.ID(""), got)
	require.NotNil(t, transport)
}

func TestInfoAddrs(t *testing.T) {
	id := mustID(t)
	pi := peer.NewInfo(id)

	a1 := ma.StringCast("/ip4/127.0.0.1/tcp/1000")
	a2 := ma.StringCast("/ip4/127.0.0.1/tcp/2000")

	pi.AddAddrs(a1, a2, a1)
	require.Equal(t, 2, len(pi.Addrs()))
	require.True(t, pi.HasAddr(a1))

	// p2p suffix of another peer is rejected
	other := mustID(t)
	pi.AddAddr(ma.StringCast("/ip4/127.0.0.1/tcp/3000/p2p/" + other.String()))
	require.Equal(t, 2, len(pi.Addrs()))

	// p2p suffix of the same peer is stripped and kept
	pi.AddAddr(ma.StringCast("/ip4/127.0.0.1/tcp/3000/p2p/" + id.String()))
	require.Equal(t, 3, len(pi.Addrs()))
	require.True(t, pi.HasAddr(ma.StringCast("/ip4/127.0.0.1/tcp/3000")))
}

func TestInfoConnectDisconnect(t *testing.T) {
	pi := peer.NewInfo(mustID(t))
	addr := ma.StringCast("/ip4/127.0.0.1/tcp/1000")

	require.Nil(t, pi.ConnectedAddr())
	pi.Connect(addr)
	require.True(t, pi.ConnectedAddr().Equal(addr))
	pi.Disconnect()
	require.Nil(t, pi.ConnectedAddr())
}

func mustID(t *testing.T) peer.ID {
	t.Helper()
	_, pubk, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pubk)
	require.NoError(t, err)
	return id
}
