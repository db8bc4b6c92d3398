// Package tests holds helpers shared by the integration tests.
package tests

import (
	"testing"

	libp2pswitch "github.com/libp2p/go-libp2p-switch"
	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/p2p/security/plaintext"
	"github.com/libp2p/go-libp2p-switch/swarm"

	"github.com/stretchr/testify/require"

	ma "github.com/multiformats/go-multiaddr"
)

// CreateSwitch builds a started switch listening on an ephemeral tcp
// port, secured with plaintext so tests stay cheap.
func CreateSwitch(t *testing.T, opts ...libp2pswitch.Option) *swarm.Switch {
	t.Helper()

	privk, _, err := crypto.GenerateSecp256k1Key()
	require.NoError(t, err)

	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)

	all := append([]libp2pswitch.Option{
		libp2pswitch.Identity(privk),
		libp2pswitch.ListenAddrs(addr),
		libp2pswitch.Security(plaintext.New()),
	}, opts...)

	s, err := libp2pswitch.New(all...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

// InfoOf returns a dialable Info for the switch: its identity plus its
// bound listen addresses.
func InfoOf(s *swarm.Switch) *peer.Info {
	pi := peer.NewInfo(s.LocalPeer().ID())
	pi.AddAddrs(s.ListenAddrs()...)
	return pi
}
