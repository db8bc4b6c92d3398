package config

import (
	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protector"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"

	ma "github.com/multiformats/go-multiaddr"
)

// Config describes a set of settings for a switch.
//
// This is *not* a stable interface. Use the options defined in the root
// package.
type Config struct {
	PeerKey crypto.PrivKey
	PeerId  peer.ID

	ListenAddrs []ma.Multiaddr

	// Security secures every connection. When nil the root package picks
	// the noise transport built from PeerKey.
	Security sec.Transport

	// Protector, when set, wraps every raw connection before the
	// security handshake.
	Protector protector.Protector

	// Observer receives traffic reports from every connection.
	Observer observer.Reporter

	// Transports and Muxers supplement the defaults (tcp, yamux).
	Transports []transport.Transport
	Muxers     []mux.Transport

	// RawConnHandler, when set, receives inbound connections after the
	// protector layer instead of the upgrade pipeline.
	RawConnHandler func(transport.Conn)
}

func NewConfig() *Config {
	return &Config{}
}
