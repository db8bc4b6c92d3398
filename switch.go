// Package libp2pswitch assembles a connection switch from functional
// options: identity, listen addresses, transports, security and stream
// muxers.
package libp2pswitch

import (
	"github.com/pkg/errors"

	"github.com/libp2p/go-libp2p-switch/config"
	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/mux"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protector"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
	"github.com/libp2p/go-libp2p-switch/observer"
	"github.com/libp2p/go-libp2p-switch/p2p/mux/yamux"
	"github.com/libp2p/go-libp2p-switch/p2p/security/noise"
	"github.com/libp2p/go-libp2p-switch/p2p/transport/tcp"
	"github.com/libp2p/go-libp2p-switch/swarm"

	ma "github.com/multiformats/go-multiaddr"
)

type Option func(cfg *config.Config) error

// New builds a Switch. Without options it gets a fresh secp256k1
// identity, the tcp transport, noise security and the yamux muxer.
func New(opts ...Option) (*swarm.Switch, error) {
	cfg, err := Apply(opts...)
	if err != nil {
		return nil, err
	}

	if cfg.PeerKey == nil {
		privk, _, err := crypto.GenerateSecp256k1Key()
		if err != nil {
			return nil, err
		}
		pid, err := peer.IDFromPrivateKey(privk)
		if err != nil {
			return nil, err
		}
		cfg.PeerKey = privk
		cfg.PeerId = pid
	}

	local := peer.NewInfo(cfg.PeerId)
	local.AddAddrs(cfg.ListenAddrs...)

	security := cfg.Security
	if security == nil {
		n, err := noise.New(cfg.PeerKey)
		if err != nil {
			return nil, err
		}
		security = n
	}

	s, err := swarm.NewSwitch(local, swarm.Opts{
		Crypto:     security,
		Protector:  cfg.Protector,
		Observer:   cfg.Observer,
		RawHandler: cfg.RawConnHandler,
	})
	if err != nil {
		return nil, err
	}

	transports := cfg.Transports
	if len(transports) == 0 {
		transports = []transport.Transport{tcp.New()}
	}
	for _, t := range transports {
		s.AddTransport(t)
	}

	muxers := cfg.Muxers
	if len(muxers) == 0 {
		muxers = []mux.Transport{yamux.New()}
	}
	for _, m := range muxers {
		s.AddStreamMuxer(m)
	}

	return s, nil
}

// Apply applies the given options to the config, returning the first error
// encountered (if any).
func Apply(opts ...Option) (*config.Config, error) {
	cfg := config.NewConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Identity configures the switch to use the given private key to
// identify itself.
func Identity(sk crypto.PrivKey) Option {
	return func(cfg *config.Config) error {
		if cfg.PeerKey != nil {
			return errors.Errorf("cannot specify multiple identities")
		}
		peerID, err := peer.IDFromPrivateKey(sk)
		if err != nil {
			return err
		}
		cfg.PeerId = peerID
		cfg.PeerKey = sk
		return nil
	}
}

// ListenAddrs configures the switch to listen on the given addresses.
func ListenAddrs(addrs ...ma.Multiaddr) Option {
	return func(cfg *config.Config) error {
		cfg.ListenAddrs = append(cfg.ListenAddrs, addrs...)
		return nil
	}
}

// Transport adds a transport to the switch, replacing the default set.
func Transport(t transport.Transport) Option {
	return func(cfg *config.Config) error {
		cfg.Transports = append(cfg.Transports, t)
		return nil
	}
}

// Muxer adds a stream muxer, replacing the default set. Muxers are
// proposed to remote peers in option order.
func Muxer(m mux.Transport) Option {
	return func(cfg *config.Config) error {
		cfg.Muxers = append(cfg.Muxers, m)
		return nil
	}
}

// Security selects the security transport. The default is noise keyed
// with the switch identity.
func Security(st sec.Transport) Option {
	return func(cfg *config.Config) error {
		if cfg.Security != nil {
			return errors.Errorf("cannot specify multiple security transports")
		}
		cfg.Security = st
		return nil
	}
}

// PrivateNetwork installs a protector wrapping every raw connection.
func PrivateNetwork(p protector.Protector) Option {
	return func(cfg *config.Config) error {
		if cfg.Protector != nil {
			return errors.Errorf("cannot specify multiple protectors")
		}
		cfg.Protector = p
		return nil
	}
}

// BandwidthReporter wires an observer receiving per-connection traffic
// reports.
func BandwidthReporter(rep observer.Reporter) Option {
	return func(cfg *config.Config) error {
		cfg.Observer = rep
		return nil
	}
}

// RawConnHandler diverts inbound connections to fn right after the
// protector layer, bypassing security and muxing.
func RawConnHandler(fn func(transport.Conn)) Option {
	return func(cfg *config.Config) error {
		cfg.RawConnHandler = fn
		return nil
	}
}
