package peer

import (
	"fmt"

	"github.com/libp2p/go-libp2p-switch/core/crypto"

	b58 "github.com/mr-tron/base58/base58"
	ma "github.com/multiformats/go-multiaddr"
	mh "github.com/multiformats/go-multihash"
)

// ID is the stable binary identity of a peer. Its canonical textual
// rendering is the base58 encoding returned by String.
type ID string

func (id ID) String() string {
	return b58.Encode([]byte(id))
}

// MarshalBinary returns the byte representation of the peer ID.
func (id ID) MarshalBinary() ([]byte, error) {
	return []byte(id), nil
}

// SplitAddr splits a p2p Multiaddr into a transport multiaddr and a peer ID.
//
// * Returns a nil transport if the address only contains a /p2p part.
// * Returns an empty peer ID if the address doesn't contain a /p2p part.
func SplitAddr(m ma.Multiaddr) (transport ma.Multiaddr, id ID) {
	if m == nil {
		return nil, ""
	}

	transport, p2ppart := ma.SplitLast(m)
	if p2ppart == nil || p2ppart.Protocol().Code != ma.P_P2P {
		return m, ""
	}
	id = ID(p2ppart.RawValue()) // already validated by the multiaddr library.
	return transport, id
}

// IDFromPublicKey returns the Peer ID corresponding to the public key pk.
func IDFromPublicKey(pk crypto.PubKey) (ID, error) {
	b, err := crypto.MarshalPublicKey(pk)
	if err != nil {
		return "", err
	}
	hash, _ := mh.Sum(b, mh.IDENTITY, -1)
	return ID(hash), nil
}

// IDFromPrivateKey returns the Peer ID corresponding to the private key pk.
func IDFromPrivateKey(pk crypto.PrivKey) (ID, error) {
	return IDFromPublicKey(pk.GetPublic())
}

// IDFromBytes casts a byte slice to the ID type, and validates
// the value to make sure it is a multihash.
func IDFromBytes(b []byte) (ID, error) {
	if _, err := mh.Cast(b); err != nil {
		return ID(""), err
	}
	return ID(b), nil
}

// Decode accepts a base58 encoded peer ID and returns the decoded ID if the
// input is valid.
func Decode(s string) (ID, error) {
	m, err := mh.FromB58String(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse peer ID: %s", err)
	}
	return ID(m), nil
}
