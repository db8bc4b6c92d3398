package crypto

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/pkg/errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyType discriminates the marshalled form of a key.
type KeyType byte

const (
	Secp256k1 KeyType = 2
)

// Key represents a crypto key that can be compared to another key
type Key interface {
	// Equals checks whether two keys are the same
	Equals(Key) bool

	// Raw returns the raw bytes of the key, without the type prefix
	// added by MarshalPublicKey and MarshalPrivateKey.
	Raw() ([]byte, error)

	// Type returns the key type.
	Type() KeyType
}

// PubKey is a public key that can be used to verify data signed with the corresponding private key
type PubKey interface {
	Key

	// Verify that 'sig' is the signed hash of 'data'
	Verify(data []byte, sig []byte) (bool, error)
}

// PrivKey represents a private key that can be used to generate a public key and sign data
type PrivKey interface {
	Key

	// Return a public key paired with this private key
	GetPublic() PubKey

	// Cryptographically sign the given bytes
	Sign([]byte) ([]byte, error)
}

// Secp256k1PrivateKey is a Secp256k1 private key
type Secp256k1PrivateKey secp256k1.PrivateKey

// Secp256k1PublicKey is a Secp256k1 public key
type Secp256k1PublicKey secp256k1.PublicKey

// GenerateSecp256k1Key generates a new Secp256k1 private and public key pair
func GenerateSecp256k1Key() (PrivKey, PubKey, error) {
	privk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	k := (*Secp256k1PrivateKey)(privk)
	return k, k.GetPublic(), nil
}

// MarshalPublicKey converts a public key object into its serialized form:
// a single key-type byte followed by the raw key bytes.
func MarshalPublicKey(k PubKey) ([]byte, error) {
	data, err := k.Raw()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(k.Type()))
	return append(out, data...), nil
}

// UnmarshalPublicKey converts a serialized public key into its
// representative object
func UnmarshalPublicKey(data []byte) (PubKey, error) {
	if len(data) < 1 {
		return nil, errors.Errorf("public key too short")
	}
	if KeyType(data[0]) != Secp256k1 {
		return nil, errors.Errorf("unsupported key type %d", data[0])
	}
	k, err := secp256k1.ParsePubKey(data[1:])
	if err != nil {
		return nil, err
	}
	return (*Secp256k1PublicKey)(k), nil
}

// MarshalPrivateKey converts a private key object into its serialized form.
func MarshalPrivateKey(k PrivKey) ([]byte, error) {
	data, err := k.Raw()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(k.Type()))
	return append(out, data...), nil
}

// UnmarshalPrivateKey converts a serialized private key into its
// representative object
func UnmarshalPrivateKey(data []byte) (PrivKey, error) {
	if len(data) < 1 {
		return nil, errors.Errorf("private key too short")
	}
	if KeyType(data[0]) != Secp256k1 {
		return nil, errors.Errorf("unsupported key type %d", data[0])
	}
	privk := secp256k1.PrivKeyFromBytes(data[1:])
	return (*Secp256k1PrivateKey)(privk), nil
}

func (k *Secp256k1PrivateKey) Equals(o Key) bool {
	sk, ok := o.(*Secp256k1PrivateKey)
	if !ok {
		return basicEquals(k, o)
	}
	return k.GetPublic().Equals(sk.GetPublic())
}

func (k *Secp256k1PrivateKey) Raw() ([]byte, error) {
	return (*secp256k1.PrivateKey)(k).Serialize(), nil
}

func (k *Secp256k1PrivateKey) Type() KeyType {
	return Secp256k1
}

func (k *Secp256k1PrivateKey) GetPublic() PubKey {
	return (*Secp256k1PublicKey)((*secp256k1.PrivateKey)(k).PubKey())
}

// Sign returns a signature over the SHA-256 hash of the input data
func (k *Secp256k1PrivateKey) Sign(data []byte) ([]byte, error) {
	key := (*secp256k1.PrivateKey)(k)
	hash := sha256.Sum256(data)
	sig := ecdsa.Sign(key, hash[:])
	return sig.Serialize(), nil
}

func (k *Secp256k1PublicKey) Equals(o Key) bool {
	sk, ok := o.(*Secp256k1PublicKey)
	if !ok {
		return basicEquals(k, o)
	}
	return (*secp256k1.PublicKey)(k).IsEqual((*secp256k1.PublicKey)(sk))
}

func (k *Secp256k1PublicKey) Raw() ([]byte, error) {
	return (*secp256k1.PublicKey)(k).SerializeCompressed(), nil
}

func (k *Secp256k1PublicKey) Type() KeyType {
	return Secp256k1
}

// Verify checks a DER signature against the SHA-256 hash of the input data
func (k *Secp256k1PublicKey) Verify(data []byte, sigStr []byte) (bool, error) {
	sig, err := ecdsa.ParseDERSignature(sigStr)
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(data)
	return sig.Verify(hash[:], (*secp256k1.PublicKey)(k)), nil
}

func basicEquals(k1, k2 Key) bool {
	if k1.Type() != k2.Type() {
		return false
	}
	a, err := k1.Raw()
	if err != nil {
		return false
	}
	b, err := k2.Raw()
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare(a, b) == 1 {
		return true
	}
	return bytes.Equal(a, b)
}
