// Package noise secures connections with a Noise XX handshake. Each side
// proves ownership of its identity key by signing its noise static key
// and shipping key and signature in the handshake payload.
package noise

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/pkg/errors"

	pool "github.com/libp2p/go-buffer-pool"

	"github.com/libp2p/go-libp2p-switch/core/crypto"
	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

const ID = "/noise"

// Prefix of the signed material binding the noise static key to the
// identity key.
const payloadSigPrefix = "noise-libp2p-static-key:"

const maxFrameLen = 65535
const cipherOverhead = 16

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

type ErrPeerIDMismatch struct {
	Expected peer.ID
	Actual   peer.ID
}

func (e ErrPeerIDMismatch) Error() string {
	return fmt.Sprintf("peer id mismatch: expected %s, but remote key matches %s", e.Expected, e.Actual)
}

type Transport struct {
	localID peer.ID
	privKey crypto.PrivKey
}

var _ sec.Transport = &Transport{}

// New creates a noise transport using the given private key as its
// identity key.
func New(privkey crypto.PrivKey) (*Transport, error) {
	localID, err := peer.IDFromPrivateKey(privkey)
	if err != nil {
		return nil, err
	}
	return &Transport{localID: localID, privKey: privkey}, nil
}

func (t *Transport) Tag() string {
	return ID
}

// Encrypt runs the XX handshake. A non-empty remote makes this side the
// initiator and pins the expected identity; listeners pass an empty
// remote and learn the identity from the payload.
func (t *Transport) Encrypt(ctx context.Context, local *peer.Info, insecure transport.Conn, remote peer.ID) (sec.Conn, error) {
	initiator := remote != ""

	static, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, err
	}

	payload, err := t.identityPayload(static)
	if err != nil {
		return nil, err
	}

	var enc, dec *noise.CipherState
	var remoteKey crypto.PubKey
	if initiator {
		// -> e
		if err := writeHandshake(insecure, hs, nil, nil); err != nil {
			return nil, err
		}
		// <- e, ee, s, es  (carries the responder's identity payload)
		remotePayload, _, _, err := readHandshake(insecure, hs)
		if err != nil {
			return nil, err
		}
		remoteKey, err = verifyPayload(remotePayload, hs.PeerStatic())
		if err != nil {
			return nil, err
		}
		// -> s, se
		if err := writeHandshake(insecure, hs, payload, func(cs1, cs2 *noise.CipherState) {
			enc, dec = cs1, cs2
		}); err != nil {
			return nil, err
		}
	} else {
		// <- e
		if _, _, _, err := readHandshake(insecure, hs); err != nil {
			return nil, err
		}
		// -> e, ee, s, es
		if err := writeHandshake(insecure, hs, payload, nil); err != nil {
			return nil, err
		}
		// <- s, se  (carries the initiator's identity payload)
		remotePayload, cs1, cs2, err := readHandshake(insecure, hs)
		if err != nil {
			return nil, err
		}
		remoteKey, err = verifyPayload(remotePayload, hs.PeerStatic())
		if err != nil {
			return nil, err
		}
		enc, dec = cs2, cs1
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remoteID, err := peer.IDFromPublicKey(remoteKey)
	if err != nil {
		return nil, err
	}
	if remote != "" && remoteID != remote {
		return nil, ErrPeerIDMismatch{Expected: remote, Actual: remoteID}
	}

	return &secureConn{
		Conn:   insecure,
		local:  t.localID,
		remote: remoteID,
		enc:    enc,
		dec:    dec,
	}, nil
}

// identityPayload is the marshalled identity key and a signature of the
// noise static key, both length-framed.
func (t *Transport) identityPayload(static noise.DHKey) ([]byte, error) {
	pub, err := crypto.MarshalPublicKey(t.privKey.GetPublic())
	if err != nil {
		return nil, err
	}
	sig, err := t.privKey.Sign(append([]byte(payloadSigPrefix), static.Public...))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(pub)+len(sig))
	out = appendFrame(out, pub)
	out = appendFrame(out, sig)
	return out, nil
}

func verifyPayload(payload, remoteStatic []byte) (crypto.PubKey, error) {
	pub, rest, err := splitFrame(payload)
	if err != nil {
		return nil, errors.Wrap(err, "identity payload")
	}
	sig, _, err := splitFrame(rest)
	if err != nil {
		return nil, errors.Wrap(err, "identity payload")
	}
	key, err := crypto.UnmarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	ok, err := key.Verify(append([]byte(payloadSigPrefix), remoteStatic...), sig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("static key signature does not verify")
	}
	return key, nil
}

func appendFrame(out, b []byte) []byte {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(b)))
	out = append(out, hdr[:]...)
	return append(out, b...)
}

func splitFrame(b []byte) (frame, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, errors.Errorf("truncated frame header")
	}
	l := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+l {
		return nil, nil, errors.Errorf("truncated frame")
	}
	return b[2 : 2+l], b[2+l:], nil
}

// writeHandshake sends one length-framed handshake message. final, when
// non-nil, receives the cipher states produced by the last message of
// the pattern.
func writeHandshake(w io.Writer, hs *noise.HandshakeState, payload []byte, final func(cs1, cs2 *noise.CipherState)) error {
	msg, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return err
	}
	if final != nil {
		if cs1 == nil || cs2 == nil {
			return errors.Errorf("handshake ended without cipher states")
		}
		final(cs1, cs2)
	}
	return writeFrame(w, msg)
}

func readHandshake(r io.Reader, hs *noise.HandshakeState) ([]byte, *noise.CipherState, *noise.CipherState, error) {
	raw, err := readFrame(r)
	if err != nil {
		return nil, nil, nil, err
	}
	defer pool.Put(raw)
	payload, cs1, cs2, err := hs.ReadMessage(nil, raw)
	return payload, cs1, cs2, err
}

// secureConn frames and encrypts everything that flows through the
// underlying connection.
type secureConn struct {
	transport.Conn
	local  peer.ID
	remote peer.ID

	enc *noise.CipherState
	dec *noise.CipherState

	leftover []byte
}

var _ sec.Conn = &secureConn{}

func (c *secureConn) LocalPeer() peer.ID {
	return c.local
}

func (c *secureConn) RemotePeer() peer.ID {
	return c.remote
}

func (c *secureConn) Read(p []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	ct, err := readFrame(c.Conn)
	if err != nil {
		return 0, err
	}
	defer pool.Put(ct)

	plain, err := c.dec.Decrypt(nil, nil, ct)
	if err != nil {
		return 0, err
	}
	n := copy(p, plain)
	if n < len(plain) {
		c.leftover = plain[n:]
	}
	return n, nil
}

func (c *secureConn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxFrameLen-cipherOverhead {
			chunk = chunk[:maxFrameLen-cipherOverhead]
		}
		buf := pool.Get(2 + len(chunk) + cipherOverhead)
		out, err := c.enc.Encrypt(buf[:2], nil, chunk)
		if err != nil {
			pool.Put(buf)
			return total, err
		}
		binary.BigEndian.PutUint16(out[:2], uint16(len(out)-2))
		_, err = c.Conn.Write(out)
		pool.Put(buf)
		if err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

func writeFrame(w io.Writer, b []byte) error {
	if len(b) > maxFrameLen {
		return errors.Errorf("frame too large: %d", len(b))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	b := pool.Get(int(binary.BigEndian.Uint16(hdr[:])))
	if _, err := io.ReadFull(r, b); err != nil {
		pool.Put(b)
		return nil, err
	}
	return b, nil
}
