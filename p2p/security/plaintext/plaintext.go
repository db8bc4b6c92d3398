// Package plaintext is a security transport that performs no encryption.
// The handshake only exchanges peer identities. Meant for tests and
// fully trusted private networks.
package plaintext

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/sec"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

const ID = "/plaintext/1.0.0"

type Transport struct{}

var _ sec.Transport = &Transport{}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) Tag() string {
	return ID
}

// Encrypt exchanges length-framed peer IDs in both directions. When
// remote is non-empty the received identity must match it.
func (t *Transport) Encrypt(ctx context.Context, local *peer.Info, insecure transport.Conn, remote peer.ID) (sec.Conn, error) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- writeFrame(insecure, []byte(local.ID()))
	}()

	raw, err := readFrame(insecure)
	if err != nil {
		return nil, errors.Wrap(err, "reading remote identity")
	}
	if err := <-errCh; err != nil {
		return nil, errors.Wrap(err, "sending local identity")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	got, err := peer.IDFromBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid remote identity")
	}
	if remote != "" && got != remote {
		return nil, errors.Errorf("remote identity mismatch: expected %s, got %s", remote, got)
	}

	return &conn{Conn: insecure, local: local.ID(), remote: got}, nil
}

type conn struct {
	transport.Conn
	local  peer.ID
	remote peer.ID
}

var _ sec.Conn = &conn{}

func (c *conn) LocalPeer() peer.ID {
	return c.local
}

func (c *conn) RemotePeer() peer.ID {
	return c.remote
}

func writeFrame(w io.Writer, b []byte) error {
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
	b := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
