package swarm

import (
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"

	mss "github.com/multiformats/go-multistream"

	"github.com/libp2p/go-libp2p-switch/core/protocol"
)

var (
	// ErrDialSelf is returned when a dial targets the local peer.
	ErrDialSelf = errors.New("can not dial to ourselves")

	// ErrNoTransports is returned when a dial is attempted with no
	// non-circuit transport registered.
	ErrNoTransports = errors.New("no transports registered, dial not possible")

	// ErrDialAborted is delivered to every pending dial request when the
	// scheduler is aborted.
	ErrDialAborted = errors.New("dial was aborted")

	// ErrUnexpectedEnd classifies lower-layer failures where the remote
	// closed the stream in the middle of a negotiation or handshake.
	ErrUnexpectedEnd = errors.New("unexpected end of input")

	// ErrNotStarted signals a switch that is not started. No operation in
	// this package returns it; Dial and DialFSM do not check the
	// lifecycle state.
	ErrNotStarted = errors.New("the switch is not started")
)

// maybeUnexpectedEnd maps end-of-stream errors from negotiation or crypto
// pipelines into ErrUnexpectedEnd, preserving the original message.
// Other errors pass through untouched.
func maybeUnexpectedEnd(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return errors.Wrap(ErrUnexpectedEnd, err.Error())
	}
	return err
}

// negotiationRejected reports whether err means the remote answered the
// negotiation but accepted none of the proposed protocols, as opposed to
// the stream breaking.
func negotiationRejected(err error) bool {
	var notSupported mss.ErrNotSupported[protocol.ID]
	return errors.As(err, &notSupported)
}

// shutdownOK reports whether an error returned by ending a muxer is one
// of the benign shutdown results, including the legacy "Fatal error: OK"
// sentinel some muxers emit on clean teardown.
func shutdownOK(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return msg == "Fatal error: OK" || strings.Contains(msg, "session shutdown")
}
