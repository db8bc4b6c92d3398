package swarm

import (
	"github.com/libp2p/go-libp2p-switch/core/peer"
)

// Notifiee receives switch lifecycle and connection events.
//
// PeerMuxClosed is delivered on a fresh goroutine after the closing
// connection has left the disconnecting state; the other callbacks run on
// the goroutine that produced the event and should return quickly.
type Notifiee interface {
	Started(*Switch)
	Stopped(*Switch)
	Error(*Switch, error)
	PeerMuxEstablished(*Switch, *peer.Info)
	PeerMuxClosed(*Switch, *peer.Info)
}

// NotifyBundle implements Notifiee by calling any of the functions set on
// it, and nop'ing the rest.
type NotifyBundle struct {
	StartedF            func(*Switch)
	StoppedF            func(*Switch)
	ErrorF              func(*Switch, error)
	PeerMuxEstablishedF func(*Switch, *peer.Info)
	PeerMuxClosedF      func(*Switch, *peer.Info)
}

var _ Notifiee = (*NotifyBundle)(nil)

func (nb *NotifyBundle) Started(s *Switch) {
	if nb.StartedF != nil {
		nb.StartedF(s)
	}
}

func (nb *NotifyBundle) Stopped(s *Switch) {
	if nb.StoppedF != nil {
		nb.StoppedF(s)
	}
}

func (nb *NotifyBundle) Error(s *Switch, err error) {
	if nb.ErrorF != nil {
		nb.ErrorF(s, err)
	}
}

func (nb *NotifyBundle) PeerMuxEstablished(s *Switch, pi *peer.Info) {
	if nb.PeerMuxEstablishedF != nil {
		nb.PeerMuxEstablishedF(s, pi)
	}
}

func (nb *NotifyBundle) PeerMuxClosed(s *Switch, pi *peer.Info) {
	if nb.PeerMuxClosedF != nil {
		nb.PeerMuxClosedF(s, pi)
	}
}

func (s *Switch) Notify(n Notifiee) {
	s.notifMu.Lock()
	s.notifs = append(s.notifs, n)
	s.notifMu.Unlock()
}

// StopNotify removes a previously registered notifiee.
func (s *Switch) StopNotify(n Notifiee) {
	s.notifMu.Lock()
	defer s.notifMu.Unlock()
	for i, have := range s.notifs {
		if have == n {
			s.notifs = append(s.notifs[:i], s.notifs[i+1:]...)
			return
		}
	}
}

func (s *Switch) notifyAll(f func(Notifiee)) {
	s.notifMu.Lock()
	notifs := make([]Notifiee, len(s.notifs))
	copy(notifs, s.notifs)
	s.notifMu.Unlock()
	for _, n := range notifs {
		f(n)
	}
}

func (s *Switch) emitStarted() {
	s.notifyAll(func(n Notifiee) { n.Started(s) })
}

func (s *Switch) emitStopped() {
	s.notifyAll(func(n Notifiee) { n.Stopped(s) })
}

func (s *Switch) emitError(err error) {
	s.notifyAll(func(n Notifiee) { n.Error(s, err) })
}

func (s *Switch) emitPeerMuxEstablished(pi *peer.Info) {
	s.notifyAll(func(n Notifiee) { n.PeerMuxEstablished(s, pi) })
}

func (s *Switch) emitPeerMuxClosed(pi *peer.Info) {
	s.notifyAll(func(n Notifiee) { n.PeerMuxClosed(s, pi) })
}
