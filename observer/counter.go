package observer

import (
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
)

// Counter is an in-memory Reporter keeping totals plus per-protocol and
// per-peer tallies.
type Counter struct {
	totalIn  atomic.Int64
	totalOut atomic.Int64

	mu         sync.Mutex
	byProtocol map[protocol.ID]*Totals
	byPeer     map[peer.ID]*Totals
}

type Totals struct {
	In  int64
	Out int64
}

var _ Reporter = (*Counter)(nil)

func NewCounter() *Counter {
	return &Counter{
		byProtocol: make(map[protocol.ID]*Totals),
		byPeer:     make(map[peer.ID]*Totals),
	}
}

func (c *Counter) LogSent(transportTag string, proto protocol.ID, pi *peer.Info, n int64) {
	c.totalOut.Add(n)
	c.mu.Lock()
	if proto != "" {
		c.protoTotals(proto).Out += n
	}
	if pi != nil {
		c.peerTotals(pi.ID()).Out += n
	}
	c.mu.Unlock()
}

func (c *Counter) LogRecv(transportTag string, proto protocol.ID, pi *peer.Info, n int64) {
	c.totalIn.Add(n)
	c.mu.Lock()
	if proto != "" {
		c.protoTotals(proto).In += n
	}
	if pi != nil {
		c.peerTotals(pi.ID()).In += n
	}
	c.mu.Unlock()
}

func (c *Counter) Total() Totals {
	return Totals{In: c.totalIn.Load(), Out: c.totalOut.Load()}
}

func (c *Counter) ForProtocol(proto protocol.ID) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byProtocol[proto]; ok {
		return *t
	}
	return Totals{}
}

func (c *Counter) ForPeer(id peer.ID) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byPeer[id]; ok {
		return *t
	}
	return Totals{}
}

func (c *Counter) protoTotals(proto protocol.ID) *Totals {
	t, ok := c.byProtocol[proto]
	if !ok {
		t = &Totals{}
		c.byProtocol[proto] = t
	}
	return t
}

func (c *Counter) peerTotals(id peer.ID) *Totals {
	t, ok := c.byPeer[id]
	if !ok {
		t = &Totals{}
		c.byPeer[id] = t
	}
	return t
}
