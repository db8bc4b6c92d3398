package peer

import (
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
)

// Info holds a peer identity together with the set of addresses it is
// believed to be reachable at. The switch owns one Info for the local
// peer; every connection references the remote peer's Info.
//
// Info is safe for concurrent use.
type Info struct {
	id ID

	mu        sync.RWMutex
	addrs     []ma.Multiaddr
	connected ma.Multiaddr
}

func NewInfo(id ID) *Info {
	return &Info{id: id}
}

func (pi *Info) ID() ID {
	return pi.id
}

func (pi *Info) String() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return fmt.Sprintf("{%v: %v}", pi.id, pi.addrs)
}

// Addrs returns a copy of the peer's known addresses.
func (pi *Info) Addrs() []ma.Multiaddr {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	res := make([]ma.Multiaddr, len(pi.addrs))
	copy(res, pi.addrs)
	return res
}

// AddAddr records an address for the peer. Duplicates and addresses
// carrying a /p2p suffix for a different peer are dropped.
func (pi *Info) AddAddr(addr ma.Multiaddr) {
	pi.AddAddrs(addr)
}

func (pi *Info) AddAddrs(addrs ...ma.Multiaddr) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for _, addr := range addrs {
		// Circuit addresses keep their /ipfs suffix: it names the peer
		// the relay should connect through to.
		if !isCircuit(addr) {
			var addrPid ID
			addr, addrPid = SplitAddr(addr)
			if addr == nil {
				continue
			}
			if addrPid != "" && addrPid != pi.id {
				continue
			}
		}
		dup := false
		for _, have := range pi.addrs {
			if have.Equal(addr) {
				dup = true
				break
			}
		}
		if !dup {
			pi.addrs = append(pi.addrs, addr)
		}
	}
}

func isCircuit(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	for _, p := range addr.Protocols() {
		if p.Code == ma.P_CIRCUIT {
			return true
		}
	}
	return false
}

// HasAddr reports whether addr is already recorded for the peer.
func (pi *Info) HasAddr(addr ma.Multiaddr) bool {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	for _, have := range pi.addrs {
		if have.Equal(addr) {
			return true
		}
	}
	return false
}

// Connect marks addr as the address a live connection to the peer uses.
func (pi *Info) Connect(addr ma.Multiaddr) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.connected = addr
}

// Disconnect clears the connected address.
func (pi *Info) Disconnect() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.connected = nil
}

// ConnectedAddr returns the address of the live connection, or nil.
func (pi *Info) ConnectedAddr() ma.Multiaddr {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.connected
}
