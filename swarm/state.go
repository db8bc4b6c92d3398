package swarm

import (
	"sync"
)

// State is the lifecycle position of a connection. The state variable is
// the single source of truth; it only moves along the edges declared in
// the transition tables below.
type State uint8

const (
	Disconnected State = iota
	Dialing
	Dialed
	Privatizing
	Privatized
	Encrypting
	Encrypted
	Upgrading
	Muxed
	Connected
	Disconnecting
	Aborted
	Errored
)

var stateNames = map[State]string{
	Disconnected:  "DISCONNECTED",
	Dialing:       "DIALING",
	Dialed:        "DIALED",
	Privatizing:   "PRIVATIZING",
	Privatized:    "PRIVATIZED",
	Encrypting:    "ENCRYPTING",
	Encrypted:     "ENCRYPTED",
	Upgrading:     "UPGRADING",
	Muxed:         "MUXED",
	Connected:     "CONNECTED",
	Disconnecting: "DISCONNECTING",
	Aborted:       "ABORTED",
	Errored:       "ERRORED",
}

func (st State) String() string {
	if s, ok := stateNames[st]; ok {
		return s
	}
	return "UNKNOWN"
}

// Event names a transition trigger.
type Event uint8

const (
	evDial Event = iota
	evDone
	evError
	evAbort
	evDisconnect
	evPrivatize
	evEncrypt
	evUpgrade
	evStop
)

var eventNames = map[Event]string{
	evDial:       "dial",
	evDone:       "done",
	evError:      "error",
	evAbort:      "abort",
	evDisconnect: "disconnect",
	evPrivatize:  "privatize",
	evEncrypt:    "encrypt",
	evUpgrade:    "upgrade",
	evStop:       "stop",
}

func (ev Event) String() string {
	if s, ok := eventNames[ev]; ok {
		return s
	}
	return "unknown"
}

type edges map[State]map[Event]State

// Outbound connection graph. Terminal states: Disconnected (a new FSM is
// needed to reconnect) and Aborted.
var outboundEdges = edges{
	Disconnected: {evDial: Dialing},
	Dialing:      {evDone: Dialed, evError: Errored, evAbort: Aborted, evDisconnect: Disconnecting},
	Dialed:       {evPrivatize: Privatizing, evEncrypt: Encrypting},
	Privatizing:  {evDone: Privatized, evAbort: Aborted, evDisconnect: Disconnecting},
	Privatized:   {evEncrypt: Encrypting},
	Encrypting:   {evDone: Encrypted, evError: Errored, evDisconnect: Disconnecting},
	Encrypted:    {evUpgrade: Upgrading, evDisconnect: Disconnecting},
	Upgrading:    {evDone: Muxed, evStop: Connected, evError: Errored},
	Muxed:        {evDisconnect: Disconnecting},
	Connected:    {evDisconnect: Disconnecting},
	Disconnecting: {evDone: Disconnected},
	Errored:       {evDisconnect: Disconnecting},
	Aborted:       {},
}

// Inbound connections start in Dialed (the socket already exists) and
// have no abort nor error branches: every failure takes the disconnect
// edge.
var inboundEdges = edges{
	Dialed:      {evPrivatize: Privatizing, evEncrypt: Encrypting, evDisconnect: Disconnecting},
	Privatizing: {evDone: Privatized, evDisconnect: Disconnecting},
	Privatized:  {evEncrypt: Encrypting, evDisconnect: Disconnecting},
	Encrypting:  {evDone: Encrypted, evDisconnect: Disconnecting},
	Encrypted:   {evUpgrade: Upgrading, evDisconnect: Disconnecting},
	Upgrading:   {evDone: Muxed, evDisconnect: Disconnecting},
	Muxed:       {evDisconnect: Disconnecting},
	Disconnecting: {evDone: Disconnected},
}

// fsm drives a connection along its transition table. Entry actions are
// serialized: the goroutine that triggers the first event of a burst
// works the pending queue to completion, and triggers arriving from other
// goroutines in the meantime only enqueue. An event with no edge from
// the current state is logged and ignored so protocol bugs cannot take
// the switch down.
type fsm struct {
	name  string
	edges edges

	mu       sync.Mutex
	state    State
	pending  []State
	stepping bool

	// enter runs the entry action for a state. Called without the lock.
	enter func(State)
}

func (f *fsm) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// trigger applies ev to the current state. It reports whether the event
// was legal. When it starts a step burst it returns only after the
// pending entry actions have run.
func (f *fsm) trigger(ev Event) bool {
	f.mu.Lock()
	next, ok := f.edges[f.state][ev]
	if !ok {
		cur := f.state
		f.mu.Unlock()
		log.Debugf("%s: invalid transition: event %s in state %s", f.name, ev, cur)
		return false
	}
	f.state = next
	f.pending = append(f.pending, next)
	if f.stepping {
		f.mu.Unlock()
		return true
	}
	f.stepping = true
	for len(f.pending) > 0 {
		st := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		f.enter(st)
		f.mu.Lock()
	}
	f.stepping = false
	f.mu.Unlock()
	return true
}
