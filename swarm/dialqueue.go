package swarm

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p-switch/core/peer"
	"github.com/libp2p/go-libp2p-switch/core/protocol"
	"github.com/libp2p/go-libp2p-switch/core/transport"
)

// MaxParallelDials bounds how many per-peer dial queues may be active at
// the same time. Requests beyond the cap wait in the global FIFO.
const MaxParallelDials = 10

type dialResult struct {
	conn transport.Conn
	fsm  ConnFSM
	err  error
}

type dialRequest struct {
	ctx     context.Context
	them    *peer.Info
	proto   protocol.ID
	wantFSM bool

	once sync.Once
	res  chan dialResult
}

func newDialRequest(ctx context.Context, them *peer.Info, proto protocol.ID, wantFSM bool) *dialRequest {
	return &dialRequest{
		ctx:     ctx,
		them:    them,
		proto:   proto,
		wantFSM: wantFSM,
		res:     make(chan dialResult, 1),
	}
}

// deliver fires the request's callback. Every request is delivered at
// most once no matter how many paths race to answer it.
func (r *dialRequest) deliver(res dialResult) {
	r.once.Do(func() { r.res <- res })
}

// dialScheduler coalesces dial requests per peer and bounds global dial
// parallelism.
type dialScheduler struct {
	sw *Switch

	mu      sync.Mutex
	waiting []*dialRequest
	queues  map[peer.ID]*dialQueue
	dials   int
	aborted bool
}

func newDialScheduler(sw *Switch) *dialScheduler {
	return &dialScheduler{
		sw:     sw,
		queues: make(map[peer.ID]*dialQueue),
	}
}

func (d *dialScheduler) add(req *dialRequest) {
	d.mu.Lock()
	if d.aborted {
		d.mu.Unlock()
		req.deliver(dialResult{err: ErrDialAborted})
		return
	}
	d.waiting = append(d.waiting, req)
	d.runLocked()
	d.mu.Unlock()
}

// runLocked routes waiting requests to per-peer queues while the number
// of active queues stays under the cap. A request whose queue is already
// running does not consume a slot.
func (d *dialScheduler) runLocked() {
	for d.dials < MaxParallelDials && len(d.waiting) > 0 {
		req := d.waiting[0]
		d.waiting = d.waiting[1:]

		id := req.them.ID()
		q, ok := d.queues[id]
		if !ok {
			q = newDialQueue(d, req.them)
			d.queues[id] = q
		}
		q.mu.Lock()
		q.reqs = append(q.reqs, req)
		if !q.running {
			q.running = true
			d.dials++
			go q.run()
		}
		q.mu.Unlock()
	}
}

// onStop is called by a queue that has drained. It re-checks under the
// scheduler lock: requests routed in the meantime keep the queue alive.
func (d *dialScheduler) onStop(q *dialQueue) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	q.mu.Lock()
	if len(q.reqs) > 0 {
		q.mu.Unlock()
		return false
	}
	q.running = false
	q.mu.Unlock()
	delete(d.queues, q.them.ID())
	d.dials--
	d.runLocked()
	return true
}

// abort cancels every pending request and every in-flight connection
// attempt. Connections past the abortable states are disconnected as
// they settle.
func (d *dialScheduler) abort() {
	d.mu.Lock()
	d.aborted = true
	waiting := d.waiting
	d.waiting = nil
	queues := make([]*dialQueue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	for _, req := range waiting {
		req.deliver(dialResult{err: ErrDialAborted})
	}
	for _, q := range queues {
		q.abort()
	}
}

func (d *dialScheduler) reset() {
	d.mu.Lock()
	d.aborted = false
	d.mu.Unlock()
}

// dialQueue owns at most one outbound FSM for its peer and replays the
// pending protocol handshakes in FIFO order once the connection settles.
type dialQueue struct {
	d    *dialScheduler
	them *peer.Info

	mu      sync.Mutex
	reqs    []*dialRequest
	running bool
	aborted bool
	fsm     *Outbound
}

func newDialQueue(d *dialScheduler, them *peer.Info) *dialQueue {
	return &dialQueue{d: d, them: them}
}

func (q *dialQueue) pop() *dialRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reqs) == 0 {
		return nil
	}
	req := q.reqs[0]
	q.reqs = q.reqs[1:]
	return req
}

func (q *dialQueue) run() {
	for {
		for {
			req := q.pop()
			if req == nil {
				break
			}
			q.service(req)
		}
		if q.d.onStop(q) {
			return
		}
	}
}

func (q *dialQueue) service(req *dialRequest) {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		req.deliver(dialResult{err: ErrDialAborted})
		return
	}
	q.mu.Unlock()

	sw := q.d.sw

	// An established muxed connection is reused: the handshake runs on a
	// fresh substream, no new transport dial happens.
	if ac := sw.MuxedConn(q.them.ID()); ac != nil {
		q.serviceOn(req, ac)
		return
	}
	// Same for an encrypted-but-unmuxed connection from an earlier
	// attempt.
	if c := sw.UnmuxedConn(q.them.ID()); c != nil {
		q.serviceOn(req, c)
		return
	}

	fsm := q.ensureFSM()
	if fsm == nil {
		req.deliver(dialResult{err: ErrDialAborted})
		return
	}

	select {
	case <-fsm.Ready():
	case <-fsm.Done():
		err := fsm.Err()
		if err == nil {
			err = ErrDialAborted
		}
		q.failAll(req, err)
		q.clearFSM(fsm)
		return
	}

	if q.abortedNow() || fsm.markedAborted.Load() {
		fsm.Disconnect()
		q.failAll(req, ErrDialAborted)
		q.clearFSM(fsm)
		return
	}

	q.serviceOn(req, fsm)
}

// serviceOn answers one request from a settled connection.
func (q *dialQueue) serviceOn(req *dialRequest, c ConnFSM) {
	if req.wantFSM {
		req.deliver(dialResult{fsm: c})
		return
	}
	if req.proto == "" {
		req.deliver(dialResult{})
		return
	}
	if o, ok := c.(*Outbound); ok {
		s, err := o.Shake(req.ctx, req.proto)
		req.deliver(dialResult{conn: s, err: err})
		return
	}
	m := c.Muxer()
	if m == nil {
		req.deliver(dialResult{err: ErrDialAborted})
		return
	}
	s, err := q.d.sw.shakeMuxed(req, m)
	req.deliver(dialResult{conn: s, err: err})
}

// ensureFSM creates and drives the queue's FSM if it does not exist yet.
func (q *dialQueue) ensureFSM() *Outbound {
	q.mu.Lock()
	if q.aborted {
		q.mu.Unlock()
		return nil
	}
	fsm := q.fsm
	if fsm != nil {
		select {
		case <-fsm.Done():
			// A dead FSM is not reusable; reconnecting takes a new one.
			fsm = nil
			q.fsm = nil
		default:
		}
	}
	if fsm == nil {
		fsm = NewOutbound(q.d.sw, q.them)
		q.fsm = fsm
		q.mu.Unlock()
		fsm.Dial()
		return fsm
	}
	q.mu.Unlock()
	return fsm
}

func (q *dialQueue) clearFSM(fsm *Outbound) {
	q.mu.Lock()
	if q.fsm == fsm {
		q.fsm = nil
	}
	q.mu.Unlock()
}

// failAll delivers err to req and to everything queued behind it: they
// all belong to the same failed connection attempt.
func (q *dialQueue) failAll(req *dialRequest, err error) {
	req.deliver(dialResult{err: err})
	for {
		next := q.pop()
		if next == nil {
			return
		}
		next.deliver(dialResult{err: err})
	}
}

func (q *dialQueue) abortedNow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

func (q *dialQueue) abort() {
	q.mu.Lock()
	q.aborted = true
	reqs := q.reqs
	q.reqs = nil
	fsm := q.fsm
	q.mu.Unlock()

	for _, req := range reqs {
		req.deliver(dialResult{err: ErrDialAborted})
	}
	if fsm != nil {
		fsm.Abort()
	}
}
