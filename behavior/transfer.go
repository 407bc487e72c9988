package behavior

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/log"
)

var transferLogger = log.Named("behavior/transfer")

// DialBackoffInitial and DialBackoffMax bound the exponential backoff used
// to retry dials to a known-but-disconnected peer (spec §4.6).
const (
	DialBackoffInitial = 100 * time.Millisecond
	DialBackoffMax     = 5 * time.Second
)

type dialState struct {
	bo          backoff.BackOff
	nextAttempt time.Time
}

func newDialState(now time.Time) *dialState {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = DialBackoffInitial
	eb.MaxInterval = DialBackoffMax
	eb.MaxElapsedTime = 0 // retry forever; dialing stops once the peer connects or leaves the known set
	eb.Reset()
	return &dialState{bo: eb, nextAttempt: now}
}

// Transfer owns the outbound send queue: known/connected peer sets, the
// FIFO of queued payloads, and the at-most-one-outbound-per-peer invariant
// (spec §4.6). It is driven by a single poller goroutine in the swarm
// driver; none of its methods are safe to call concurrently with Poll from
// a second goroutine without the caller's own synchronization, beyond what
// this type itself does with its mutex.
type Transfer struct {
	mu sync.Mutex

	knownPeers     map[libp2ppeer.ID]struct{}
	connectedPeers map[libp2ppeer.ID]struct{}
	queue          []event.FileToSend
	inFlight       map[libp2ppeer.ID]bool
	dials          map[libp2ppeer.ID]*dialState

	// Dispatch starts an outbound transfer for f; the driver runs it on its
	// own goroutine and calls Completed when it finishes.
	Dispatch func(f event.FileToSend)
	// Dial asks the driver to attempt a connection to id (DialPeer(NotDialing)).
	Dial func(id libp2ppeer.ID)

	now func() time.Time
}

// NewTransfer builds a Transfer behavior. dispatch and dial must be
// non-nil.
func NewTransfer(dispatch func(event.FileToSend), dial func(id libp2ppeer.ID)) *Transfer {
	return &Transfer{
		knownPeers:     make(map[libp2ppeer.ID]struct{}),
		connectedPeers: make(map[libp2ppeer.ID]struct{}),
		inFlight:       make(map[libp2ppeer.ID]bool),
		dials:          make(map[libp2ppeer.ID]*dialState),
		Dispatch:       dispatch,
		Dial:           dial,
		now:            time.Now,
	}
}

// Enqueue appends f to the FIFO. f should already have passed
// event.FileToSend.Validate.
func (t *Transfer) Enqueue(f event.FileToSend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, f)
}

// SetKnownPeers replaces the known-peer set, typically called whenever the
// discovery behavior emits PeersUpdated.
func (t *Transfer) SetKnownPeers(ids []libp2ppeer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.knownPeers = make(map[libp2ppeer.ID]struct{}, len(ids))
	for _, id := range ids {
		t.knownPeers[id] = struct{}{}
	}
}

// SetConnected marks id as having (or no longer having) a live connection.
func (t *Transfer) SetConnected(id libp2ppeer.ID, connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connected {
		t.connectedPeers[id] = struct{}{}
		delete(t.dials, id)
	} else {
		delete(t.connectedPeers, id)
	}
}

// Completed clears the in-flight flag for id, allowing the next queued
// payload to that peer (if any) to be dispatched on the next Poll.
func (t *Transfer) Completed(id libp2ppeer.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
}

// Poll runs one fairness pass over the queue (spec §4.6): dispatch whatever
// can be dispatched to connected peers, issue at most one dial per
// known-but-disconnected peer whose backoff has elapsed, and leave
// everything else queued.
func (t *Transfer) Poll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	remaining := t.queue[:0]
	dialed := make(map[libp2ppeer.ID]bool)

	for _, f := range t.queue {
		id := f.TargetPeerID

		switch {
		case t.connectedInFlightFree(id):
			t.inFlight[id] = true
			transferLogger.Debugw("dispatching queued payload", "peer", id, "name", f.Name)
			t.Dispatch(f)

		case t.isConnected(id):
			// Connected but already sending to this peer; stays queued.
			remaining = append(remaining, f)

		case t.isKnown(id):
			if !dialed[id] && t.dialReady(id, now) {
				dialed[id] = true
				transferLogger.Debugw("retrying dial", "peer", id)
				t.Dial(id)
			}
			remaining = append(remaining, f)

		default:
			// Neither known nor connected: stays queued until the peer
			// reappears (withdrawal is not supported in v1, spec §9).
			remaining = append(remaining, f)
		}
	}
	t.queue = remaining
}

func (t *Transfer) connectedInFlightFree(id libp2ppeer.ID) bool {
	return t.isConnected(id) && !t.inFlight[id]
}

func (t *Transfer) isConnected(id libp2ppeer.ID) bool {
	_, ok := t.connectedPeers[id]
	return ok
}

func (t *Transfer) isKnown(id libp2ppeer.ID) bool {
	_, ok := t.knownPeers[id]
	return ok
}

// dialReady reports whether id's backoff has elapsed, arming the next
// backoff interval as a side effect when it has.
func (t *Transfer) dialReady(id libp2ppeer.ID, now time.Time) bool {
	ds, ok := t.dials[id]
	if !ok {
		ds = newDialState(now)
		t.dials[id] = ds
	}
	if now.Before(ds.nextAttempt) {
		return false
	}
	ds.nextAttempt = now.Add(ds.bo.NextBackOff())
	return true
}

func (t *Transfer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// QueueLen reports the number of payloads currently queued, for tests and
// diagnostics.
func (t *Transfer) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
