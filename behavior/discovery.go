// Package behavior holds the two stateful behaviors the swarm driver
// composes over the libp2p host: discovery (peer table maintenance, spec
// §4.5) and transfer (payload queueing and dispatch, spec §4.6). Neither
// behavior knows how to construct a host; they are driven by callbacks the
// driver wires to mDNS, network notifications, and the discovery/transfer
// protocol packages.
package behavior

import (
	"sync"
	"time"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/esavier/dragit/discovery"
	"github.com/esavier/dragit/log"
	"github.com/esavier/dragit/peer"
)

var discoveryLogger = log.Named("behavior/discovery")

// StalenessSweep is how long a peer with no live connection is kept in the
// table before it is dropped, absorbing the lack of an mDNS Expired
// callback in go-libp2p (spec §14 open question #1): 1.5x the standard
// library's 60s mDNS query interval.
const StalenessSweep = 90 * time.Second

// CoalesceWindow batches bursts of table mutations into a single
// PeersUpdated snapshot (spec §5).
const CoalesceWindow = 50 * time.Millisecond

type peerEntry struct {
	peer.Peer
	connected  bool
	lastSeenAt time.Time
}

// Discovery maintains the peer table: map[peer.ID]Peer plus a pending,
// coalesced PeersUpdated notification. It is the sole owner of the table —
// nothing outside this type ever mutates peerEntry directly (spec §14 open
// question #3).
type Discovery struct {
	mu    sync.Mutex
	peers map[libp2ppeer.ID]*peerEntry

	onUpdate func([]peer.Peer)

	coalesceTimer *time.Timer
	now           func() time.Time
}

// NewDiscovery builds a Discovery behavior. onUpdate is invoked with the
// full peer snapshot, coalesced within CoalesceWindow, whenever the table
// changes.
func NewDiscovery(onUpdate func([]peer.Peer)) *Discovery {
	return &Discovery{
		peers:    make(map[libp2ppeer.ID]*peerEntry),
		onUpdate: onUpdate,
		now:      time.Now,
	}
}

// Discovered handles an mDNS Discovered(id, addr) event: insert a
// placeholder entry (hostname/os unknown) if the peer isn't already
// present, and schedule the update.
func (d *Discovery) Discovered(id libp2ppeer.ID, addr peer.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.peers[id]
	if !ok {
		e = &peerEntry{Peer: peer.Peer{ID: id, Address: addr, OS: peer.Unknown}}
		d.peers[id] = e
		discoveryLogger.Debugw("peer discovered", "peer", id)
	} else {
		e.Address = addr
	}
	e.lastSeenAt = d.now()
	d.scheduleUpdate()
}

// Connected records a live connection to id. asDialer distinguishes who
// initiated: a successful outbound dial updates the canonical address we
// dialed; an inbound connection records the address the remote reported
// for itself. Both races resolve to "last write wins" (spec §4.5 tie-break).
func (d *Discovery) Connected(id libp2ppeer.ID, addr peer.Address, asDialer bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.peers[id]
	if !ok {
		e = &peerEntry{Peer: peer.Peer{ID: id, Address: addr, OS: peer.Unknown}}
		d.peers[id] = e
	}
	e.Address = addr
	e.connected = true
	e.lastSeenAt = d.now()
	_ = asDialer // recorded for callers that branch on it; both paths merge identically here
	d.scheduleUpdate()
}

// Disconnected marks id as no longer connected. It is not removed
// immediately — the staleness sweep reaps it only if it is neither
// reconnected nor re-seen by mDNS within StalenessSweep, since mDNS has no
// Expired signal to remove it explicitly.
func (d *Discovery) Disconnected(id libp2ppeer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.peers[id]
	if !ok {
		return
	}
	e.connected = false
	e.lastSeenAt = d.now()
}

// CapabilityReceived applies a /discovery/1.0 record: fills hostname and os
// only, never address (spec §4.5 tie-break: the capability exchange cannot
// clobber the address the transport layer established).
func (d *Discovery) CapabilityReceived(rec discovery.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.peers[rec.Peer]
	if !ok {
		return
	}
	e.Hostname = rec.Hostname
	e.OS = rec.OS
	d.scheduleUpdate()
}

// Sweep drops every disconnected peer last seen more than StalenessSweep
// ago. Call it periodically (e.g. every StalenessSweep/2) from the swarm
// driver's event loop.
func (d *Discovery) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-StalenessSweep)
	changed := false
	for id, e := range d.peers {
		if !e.connected && e.lastSeenAt.Before(cutoff) {
			delete(d.peers, id)
			changed = true
			discoveryLogger.Debugw("peer expired", "peer", id)
		}
	}
	if changed {
		d.scheduleUpdate()
	}
}

// Snapshot returns every known peer, connected or not.
func (d *Discovery) Snapshot() []peer.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Discovery) snapshotLocked() []peer.Peer {
	out := make([]peer.Peer, 0, len(d.peers))
	for _, e := range d.peers {
		out = append(out, e.Peer)
	}
	return out
}

// IsConnected reports whether id currently has a live connection, for
// callers (the transfer behavior) deciding whether a queued payload can be
// dispatched.
func (d *Discovery) IsConnected(id libp2ppeer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.peers[id]
	return ok && e.connected
}

// scheduleUpdate arms (or re-arms) the coalescing timer; must be called
// with d.mu held.
func (d *Discovery) scheduleUpdate() {
	if d.coalesceTimer != nil {
		return
	}
	d.coalesceTimer = time.AfterFunc(CoalesceWindow, func() {
		d.mu.Lock()
		d.coalesceTimer = nil
		snapshot := d.snapshotLocked()
		d.mu.Unlock()
		if d.onUpdate != nil {
			d.onUpdate(snapshot)
		}
	})
}
