package behavior

import (
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/esavier/dragit/discovery"
	"github.com/esavier/dragit/peer"
)

func mustPeerID(t *testing.T) libp2ppeer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	id, err := libp2ppeer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

type updateCollector struct {
	mu    sync.Mutex
	calls [][]peer.Peer
}

func (u *updateCollector) record(ps []peer.Peer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, ps)
}

func (u *updateCollector) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func TestDiscoveredInsertsPlaceholderAndCoalesces(t *testing.T) {
	id := mustPeerID(t)
	addr, err := peer.NewAddress("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	c := &updateCollector{}
	d := NewDiscovery(c.record)

	d.Discovered(id, addr)
	d.Discovered(id, addr) // burst within the coalesce window collapses to one update

	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	snap := d.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, id, snap[0].ID)
	require.Equal(t, peer.Unknown, snap[0].OS)
}

func TestCapabilityReceivedFillsHostnameNotAddress(t *testing.T) {
	id := mustPeerID(t)
	addr, err := peer.NewAddress("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	c := &updateCollector{}
	d := NewDiscovery(c.record)
	d.Discovered(id, addr)

	d.CapabilityReceived(discovery.Record{Peer: id, Hostname: "alice-laptop", OS: peer.Macos})

	require.Eventually(t, func() bool {
		snap := d.Snapshot()
		return len(snap) == 1 && snap[0].Hostname == "alice-laptop"
	}, time.Second, 5*time.Millisecond)

	snap := d.Snapshot()
	require.Equal(t, addr.String(), snap[0].Address.String())
	require.Equal(t, peer.Macos, snap[0].OS)
}

func TestDisconnectedPeerIsSweptAfterStaleness(t *testing.T) {
	id := mustPeerID(t)
	addr, err := peer.NewAddress("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	c := &updateCollector{}
	d := NewDiscovery(c.record)
	fakeNow := time.Now()
	d.now = func() time.Time { return fakeNow }

	d.Connected(id, addr, true)
	require.True(t, d.IsConnected(id))

	d.Disconnected(id)
	require.False(t, d.IsConnected(id))

	// Not yet stale.
	d.Sweep()
	require.Len(t, d.Snapshot(), 1)

	// Advance past StalenessSweep.
	fakeNow = fakeNow.Add(StalenessSweep + time.Second)
	d.Sweep()
	require.Len(t, d.Snapshot(), 0)
}
