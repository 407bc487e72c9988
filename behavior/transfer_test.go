package behavior

import (
	"sync"
	"testing"
	"time"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/esavier/dragit/event"
)

type dispatchRecorder struct {
	mu  sync.Mutex
	got []event.FileToSend
}

func (d *dispatchRecorder) dispatch(f event.FileToSend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, f)
}

func (d *dispatchRecorder) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func TestPollDispatchesToConnectedPeerAtMostOnce(t *testing.T) {
	id := mustPeerID(t)
	rec := &dispatchRecorder{}
	var dials int
	tr := NewTransfer(rec.dispatch, func(libp2ppeer.ID) { dials++ })

	tr.SetKnownPeers([]libp2ppeer.ID{id})
	tr.SetConnected(id, true)

	tr.Enqueue(event.FileToSend{Name: "a.txt", SourcePath: "/tmp/a.txt", TargetPeerID: id})
	tr.Enqueue(event.FileToSend{Name: "b.txt", SourcePath: "/tmp/b.txt", TargetPeerID: id})

	tr.Poll()
	require.Equal(t, 1, rec.len(), "only one outbound transfer per peer may be in flight")
	require.Equal(t, 1, tr.QueueLen(), "the second payload stays queued")

	tr.Completed(id)
	tr.Poll()
	require.Equal(t, 2, rec.len())
	require.Equal(t, 0, tr.QueueLen())
	require.Equal(t, 0, dials)
}

func TestPollDialsKnownDisconnectedPeerWithBackoff(t *testing.T) {
	id := mustPeerID(t)
	rec := &dispatchRecorder{}
	var dials int
	tr := NewTransfer(rec.dispatch, func(libp2ppeer.ID) { dials++ })
	fakeNow := time.Now()
	tr.now = func() time.Time { return fakeNow }

	tr.SetKnownPeers([]libp2ppeer.ID{id})
	tr.Enqueue(event.FileToSend{Name: "a.txt", SourcePath: "/tmp/a.txt", TargetPeerID: id})

	tr.Poll()
	require.Equal(t, 1, dials)
	require.Equal(t, 0, rec.len())
	require.Equal(t, 1, tr.QueueLen())

	// Immediately polling again must not dial again (backoff not elapsed).
	tr.Poll()
	require.Equal(t, 1, dials)

	fakeNow = fakeNow.Add(DialBackoffMax + time.Second)
	tr.Poll()
	require.Equal(t, 2, dials)
}

func TestPollLeavesUnknownPeerQueued(t *testing.T) {
	id := mustPeerID(t)
	rec := &dispatchRecorder{}
	var dials int
	tr := NewTransfer(rec.dispatch, func(libp2ppeer.ID) { dials++ })

	tr.Enqueue(event.FileToSend{Name: "a.txt", SourcePath: "/tmp/a.txt", TargetPeerID: id})
	tr.Poll()

	require.Equal(t, 0, dials)
	require.Equal(t, 0, rec.len())
	require.Equal(t, 1, tr.QueueLen())
}
