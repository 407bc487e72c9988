package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	dragitpeer "github.com/esavier/dragit/peer"
)

func TestExchangeDeliversRecordToHandler(t *testing.T) {
	hostA, err := libp2p.New()
	require.NoError(t, err)
	defer hostA.Close()

	recv := make(chan Record, 1)
	hostB, err := libp2p.New()
	require.NoError(t, err)
	defer hostB.Close()
	hostB.SetStreamHandler(ProtocolID, Handler(func(r Record) { recv <- r }))

	bInfo := peer.AddrInfo{ID: hostB.ID(), Addrs: hostB.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hostA.Connect(ctx, bInfo))

	err = Exchange(ctx, hostA, hostB.ID(), Self{Hostname: "alice", OS: dragitpeer.Linux})
	require.NoError(t, err)

	select {
	case r := <-recv:
		require.Equal(t, hostA.ID(), r.Peer)
		require.Equal(t, "alice", r.Hostname)
		require.Equal(t, dragitpeer.Linux, r.OS)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery record")
	}
}
