package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esavier/dragit/event"
)

func TestEmitProgressDropsSilentlyWhenFull(t *testing.T) {
	c := &Channels{events: make(chan event.PeerEvent, 1)}
	c.EmitProgress(event.PeerEvent{Kind: event.TransferProgress, Done: 1})
	c.EmitProgress(event.PeerEvent{Kind: event.TransferProgress, Done: 2}) // dropped, channel full

	got := <-c.events
	require.Equal(t, uint64(1), got.Done)
	select {
	case <-c.events:
		t.Fatal("expected no second event")
	default:
	}
}

func TestEmitKeepsQueuedEventWhenFull(t *testing.T) {
	c := &Channels{events: make(chan event.PeerEvent, 1)}
	c.Emit(event.PeerEvent{Kind: event.FileIncoming, Name: "a.txt"})
	c.Emit(event.PeerEvent{Kind: event.FileIncoming, Name: "b.txt"}) // channel full: b.txt and its replacement Error event are both dropped

	first := <-c.events
	require.Equal(t, event.FileIncoming, first.Kind)
	require.Equal(t, "a.txt", first.Name)
}

func TestSubmitFileAndCommandRespectCapacity(t *testing.T) {
	c := &Channels{files: make(chan event.FileToSend, 1), commands: make(chan event.TransferCommand, 1)}

	require.NoError(t, c.SubmitFile(event.FileToSend{Name: "a"}))
	err := c.SubmitFile(event.FileToSend{Name: "b"})
	require.ErrorIs(t, err, event.ErrChannelFull)

	require.NoError(t, c.SubmitCommand(event.Accept("h")))
	err = c.SubmitCommand(event.Accept("h2"))
	require.ErrorIs(t, err, event.ErrChannelFull)
}

func TestCommandRouterDeliversToRegisteredWaiter(t *testing.T) {
	r := NewCommandRouter()

	type result struct {
		cmd event.TransferCommand
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd, err := r.Wait(context.Background(), "abc")
		done <- result{cmd, err}
	}()

	time.Sleep(20 * time.Millisecond) // let Wait register before routing
	r.Route(event.Accept("abc"))

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.cmd.Accepted)
	require.Equal(t, "abc", res.cmd.Hash)
}

func TestCommandRouterDeadLettersUnmatchedCommand(t *testing.T) {
	r := NewCommandRouter()
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	r.Route(event.Accept("xyz")) // arrives before anyone waits

	cmd, err := r.Wait(context.Background(), "xyz")
	require.NoError(t, err)
	require.Equal(t, "xyz", cmd.Hash)
}

func TestCommandRouterSweepExpiresOldDeadLetters(t *testing.T) {
	r := NewCommandRouter()
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	r.Route(event.Accept("stale"))

	fakeNow = fakeNow.Add(CommandDeadLetterTTL + time.Second)
	r.Sweep()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx, "stale")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
