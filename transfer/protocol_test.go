package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/payload"
	"github.com/esavier/dragit/wire"
	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory, deadline-tolerant duplex stream used to
// exercise HandleInbound/HandleOutbound against each other without a real
// libp2p host.
type fakeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newStreamPair() (a, b *fakeStream) {
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	return &fakeStream{r: pr2, w: pw1}, &fakeStream{r: pr1, w: pw2}
}

func (s *fakeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *fakeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *fakeStream) Close() error {
	_ = s.w.Close()
	_ = s.r.Close()
	return nil
}
func (s *fakeStream) CloseWrite() error                  { return s.w.Close() }
func (s *fakeStream) SetDeadline(time.Time) error         { return nil }
func (s *fakeStream) SetReadDeadline(time.Time) error     { return nil }
func (s *fakeStream) SetWriteDeadline(time.Time) error    { return nil }

type fakeWaiter struct {
	cmd event.TransferCommand
	err error
}

func (f fakeWaiter) Wait(ctx context.Context, hash string) (event.TransferCommand, error) {
	return f.cmd, f.err
}

type collector struct {
	mu     sync.Mutex
	events []event.PeerEvent
}

func (c *collector) Emit(ev event.PeerEvent)         { c.mu.Lock(); defer c.mu.Unlock(); c.events = append(c.events, ev) }
func (c *collector) EmitProgress(ev event.PeerEvent) { c.Emit(ev) }

func (c *collector) kinds() []event.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func TestRoundTripAcceptedTransfer(t *testing.T) {
	a, b := newStreamPair()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "hello.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hi\n"), 0o644))
	p := payload.NewFile(srcPath)

	hash, err := p.Hash()
	require.NoError(t, err)

	downloadsDir := t.TempDir()
	inboundEvents := &collector{}
	outboundEvents := &collector{}

	var wg sync.WaitGroup
	wg.Add(2)

	var outboundErr, inboundErr error
	go func() {
		defer wg.Done()
		outboundErr = HandleOutbound(a, p, OutboundConfig{
			Name: "hello.txt", Kind: wire.TypeFile, Events: outboundEvents,
		})
	}()
	go func() {
		defer wg.Done()
		inboundErr = HandleInbound(context.Background(), b, InboundConfig{
			DownloadsDir: func() (string, error) { return downloadsDir, nil },
			Waiter:       fakeWaiter{cmd: event.Accept(hash)},
			Events:       inboundEvents,
		})
	}()
	wg.Wait()

	require.NoError(t, outboundErr)
	require.NoError(t, inboundErr)

	require.Equal(t, []event.Kind{event.WaitingForAnswer, event.TransferProgress, event.TransferCompleted}, outboundEvents.kinds())
	require.Equal(t, []event.Kind{event.FileIncoming, event.TransferProgress, event.FileCorrect}, inboundEvents.kinds())

	entries, err := os.ReadDir(downloadsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "hello.txt")

	data, err := os.ReadFile(filepath.Join(downloadsDir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data))
}

func TestRoundTripRejectedTransfer(t *testing.T) {
	a, b := newStreamPair()

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "hello.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("hi\n"), 0o644))
	p := payload.NewFile(srcPath)
	hash, err := p.Hash()
	require.NoError(t, err)

	downloadsDir := t.TempDir()
	inboundEvents := &collector{}
	outboundEvents := &collector{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = HandleOutbound(a, p, OutboundConfig{Name: "hello.txt", Kind: wire.TypeFile, Events: outboundEvents})
	}()
	go func() {
		defer wg.Done()
		_ = HandleInbound(context.Background(), b, InboundConfig{
			DownloadsDir: func() (string, error) { return downloadsDir, nil },
			Waiter:       fakeWaiter{cmd: event.Deny(hash)},
			Events:       inboundEvents,
		})
	}()
	wg.Wait()

	require.Equal(t, []event.Kind{event.WaitingForAnswer, event.TransferRejected}, outboundEvents.kinds())
	require.Equal(t, []event.Kind{event.FileIncoming}, inboundEvents.kinds())

	entries, err := os.ReadDir(downloadsDir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}
