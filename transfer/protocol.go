// Package transfer implements the /transfer/1.1 state machine (spec §4.4):
// metadata -> answer -> stream, run independently for each inbound and
// outbound payload over an already-negotiated, already-authenticated,
// already-muxed substream handed to us by the swarm driver.
package transfer

import (
	"context"
	"io"
	"time"

	"github.com/esavier/dragit/event"
)

// ProtocolID is the multistream-negotiated protocol name for this wire
// format (spec §6).
const ProtocolID = "/transfer/1.1"

// Timeouts from spec §4.4.
const (
	DialTimeout     = 120 * time.Second
	MetadataTimeout = 10 * time.Second
	IdleTimeout     = 120 * time.Second
)

// Chunking defaults from spec §4.4.
const (
	DefaultChunkSize      = 4 * 1024
	DefaultFlushThreshold = 512 * 1024
)

// Stream is the minimal surface transfer needs from a substream: it is
// satisfied directly by github.com/libp2p/go-libp2p/core/network.Stream,
// but kept as a narrow interface here so this package's tests never need a
// live libp2p host.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	CloseWrite() error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// CommandWaiter lets an inbound transfer block on the TransferCommand that
// matches its metadata hash, without knowing anything about how the swarm
// driver fans incoming commands out to waiters (spec §9: "model this as a
// single consumer with a hash-keyed fan-out router inside the swarm
// driver, not as shared mutable state").
type CommandWaiter interface {
	// Wait blocks until a command for hash arrives or ctx is done. A
	// command that arrived before Wait was called may be returned at once
	// if the implementation still holds it.
	Wait(ctx context.Context, hash string) (event.TransferCommand, error)
}

// Emitter delivers PeerEvents to the UI-facing output channel. Emit is
// used for events that must never be silently dropped (FileIncoming,
// WaitingForAnswer, TransferRejected/Completed, FileCorrect/Incorrect,
// Error); a full channel there is itself surfaced as an Error event by the
// implementation. EmitProgress is used only for TransferProgress, which
// spec §5 requires to use non-blocking try-send, silently dropped on
// overflow.
type Emitter interface {
	Emit(event.PeerEvent)
	EmitProgress(event.PeerEvent)
}
