// Package event holds the types that cross the boundary between the network
// task and the UI task: the inbound FileToSend and TransferCommand records,
// and the outbound PeerEvent union. None of these types know how to move
// bytes; they are the bounded-channel payloads described in spec §5/§6.
package event

import (
	"fmt"

	"github.com/esavier/dragit/payload"
	"github.com/esavier/dragit/peer"
)

// TransferKind distinguishes a plain file from a directory that will be
// zipped on the fly before sending.
type TransferKind byte

const (
	File TransferKind = iota
	Directory
)

func (k TransferKind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Direction disambiguates incoming and outgoing TransferProgress events.
type Direction byte

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// FileToSend is constructed by the UI when the user drops a path onto a
// peer's tile. It is consumed exactly once, by the transfer behavior, when
// it pairs the record with a live connection to TargetPeerID.
type FileToSend struct {
	Name         string
	SourcePath   string
	TargetPeerID peer.ID
	Kind         TransferKind
}

// Validate checks the record is fit to be queued: a target peer must be
// named, the source path must be non-empty, and statFn (when non-nil) must
// accept the path. The path is not canonicalized here. It does not check
// liveness of the peer — that is the transfer behavior's job.
func (f FileToSend) Validate(statFn func(string) error) error {
	if f.TargetPeerID == "" {
		return fmt.Errorf("%w: no target peer", ErrPathInvalid)
	}
	if f.SourcePath == "" {
		return fmt.Errorf("%w: empty source path", ErrPathInvalid)
	}
	if statFn != nil {
		if err := statFn(f.SourcePath); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPathInvalid, f.SourcePath, err)
		}
	}
	return nil
}

// TransferCommand is produced by the UI in response to a FileIncoming event
// and consumed by exactly one waiting inbound transfer, matched by Hash.
type TransferCommand struct {
	Accepted bool
	Hash     string
}

// Accept builds an acceptance command for the given hash.
func Accept(hash string) TransferCommand { return TransferCommand{Accepted: true, Hash: hash} }

// Deny builds a rejection command for the given hash.
func Deny(hash string) TransferCommand { return TransferCommand{Accepted: false, Hash: hash} }

// Kind enumerates the PeerEvent union tag.
type Kind int

const (
	PeersUpdated Kind = iota
	FileIncoming
	TransferProgress
	WaitingForAnswer
	TransferRejected
	TransferCompleted
	FileCorrect
	FileIncorrect
	Error
)

// PeerEvent is the tagged union flowing from the network task to the UI.
// Only the fields relevant to Kind are populated; the zero value of the
// rest is meaningless and must not be inspected.
type PeerEvent struct {
	Kind Kind

	// PeersUpdated
	Peers []peer.Peer

	// FileIncoming, TransferProgress, TransferCompleted, FileCorrect/Incorrect
	Name      string
	Hash      string
	Size      uint64
	TransferKind TransferKind
	Done      uint64
	Total     uint64
	Direction Direction
	Payload   payload.Payload

	// Error
	Message string
	ErrKind ErrorKind
}
