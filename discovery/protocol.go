// Package discovery implements the /discovery/1.0 one-shot capability
// exchange (spec §4.3): the moment two hosts share a connection, each side
// opens its own substream, writes its {hostname, os} record, and closes. No
// response is expected — this is a broadcast, not a request/response.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/esavier/dragit/log"
	"github.com/esavier/dragit/peer"
	"github.com/esavier/dragit/wire"
)

// ProtocolID is the multistream-negotiated protocol name for the capability
// exchange (spec §6).
const ProtocolID = protocol.ID("/discovery/1.0")

// Timeouts from spec §4.3: 2s to open and write on the dialing side, 1s to
// read on the listening side (the record is tiny and already in flight by
// the time the remote's stream handler runs).
const (
	DialTimeout = 2 * time.Second
	ReadTimeout = 1 * time.Second
)

var logger = log.Named("discovery/protocol")

// Record is the decoded capability exchange payload, tagged with the peer
// that sent it.
type Record struct {
	Peer     libp2ppeer.ID
	Hostname string
	OS       peer.OperatingSystem
}

// Self describes the local host's own capability record.
type Self struct {
	Hostname string
	OS       peer.OperatingSystem
}

// Exchange opens a fresh substream to remote and writes this host's own
// capability record. It does not wait for or expect anything back; the
// remote sends its own record by calling Exchange in the other direction,
// and this host's Handler receives it.
func Exchange(ctx context.Context, h host.Host, remote libp2ppeer.ID, self Self) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	s, err := h.NewStream(dialCtx, remote, ProtocolID)
	if err != nil {
		return fmt.Errorf("discovery: open stream to %s: %w", remote, err)
	}
	defer s.Close()

	if err := s.SetWriteDeadline(time.Now().Add(DialTimeout)); err != nil {
		return fmt.Errorf("discovery: set write deadline: %w", err)
	}

	rec := wire.DiscoveryRecord{Hostname: self.Hostname, OS: byte(self.OS)}
	if _, err := rec.WriteTo(s); err != nil {
		return fmt.Errorf("discovery: write record to %s: %w", remote, err)
	}
	return nil
}

// Handler returns a network.StreamHandler that reads one DiscoveryRecord
// and forwards it to onRecord. Register it on the host with
// host.SetStreamHandler(ProtocolID, ...) (spec §4.3).
func Handler(onRecord func(Record)) network.StreamHandler {
	return func(s network.Stream) {
		defer s.Close()

		remote := s.Conn().RemotePeer()
		if err := s.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			logger.Warnw("set read deadline", "peer", remote, "err", err)
			return
		}

		rec, err := wire.ReadDiscoveryRecord(bufio.NewReader(s))
		if err != nil {
			logger.Debugw("discarding malformed discovery record", "peer", remote, "err", err)
			return
		}

		onRecord(Record{
			Peer:     remote,
			Hostname: rec.Hostname,
			OS:       peer.OperatingSystemFromByte(rec.OS),
		})
	}
}
