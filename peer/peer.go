// Package peer holds the data model shared by every other dragit package:
// the opaque peer identifier, the composable network address, the
// advertised operating system, and the Peer record itself.
package peer

import (
	"fmt"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ID is dragit's opaque, globally-unique peer identifier. It is exactly the
// underlying libp2p peer.ID (derived from the Ed25519 public key generated
// at process start, see the identity package): comparable, hashable, and
// safe to use as a map key, which is what every table in behavior/ does.
type ID = libp2ppeer.ID

// OperatingSystem is the remote host's self-reported OS, learned via the
// discovery capability exchange (/discovery/1.0). It is serialized on the
// wire as a single byte in the order declared here.
type OperatingSystem byte

const (
	Linux OperatingSystem = iota
	Windows
	Macos
	Other
	Unknown
)

func (os OperatingSystem) String() string {
	switch os {
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	case Macos:
		return "macos"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// OperatingSystemFromByte decodes the wire byte, falling back to Unknown
// for anything outside the enum rather than erroring — an unrecognized OS
// byte is not fatal to the discovery exchange, it just means we can't show
// a nice icon for that peer.
func OperatingSystemFromByte(b byte) OperatingSystem {
	if b > byte(Unknown) {
		return Unknown
	}
	return OperatingSystem(b)
}

// Address is dragit's composable network address: at minimum an IPv4/IPv6
// host plus TCP port, optionally wrapped in a WebSocket (and, transitively,
// DNS) layer. It is backed by a multiaddr, which already composes exactly
// this way (/ip4/.../tcp/.../ws).
type Address struct {
	multiaddr.Multiaddr
}

// NewAddress parses a multiaddr string such as "/ip4/192.168.1.5/tcp/45231".
func NewAddress(s string) (Address, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("peer: parse address %q: %w", s, err)
	}
	return Address{ma}, nil
}

// Peer is {peer_id, address, hostname, os}. It is created the moment mDNS
// first reports the remote, and mutated in place thereafter: a successful
// dial fills in the canonical Address, and a completed discovery exchange
// fills in Hostname/OS. It is destroyed (removed from the discovery
// behavior's table) by the staleness sweep once it has no live connection
// and has not been re-seen by mDNS within the sweep window; go-libp2p's
// mDNS reports no expiry of its own.
type Peer struct {
	ID       ID
	Address  Address
	Hostname string
	OS       OperatingSystem
}

// String renders a short, log-friendly identity for the peer: its id's
// default string form plus hostname if known.
func (p Peer) String() string {
	if p.Hostname == "" {
		return p.ID.String()
	}
	return fmt.Sprintf("%s (%s)", p.Hostname, p.ID.String())
}
