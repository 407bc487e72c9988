package swarm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	yamuxv4 "github.com/libp2p/go-yamux/v4"
	"github.com/multiformats/go-multiaddr"

	"github.com/esavier/dragit/behavior"
	"github.com/esavier/dragit/config"
	"github.com/esavier/dragit/discovery"
	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/identity"
	"github.com/esavier/dragit/log"
	"github.com/esavier/dragit/payload"
	dragitpeer "github.com/esavier/dragit/peer"
	"github.com/esavier/dragit/transfer"
	"github.com/esavier/dragit/wire"
)

var driverLogger = log.Named("swarm/driver")

// mdnsServiceName is the libp2p mDNS service tag dragit instances advertise
// and search for on the local network (spec §4.7).
const mdnsServiceName = "_dragit._tcp"

// PollInterval is how often the cooperative event loop wakes to run the
// transfer behavior's fairness pass and sweep stale peers / dead-letter
// commands (spec §4.6, §4.7).
const PollInterval = 200 * time.Millisecond

// dialTimeout bounds an opportunistic dial to a freshly mDNS-discovered
// peer, distinct from the per-payload backoff dials the transfer behavior
// issues once something is actually queued for that peer.
const dialTimeout = 10 * time.Second

// Stream multiplexer buffering, spec §4.7: "stream multiplexer (max
// buffered frame 40 KiB, split send size 512 KiB) -> 60s outgoing-timeout
// wrapper". yamuxMaxStreamWindowSize bounds the per-stream receive window
// (the "max buffered frame"); yamuxMaxMessageSize bounds a single yamux
// data frame before it is split (the "split send size");
// yamuxConnectionWriteTimeout is the 60s outgoing-timeout wrapper yamux
// applies around every write on the muxed connection.
const (
	yamuxMaxStreamWindowSize    = 40 * 1024
	yamuxMaxMessageSize         = 512 * 1024
	yamuxConnectionWriteTimeout = 60 * time.Second
)

// newYamuxTransport configures yamux with the §4.7 buffering numbers
// instead of yamux.DefaultTransport's generic values.
func newYamuxTransport() *yamux.Transport {
	cfg := yamuxv4.DefaultConfig()
	cfg.MaxStreamWindowSize = yamuxMaxStreamWindowSize
	cfg.MaxMessageSize = yamuxMaxMessageSize
	cfg.ConnectionWriteTimeout = yamuxConnectionWriteTimeout
	return (*yamux.Transport)(cfg)
}

// Driver composes mDNS discovery, the discovery and transfer behaviors,
// and the /discovery/1.0 + /transfer/1.1 protocol handlers over a single
// libp2p host (spec §4.7): one cooperative driver, one authenticated
// muxed transport.
type Driver struct {
	Host host.Host

	channels   *Channels
	router     *CommandRouter
	pool       *WorkerPool
	cfgStore   *config.Store
	discoveryB *behavior.Discovery
	transferB  *behavior.Transfer
	self       discovery.Self

	mdnsService mdns.Service
}

// New builds and wires a Driver: constructs the libp2p host (TCP + WS
// transport, Noise security, yamux muxing), registers both protocol
// stream handlers, and starts mDNS. It does not start the cooperative
// event loop — call Run for that.
func New(ident identity.Identity, cfgStore *config.Store, listenPort int, self discovery.Self) (*Driver, error) {
	h, err := libp2p.New(
		libp2p.Identity(ident.Private),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort),
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d/ws", listenPort),
		),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, newYamuxTransport()),
	)
	if err != nil {
		return nil, fmt.Errorf("swarm: create host: %w", err)
	}

	d := &Driver{
		Host:     h,
		channels: NewChannels(),
		router:   NewCommandRouter(),
		pool:     NewWorkerPool(DefaultWorkers),
		cfgStore: cfgStore,
		self:     self,
	}
	d.discoveryB = behavior.NewDiscovery(d.onPeersUpdated)
	d.transferB = behavior.NewTransfer(d.dispatchOutbound, d.dialKnownPeer)

	h.SetStreamHandler(discovery.ProtocolID, discovery.Handler(d.discoveryB.CapabilityReceived))
	h.SetStreamHandler(transfer.ProtocolID, d.handleInboundStream)
	h.Network().Notify(&hostNotifiee{d: d})

	svc := mdns.NewMdnsService(h, mdnsServiceName, &mdnsNotifee{d: d})
	if err := svc.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("swarm: start mdns: %w", err)
	}
	d.mdnsService = svc

	driverLogger.Infow("swarm driver started", "peer", h.ID(), "addrs", h.Addrs())
	return d, nil
}

// Channels exposes the bounded-channel boundary the UI task talks to
// (spec §6).
func (d *Driver) Channels() *Channels { return d.channels }

// ID returns the local peer id.
func (d *Driver) ID() libp2ppeer.ID { return d.Host.ID() }

// Close tears down the mDNS service and the host.
func (d *Driver) Close() error {
	if err := d.mdnsService.Close(); err != nil {
		driverLogger.Warnw("closing mdns service", "err", err)
	}
	return d.Host.Close()
}

// Run is the single cooperative event loop (spec §4.7): it drains the
// inbound FileToSend and TransferCommand channels, and on each tick runs
// the transfer behavior's fairness pass and the staleness/dead-letter
// sweeps. It blocks until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-d.channels.files:
			if err := f.Validate(func(p string) error { _, err := os.Stat(p); return err }); err != nil {
				d.channels.Emit(event.NewError(err))
				continue
			}
			d.transferB.Enqueue(f)

		case cmd := <-d.channels.commands:
			d.router.Route(cmd)

		case <-ticker.C:
			// The three maintenance passes touch disjoint state (the
			// transfer behavior's queue/dial tables, the discovery
			// behavior's peer table, the router's dead-letter cache), so
			// they run concurrently through the same worker pool that
			// bounds hashing/archiving, rather than one after another.
			_ = d.pool.RunGroup(ctx,
				func(context.Context) error { d.transferB.Poll(); return nil },
				func(context.Context) error { d.discoveryB.Sweep(); return nil },
				func(context.Context) error { d.router.Sweep(); return nil },
			)
		}
	}
}

// onPeersUpdated is the discovery behavior's coalesced snapshot callback:
// it forwards a PeersUpdated event to the UI and refreshes the transfer
// behavior's known-peer set.
func (d *Driver) onPeersUpdated(peers []dragitpeer.Peer) {
	ids := make([]libp2ppeer.ID, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	d.transferB.SetKnownPeers(ids)
	d.channels.Emit(event.PeerEvent{Kind: event.PeersUpdated, Peers: peers})
}

// dialKnownPeer attempts to connect to a known-but-disconnected peer using
// whatever address the peerstore has for it, on behalf of the transfer
// behavior's backoff-driven retry (spec §4.6, S5).
func (d *Driver) dialKnownPeer(id libp2ppeer.ID) {
	addrs := d.Host.Peerstore().Addrs(id)
	if len(addrs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := d.Host.Connect(ctx, libp2ppeerAddrInfo(id, addrs)); err != nil {
		driverLogger.Debugw("dial retry failed", "peer", id, "err", err)
	}
}

func libp2ppeerAddrInfo(id libp2ppeer.ID, addrs []multiaddr.Multiaddr) libp2ppeer.AddrInfo {
	return libp2ppeer.AddrInfo{ID: id, Addrs: addrs}
}

// dispatchOutbound runs one outbound /transfer/1.1 send for f: it opens a
// stream to f.TargetPeerID — the dispatch-authoritative field (spec §9
// redesign flag) — builds the payload (archiving directories via the
// worker pool), and hands both to transfer.HandleOutbound. It always
// calls transferB.Completed when done, success or failure.
func (d *Driver) dispatchOutbound(f event.FileToSend) {
	go func() {
		defer d.transferB.Completed(f.TargetPeerID)

		pl, err := d.buildPayload(f)
		if err != nil {
			d.channels.Emit(event.NewError(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), transfer.DialTimeout)
		s, err := d.Host.NewStream(ctx, f.TargetPeerID, transfer.ProtocolID)
		cancel()
		if err != nil {
			_ = pl.Close()
			d.channels.Emit(event.NewError(fmt.Errorf("%w: open transfer stream to %s: %v", event.ErrTransport, f.TargetPeerID, err)))
			return
		}

		wireKind := wire.TypeFile
		if f.Kind == event.Directory {
			wireKind = wire.TypeDirectory
		}

		err = transfer.HandleOutbound(s, pl, transfer.OutboundConfig{
			Name:        f.Name,
			Kind:        wireKind,
			HashPayload: d.hashPayloadViaPool,
			Events:      d.channels,
		})
		if err != nil {
			driverLogger.Warnw("outbound transfer failed", "peer", f.TargetPeerID, "name", f.Name, "err", err)
		}
	}()
}

// buildPayload resolves f.SourcePath to a payload.Payload, archiving it on
// the worker pool first if f.Kind is a directory (spec §4.2, §5).
func (d *Driver) buildPayload(f event.FileToSend) (payload.Payload, error) {
	if f.Kind == event.File {
		return payload.NewFile(f.SourcePath), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), transfer.DialTimeout)
	defer cancel()
	res := <-d.pool.ArchiveDirectory(ctx, f.SourcePath)
	if res.Err != nil {
		return payload.Payload{}, res.Err
	}
	return res.Payload, nil
}

// hashPayloadViaPool computes p's size+hash through the worker pool so a
// burst of concurrent outbound sends cannot spawn unbounded concurrent
// SHA-1 passes (spec §5, §7); it is transfer.OutboundConfig.HashPayload.
func (d *Driver) hashPayloadViaPool(p payload.Payload) (uint64, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), transfer.DialTimeout)
	defer cancel()
	res := <-d.pool.HashPayload(ctx, p)
	return res.Size, res.Hash, res.Err
}

// hashPayloadOneViaPool is the VERIFY-side counterpart of
// hashPayloadViaPool, used as transfer.InboundConfig.HashPayload; it
// discards the size half of the result since VERIFY already knows the
// expected size from the metadata.
func (d *Driver) hashPayloadOneViaPool(p payload.Payload) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), transfer.DialTimeout)
	defer cancel()
	res := <-d.pool.HashPayload(ctx, p)
	return res.Hash, res.Err
}

// handleInboundStream adapts network.Stream into transfer.HandleInbound,
// wiring the config store's live downloads_dir (re-read per spec §6) and
// the command router as the hash-keyed answer waiter.
func (d *Driver) handleInboundStream(s network.Stream) {
	err := transfer.HandleInbound(context.Background(), s, transfer.InboundConfig{
		DownloadsDir: d.cfgStore.DownloadsDir,
		Waiter:       d.router,
		HashPayload:  d.hashPayloadOneViaPool,
		Events:       d.channels,
	})
	if err != nil {
		driverLogger.Warnw("inbound transfer failed", "peer", s.Conn().RemotePeer(), "err", err)
	}
}

// hostNotifiee bridges libp2p connection lifecycle events into the
// discovery and transfer behaviors.
type hostNotifiee struct{ d *Driver }

func (n *hostNotifiee) Connected(_ network.Network, c network.Conn) {
	id := c.RemotePeer()
	addr := dragitpeer.Address{Multiaddr: c.RemoteMultiaddr()}
	asDialer := c.Stat().Direction == network.DirOutbound

	n.d.discoveryB.Connected(id, addr, asDialer)
	n.d.transferB.SetConnected(id, true)

	// Both ends send their own capability record on a new connection;
	// each side's discovery.Handler receives the other's.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), discovery.DialTimeout)
		defer cancel()
		if err := discovery.Exchange(ctx, n.d.Host, id, n.d.self); err != nil {
			driverLogger.Debugw("capability exchange failed", "peer", id, "err", err)
		}
	}()
}

func (n *hostNotifiee) Disconnected(_ network.Network, c network.Conn) {
	id := c.RemotePeer()
	n.d.discoveryB.Disconnected(id)
	n.d.transferB.SetConnected(id, false)
}

func (n *hostNotifiee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (n *hostNotifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}

// mdnsNotifee bridges mDNS peer-found events into the discovery behavior
// and opportunistically dials the freshly discovered peer, so the
// capability exchange (and any already-queued send) can proceed without
// waiting for a payload to trigger the transfer behavior's own backoff
// dial (spec §4.5).
type mdnsNotifee struct{ d *Driver }

func (n *mdnsNotifee) HandlePeerFound(pi libp2ppeer.AddrInfo) {
	if pi.ID == n.d.Host.ID() || len(pi.Addrs) == 0 {
		return
	}

	n.d.Host.Peerstore().AddAddrs(pi.ID, pi.Addrs, time.Hour)
	n.d.discoveryB.Discovered(pi.ID, dragitpeer.Address{Multiaddr: pi.Addrs[0]})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := n.d.Host.Connect(ctx, pi); err != nil {
			driverLogger.Debugw("connect to mdns peer failed", "peer", pi.ID, "err", err)
		}
	}()
}
