// Package swarm composes the discovery and transfer behaviors over a
// libp2p host into the single cooperative driver described in spec §4.7,
// and provides the bounded-channel boundary (§5/§6) the UI task talks to.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/log"
)

// ChannelCapacity is the fixed buffer size for every cross-task channel
// (spec §5/§6): 24576 entries in each direction.
const ChannelCapacity = 24576

// CommandDeadLetterTTL bounds how long an unmatched TransferCommand is held
// in case its matching inbound transfer is merely slow to start waiting
// (spec §4.7 point 2, §8 property 4).
const CommandDeadLetterTTL = 30 * time.Second

// commandDeadLetterCapacity bounds the dead-letter cache's memory, entirely
// separate from the TTL — it is a defensive cap, not expected to bind in
// practice.
const commandDeadLetterCapacity = 1024

var channelsLogger = log.Named("swarm/channels")

// Channels is the bounded-channel boundary between the UI task and the
// swarm driver: FileToSend and TransferCommand flow in, PeerEvent flows
// out, all with capacity ChannelCapacity (spec §6).
type Channels struct {
	files    chan event.FileToSend
	commands chan event.TransferCommand
	events   chan event.PeerEvent
}

// NewChannels allocates a fresh set of bounded channels.
func NewChannels() *Channels {
	return &Channels{
		files:    make(chan event.FileToSend, ChannelCapacity),
		commands: make(chan event.TransferCommand, ChannelCapacity),
		events:   make(chan event.PeerEvent, ChannelCapacity),
	}
}

// Files returns the channel the UI sends FileToSend records into.
func (c *Channels) Files() chan<- event.FileToSend { return c.files }

// Commands returns the channel the UI sends TransferCommand records into.
func (c *Channels) Commands() chan<- event.TransferCommand { return c.commands }

// Events returns the channel the UI receives PeerEvents from.
func (c *Channels) Events() <-chan event.PeerEvent { return c.events }

// Emit implements transfer.Emitter: a full output channel is itself
// surfaced as an Error event via a second, best-effort try-send (spec
// §5: "ChannelFull ... surfaced as Error"). If that also fails, it is only
// logged — there is no third channel to escalate to.
func (c *Channels) Emit(ev event.PeerEvent) {
	select {
	case c.events <- ev:
		return
	default:
	}
	channelsLogger.Warnw("output channel full, surfacing as error", "kind", ev.Kind)
	errEv := event.NewError(fmt.Errorf("%w: output channel full delivering kind %d", event.ErrChannelFull, ev.Kind))
	select {
	case c.events <- errEv:
	default:
		channelsLogger.Errorw("output channel still full, dropping error event", "kind", ev.Kind)
	}
}

// EmitProgress implements transfer.Emitter: TransferProgress events use a
// non-blocking try-send and are silently dropped on overflow (spec §5) —
// the next progress tick supersedes a dropped one anyway.
func (c *Channels) EmitProgress(ev event.PeerEvent) {
	select {
	case c.events <- ev:
	default:
		channelsLogger.Debugw("dropping progress event, channel full", "done", ev.Done, "total", ev.Total)
	}
}

// SubmitFile try-sends f into the inbound file channel, returning
// ErrChannelFull if it is at capacity (spec §7).
func (c *Channels) SubmitFile(f event.FileToSend) error {
	select {
	case c.files <- f:
		return nil
	default:
		return fmt.Errorf("swarm: %w: file channel full", event.ErrChannelFull)
	}
}

// SubmitCommand try-sends cmd into the inbound command channel, returning
// ErrChannelFull if it is at capacity (spec §7).
func (c *Channels) SubmitCommand(cmd event.TransferCommand) error {
	select {
	case c.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("swarm: %w: command channel full", event.ErrChannelFull)
	}
}

type deadLetter struct {
	cmd       event.TransferCommand
	arrivedAt time.Time
}

// CommandRouter hash-fans-out inbound TransferCommands to whichever
// inbound transfer is waiting on that hash (spec §4.7 point 2). A command
// that arrives before its waiter registers — a benign race, since the UI
// can answer faster than a new goroutine gets scheduled — is held in a
// bounded, time-stamped dead-letter cache for CommandDeadLetterTTL.
type CommandRouter struct {
	mu          sync.Mutex
	waiters     map[string]chan event.TransferCommand
	deadLetters *lru.Cache

	now func() time.Time
}

// NewCommandRouter builds an empty CommandRouter.
func NewCommandRouter() *CommandRouter {
	cache, err := lru.New(commandDeadLetterCapacity)
	if err != nil {
		// lru.New only errors for a non-positive size, which is a
		// programmer error against a compile-time constant.
		panic(fmt.Sprintf("swarm: command dead-letter cache: %v", err))
	}
	return &CommandRouter{
		waiters:     make(map[string]chan event.TransferCommand),
		deadLetters: cache,
		now:         time.Now,
	}
}

// Wait implements transfer.CommandWaiter. It first checks the dead-letter
// cache for a command that already arrived for hash, then blocks on a
// fresh registration until ctx is done.
func (r *CommandRouter) Wait(ctx context.Context, hash string) (event.TransferCommand, error) {
	r.mu.Lock()
	if v, ok := r.deadLetters.Get(hash); ok {
		r.deadLetters.Remove(hash)
		r.mu.Unlock()
		return v.(deadLetter).cmd, nil
	}
	ch := make(chan event.TransferCommand, 1)
	r.waiters[hash] = ch
	r.mu.Unlock()

	select {
	case cmd := <-ch:
		return cmd, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, hash)
		r.mu.Unlock()
		return event.TransferCommand{}, ctx.Err()
	}
}

// Route delivers cmd to its waiter if one is registered, otherwise parks it
// in the dead-letter cache until Sweep reaps it.
func (r *CommandRouter) Route(cmd event.TransferCommand) {
	r.mu.Lock()
	ch, ok := r.waiters[cmd.Hash]
	if ok {
		delete(r.waiters, cmd.Hash)
	}
	r.mu.Unlock()

	if ok {
		ch <- cmd
		return
	}

	r.mu.Lock()
	r.deadLetters.Add(cmd.Hash, deadLetter{cmd: cmd, arrivedAt: r.now()})
	r.mu.Unlock()
	channelsLogger.Debugw("command arrived with no registered waiter yet", "hash", cmd.Hash)
}

// Sweep drops dead letters older than CommandDeadLetterTTL. Call it
// periodically from the swarm driver's cooperative loop.
func (r *CommandRouter) Sweep() {
	cutoff := r.now().Add(-CommandDeadLetterTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.deadLetters.Keys() {
		v, ok := r.deadLetters.Peek(key)
		if !ok {
			continue
		}
		if v.(deadLetter).arrivedAt.Before(cutoff) {
			r.deadLetters.Remove(key)
		}
	}
}
