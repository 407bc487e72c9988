package transfer

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/payload"
	"github.com/esavier/dragit/wire"
)

// OutboundConfig configures one run of the send state machine. DIAL/ATTACH
// and NEGOTIATE (spec §4.4) happen before HandleOutbound is called: the
// caller hands over an already-dialed, already-protocol-negotiated Stream.
type OutboundConfig struct {
	Name string
	Kind wire.TransferType

	ChunkSize         int
	ProgressThreshold func(total uint64) uint64

	// HashPayload computes p's size and content hash for WRITE_META.
	// Defaults to p.TotalSize() followed by p.Hash() run inline; the swarm
	// driver overrides this to bound the work behind its worker pool
	// (spec §5, §7) instead of running SHA-1 unbounded on this goroutine.
	HashPayload func(payload.Payload) (uint64, string, error)

	Events Emitter

	now func() time.Time
}

func defaultHashPayload(p payload.Payload) (uint64, string, error) {
	size, err := p.TotalSize()
	if err != nil {
		return 0, "", err
	}
	hash, err := p.Hash()
	if err != nil {
		return 0, "", err
	}
	return size, hash, nil
}

func (c OutboundConfig) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// HandleOutbound runs WRITE_META, EMIT_WAITING, READ_ANSWER and, on
// acceptance, STREAM_BODY + CLOSE + EMIT_COMPLETED for p over s. It always
// closes s before returning.
func HandleOutbound(s Stream, p payload.Payload, cfg OutboundConfig) error {
	defer s.Close()

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	hashFn := cfg.HashPayload
	if hashFn == nil {
		hashFn = defaultHashPayload
	}

	// Payload size+hash are computed once per send by fully reading the
	// payload before transmission (spec §4.2).
	size, hash, err := hashFn(p)
	if err != nil {
		wrapped := fmt.Errorf("%w: hash payload: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	meta := wire.Metadata{Name: cfg.Name, Hash: hash, Size: size, Type: cfg.Kind}

	// WRITE_META
	if err := s.SetWriteDeadline(cfg.clock().Add(MetadataTimeout)); err != nil {
		return fmt.Errorf("transfer: set metadata write deadline: %w", err)
	}
	if _, err := meta.WriteTo(s); err != nil {
		wrapped := fmt.Errorf("%w: write metadata: %v", event.ErrTransport, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	_ = s.SetWriteDeadline(time.Time{})

	// EMIT_WAITING
	cfg.Events.Emit(event.PeerEvent{Kind: event.WaitingForAnswer, Name: meta.Name, Hash: meta.Hash})

	// READ_ANSWER — user-unbounded, bounded by the idle keep-alive.
	if err := s.SetDeadline(cfg.clock().Add(IdleTimeout)); err != nil {
		return fmt.Errorf("transfer: set idle deadline: %w", err)
	}
	ans, err := wire.ReadAnswer(bufio.NewReader(s))
	if err != nil {
		wrapped := fmt.Errorf("%w: read answer: %v", event.ErrTimeout, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	_ = s.SetDeadline(time.Time{})

	// The sender confirms the echoed hash matches what it sent (spec §9
	// redesign flag); a mismatch means the bytes were corrupted in
	// transit, not that the receiver rejected the transfer.
	if ans.Hash != meta.Hash {
		wrapped := fmt.Errorf("%w: answer echoed hash %q, sent %q", event.ErrTransport, ans.Hash, meta.Hash)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	if !ans.Accepted {
		cfg.Events.Emit(event.PeerEvent{Kind: event.TransferRejected, Name: meta.Name, Hash: meta.Hash})
		return nil
	}

	// OPEN_STREAM / STREAM_BODY
	r, err := p.OpenReadStream()
	if err != nil {
		wrapped := fmt.Errorf("%w: open payload: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	defer r.Close()

	bw := bufio.NewWriterSize(s, DefaultFlushThreshold)
	written, err := streamFromPayload(r, bw, size, cfg.ChunkSize, func(done uint64) {
		cfg.Events.EmitProgress(event.PeerEvent{
			Kind: event.TransferProgress, Done: done, Total: size, Direction: event.Outgoing,
		})
	}, progressThresholdFor(cfg, size))
	if err == nil {
		err = bw.Flush()
	}
	if err != nil || written != size {
		if err == nil {
			err = fmt.Errorf("short write: sent %d of %d bytes", written, size)
		}
		wrapped := fmt.Errorf("%w: stream body: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	// CLOSE — half-close signals end-of-payload to the receiver.
	if err := s.CloseWrite(); err != nil {
		wrapped := fmt.Errorf("%w: close write side: %v", event.ErrTransport, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	cfg.Events.Emit(event.PeerEvent{Kind: event.TransferCompleted, Name: meta.Name, Hash: meta.Hash})
	return nil
}

func progressThresholdFor(cfg OutboundConfig, total uint64) uint64 {
	if cfg.ProgressThreshold != nil {
		return cfg.ProgressThreshold(total)
	}
	return DefaultProgressThreshold(total)
}

func streamFromPayload(src io.Reader, dst io.Writer, size uint64, chunkSize int, onProgress func(done uint64), threshold uint64) (uint64, error) {
	buf := make([]byte, chunkSize)
	t := newThrottler(size, threshold)
	var done uint64

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += uint64(n)
			if t.shouldReport(done) {
				onProgress(done)
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return done, err
		}
	}
	return done, nil
}
