package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/payload"
	"github.com/esavier/dragit/wire"
)

// InboundConfig configures one run of the receive state machine.
type InboundConfig struct {
	// DownloadsDir is re-read on every inbound transfer per spec §6.
	DownloadsDir func() (string, error)
	// MaxPayloadSize overrides wire.DefaultMaxPayloadSize when non-zero.
	MaxPayloadSize uint64
	// ChunkSize is the fixed read-buffer size for STREAM_BODY; defaults
	// to DefaultChunkSize.
	ChunkSize int
	// ProgressThreshold overrides DefaultProgressThreshold when non-nil.
	ProgressThreshold func(total uint64) uint64

	Waiter CommandWaiter
	Events Emitter

	// HashPayload computes the received payload's content hash for
	// VERIFY. Defaults to payload.Hash() run inline; the swarm driver
	// overrides this to bound the work behind its worker pool (spec §5,
	// §7) instead of running SHA-1 unbounded on this goroutine.
	HashPayload func(payload.Payload) (string, error)

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

func defaultHashPayloadInbound(p payload.Payload) (string, error) {
	return p.Hash()
}

func (c InboundConfig) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// HandleInbound runs one receive transfer to completion on s: READ_META,
// EMIT_FILE_INCOMING, WAIT_COMMAND, SEND_ANSWER, and on acceptance
// STREAM_BODY + VERIFY. It always closes s before returning.
func HandleInbound(ctx context.Context, s Stream, cfg InboundConfig) error {
	defer s.Close()

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	// READ_META
	if err := s.SetReadDeadline(cfg.clock().Add(MetadataTimeout)); err != nil {
		return fmt.Errorf("transfer: set metadata deadline: %w", err)
	}
	br := bufio.NewReader(s)
	meta, err := wire.ReadMetadata(br, cfg.MaxPayloadSize)
	if err != nil {
		wrapped := fmt.Errorf("%w: read metadata: %v", event.ErrTimeout, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	_ = s.SetReadDeadline(time.Time{})

	kind := event.File
	if meta.Type == wire.TypeDirectory {
		kind = event.Directory
	}

	// EMIT_FILE_INCOMING
	cfg.Events.Emit(event.PeerEvent{
		Kind:         event.FileIncoming,
		Name:         meta.Name,
		Hash:         meta.Hash,
		Size:         meta.Size,
		TransferKind: kind,
	})

	// WAIT_COMMAND — no separate user deadline, but the idle keep-alive
	// ends the wait and tears the substream down at IdleTimeout (spec §4.4).
	if err := s.SetDeadline(cfg.clock().Add(IdleTimeout)); err != nil {
		return fmt.Errorf("transfer: set idle deadline: %w", err)
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, IdleTimeout)
	cmd, err := cfg.Waiter.Wait(waitCtx, meta.Hash)
	cancelWait()
	if err != nil {
		wrapped := fmt.Errorf("%w: waiting for answer: %v", event.ErrTimeout, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	_ = s.SetDeadline(time.Time{})

	accepted := cmd.Accepted && cmd.Hash == meta.Hash

	// SEND_ANSWER
	answer := wire.Answer{Accepted: accepted, Hash: meta.Hash}
	if _, err := answer.WriteTo(s); err != nil {
		wrapped := fmt.Errorf("%w: write answer: %v", event.ErrTransport, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	if !accepted {
		if cmd.Accepted && cmd.Hash != meta.Hash {
			wrapped := fmt.Errorf("%w: answer hash mismatch", event.ErrPermissionDenied)
			cfg.Events.Emit(event.NewError(wrapped))
			return wrapped
		}
		// Deny(h) -> SEND_ANSWER(false) -> FAIL(Rejected). The spec's
		// Rejected outcome has no dedicated PeerEvent Kind for the
		// receiver beyond the initial FileIncoming; nothing further is
		// emitted here.
		return nil
	}

	// STREAM_BODY
	dir, err := cfg.DownloadsDir()
	if err != nil {
		wrapped := fmt.Errorf("%w: resolve downloads dir: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}
	destPath := filepath.Join(dir, fmt.Sprintf("%d_%s", cfg.clock().Unix(), meta.Name))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		wrapped := fmt.Errorf("%w: create downloads dir: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	out, err := os.Create(destPath)
	if err != nil {
		wrapped := fmt.Errorf("%w: create %s: %v", event.ErrIO, destPath, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	written, streamErr := streamToFile(br, out, meta.Size, cfg.ChunkSize, func(done uint64) {
		cfg.Events.EmitProgress(event.PeerEvent{
			Kind: event.TransferProgress, Done: done, Total: meta.Size, Direction: event.Incoming,
		})
	}, thresholdFor(cfg, meta.Size))
	closeErr := out.Close()

	if streamErr != nil || closeErr != nil || written != meta.Size {
		os.Remove(destPath)
		err := streamErr
		if err == nil {
			err = closeErr
		}
		if err == nil {
			err = fmt.Errorf("short write: got %d of %d bytes", written, meta.Size)
		}
		wrapped := fmt.Errorf("%w: stream body: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	// VERIFY
	received := payload.NewFile(destPath)
	hashFn := cfg.HashPayload
	if hashFn == nil {
		hashFn = defaultHashPayloadInbound
	}
	actualHash, err := hashFn(received)
	if err != nil {
		os.Remove(destPath)
		wrapped := fmt.Errorf("%w: verify: %v", event.ErrIO, err)
		cfg.Events.Emit(event.NewError(wrapped))
		return wrapped
	}

	if actualHash != meta.Hash {
		os.Remove(destPath)
		cfg.Events.Emit(event.PeerEvent{Kind: event.FileIncorrect, Name: meta.Name, Hash: meta.Hash})
		return fmt.Errorf("%w: hash mismatch for %s", event.ErrCorrupted, meta.Name)
	}

	cfg.Events.Emit(event.PeerEvent{
		Kind: event.FileCorrect, Name: meta.Name, Hash: meta.Hash, Payload: received,
	})
	return nil
}

func thresholdFor(cfg InboundConfig, total uint64) uint64 {
	if cfg.ProgressThreshold != nil {
		return cfg.ProgressThreshold(total)
	}
	return DefaultProgressThreshold(total)
}

// streamToFile copies exactly size bytes from src to dst in ChunkSize
// reads, reporting cumulative progress through onProgress whenever the
// unreported delta crosses threshold (or the copy completes).
func streamToFile(src io.Reader, dst io.Writer, size uint64, chunkSize int, onProgress func(done uint64), threshold uint64) (uint64, error) {
	buf := make([]byte, chunkSize)
	t := newThrottler(size, threshold)
	var done uint64

	for done < size {
		toRead := uint64(len(buf))
		if remaining := size - done; remaining < toRead {
			toRead = remaining
		}
		n, err := io.ReadFull(src, buf[:toRead])
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
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return done, err
		}
	}
	return done, nil
}
