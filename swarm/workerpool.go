package swarm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/esavier/dragit/event"
	"github.com/esavier/dragit/log"
	"github.com/esavier/dragit/payload"
)

var poolLogger = log.Named("swarm/workerpool")

// DefaultWorkers bounds how many hashing/zipping jobs run concurrently
// (spec §4.7: "single-threaded cooperative" driver, "blocking filesystem
// work ... offloaded to a small worker pool").
const DefaultWorkers = 4

// WorkerPool runs blocking filesystem work (payload hashing, directory
// archiving) off the cooperative driver's goroutine, bounding concurrency
// with a counting semaphore the same way golang.org/x/sync is already used
// elsewhere in the teacher lineage.
type WorkerPool struct {
	sem *semaphore.Weighted
}

// NewWorkerPool builds a pool that allows up to n concurrent jobs.
func NewWorkerPool(n int64) *WorkerPool {
	if n <= 0 {
		n = DefaultWorkers
	}
	return &WorkerPool{sem: semaphore.NewWeighted(n)}
}

// ArchiveResult is the oneshot completion value for an archive job: either
// a ready-to-send Payload, or an error.
type ArchiveResult struct {
	JobID   string
	Payload payload.Payload
	Err     error
}

// ArchiveDirectory zips sourceDir in the background and delivers exactly
// one ArchiveResult on the returned channel. The job is tagged with a
// uuid for log correlation, never used as a transfer correlator (that
// stays hash/peer.ID-based per the data model).
func (p *WorkerPool) ArchiveDirectory(ctx context.Context, sourceDir string) <-chan ArchiveResult {
	out := make(chan ArchiveResult, 1)
	jobID := uuid.NewString()

	go func() {
		defer close(out)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- ArchiveResult{JobID: jobID, Err: fmt.Errorf("%w: acquire worker: %v", event.ErrIO, err)}
			return
		}
		defer p.sem.Release(1)

		poolLogger.Debugw("archiving directory", "job", jobID, "dir", sourceDir)
		pl, err := payload.NewArchive(sourceDir)
		if err != nil {
			out <- ArchiveResult{JobID: jobID, Err: fmt.Errorf("%w: archive %s: %v", event.ErrIO, sourceDir, err)}
			return
		}
		out <- ArchiveResult{JobID: jobID, Payload: pl}
	}()

	return out
}

// HashResult is the oneshot completion value for a hashing job.
type HashResult struct {
	JobID string
	Hash  string
	Size  uint64
	Err   error
}

// HashPayload computes p's size and hash in the background, bounded by the
// same worker semaphore as archiving.
func (p *WorkerPool) HashPayload(ctx context.Context, pl payload.Payload) <-chan HashResult {
	out := make(chan HashResult, 1)
	jobID := uuid.NewString()

	go func() {
		defer close(out)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- HashResult{JobID: jobID, Err: fmt.Errorf("%w: acquire worker: %v", event.ErrIO, err)}
			return
		}
		defer p.sem.Release(1)

		size, err := pl.TotalSize()
		if err != nil {
			out <- HashResult{JobID: jobID, Err: fmt.Errorf("%w: stat payload: %v", event.ErrIO, err)}
			return
		}
		hash, err := pl.Hash()
		if err != nil {
			out <- HashResult{JobID: jobID, Err: fmt.Errorf("%w: hash payload: %v", event.ErrIO, err)}
			return
		}
		out <- HashResult{JobID: jobID, Hash: hash, Size: size}
	}()

	return out
}

// RunGroup runs fns concurrently, bounded by the pool's semaphore, and
// returns the first error encountered (or nil), in the same errgroup style
// the teacher lineage already uses for bounded fan-out.
func (p *WorkerPool) RunGroup(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)
			return fn(gctx)
		})
	}
	return g.Wait()
}
