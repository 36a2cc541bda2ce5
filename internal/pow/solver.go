package pow

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Solver produces work for a block hash.
type Solver interface {
	Solve(ctx context.Context, hash types.Hash) (types.Work, error)
	Name() string
}

// LocalSolver searches for work on this machine.
type LocalSolver struct {
	// Threads is the number of parallel searchers. 0 uses all CPUs.
	Threads int
	// Threshold is the minimum acceptable work value.
	Threshold uint64
	// Start is the first nonce tried. Tests use it for determinism.
	Start uint64
}

// NewLocalSolver creates a solver with the given thread count and threshold.
func NewLocalSolver(threads int, threshold uint64) *LocalSolver {
	return &LocalSolver{Threads: threads, Threshold: threshold}
}

// Name implements Solver.
func (s *LocalSolver) Name() string { return "local" }

func (s *LocalSolver) threads() int {
	if s.Threads > 0 {
		return s.Threads
	}
	return runtime.NumCPU()
}

// Solve runs one search per thread, each over a strided partition of the
// nonce space (searcher i starts at Start+i, step=threads). The first valid
// nonce cancels the others. Cancelling ctx aborts the search.
func (s *LocalSolver) Solve(ctx context.Context, hash types.Hash) (types.Work, error) {
	defer log.Benchmark("pow.local")()

	threads := s.threads()
	stride := uint64(threads)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	found := make(chan uint64, 1)
	for i := 0; i < threads; i++ {
		start := s.Start + uint64(i)
		g.Go(func() error {
			var buf [8 + types.HashSize]byte
			copy(buf[8:], hash[:])

			for nonce, n := start, uint64(0); ; nonce, n = nonce+stride, n+1 {
				// Check cancellation every 65536 iterations per searcher.
				if n&0xFFFF == 0 && n > 0 {
					select {
					case <-gctx.Done():
						return nil
					default:
					}
				}

				// Zero work marks a block as unsolved.
				binary.LittleEndian.PutUint64(buf[:8], nonce)
				if nonce != 0 && value(buf[:]) >= s.Threshold {
					select {
					case found <- nonce:
					default:
					}
					cancel()
					return nil
				}

				if nonce > ^uint64(0)-stride {
					return ErrNonceExhausted
				}
			}
		})
	}

	err := g.Wait()
	select {
	case nonce := <-found:
		return types.Work(nonce), nil
	default:
	}
	if err != nil {
		return 0, err
	}
	return 0, ctx.Err()
}

// WorkGenerator asks a remote node for work.
type WorkGenerator interface {
	WorkGenerate(ctx context.Context, hash types.Hash) (types.Work, error)
}

// RemoteSolver delegates work generation to the ledger node. The returned
// work is checked against Threshold when it is non-zero.
type RemoteSolver struct {
	Node      WorkGenerator
	Threshold uint64
}

// NewRemoteSolver creates a solver backed by node.
func NewRemoteSolver(node WorkGenerator, threshold uint64) *RemoteSolver {
	return &RemoteSolver{Node: node, Threshold: threshold}
}

// Name implements Solver.
func (s *RemoteSolver) Name() string { return "remote" }

// Solve implements Solver.
func (s *RemoteSolver) Solve(ctx context.Context, hash types.Hash) (types.Work, error) {
	work, err := s.Node.WorkGenerate(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("work_generate %s: %w", hash, err)
	}
	if s.Threshold != 0 {
		if err := Validate(hash, work, s.Threshold); err != nil {
			return 0, err
		}
	}
	return work, nil
}
