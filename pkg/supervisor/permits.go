// Package supervisor implements the Progress & Budget Supervisor (C7, spec
// §4.7): concurrency/disk/file-descriptor permits, the progress bar
// aggregator, and the single cancellation token threaded through every
// worker. There is no process-wide singleton (spec §9's design note): a
// Supervisor is constructed once per run and passed explicitly to every
// component that needs it.
package supervisor

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/nettoneko/hoolamike/pkg/herrors"
)

// Class identifies one of the concurrency permit classes from spec §4.7.
type Class string

const (
	ClassCPUHeavy Class = "cpu-heavy" // patch apply, texture transcode
	ClassIOHeavy  Class = "io-heavy"  // archive extract
	ClassLight    Class = "light"
)

// Limits configures the ceilings a Supervisor enforces (spec §4.7).
type Limits struct {
	// CPUHeavyConcurrency bounds cpu-heavy permits; defaults to GOMAXPROCS.
	CPUHeavyConcurrency int
	// IOHeavyConcurrency bounds io-heavy permits; defaults to 2x GOMAXPROCS,
	// since extraction is dominated by I/O wait rather than CPU use.
	IOHeavyConcurrency int
	// LightConcurrency bounds light-weight permits (inline writes, remaps).
	LightConcurrency int
	// OpenFiles bounds concurrently open file descriptors. Zero means
	// "derive from the platform ceiling", mirroring spec §4.7's
	// rlimit(NOFILE) − headroom guidance.
	OpenFiles int
	// DiskBudgetBytes bounds the working directory's transient footprint
	// (spec §4.2 preheat, §4.7 disk_budget).
	DiskBudgetBytes int64
}

// DefaultLimits derives sensible ceilings from the host, per spec §4.7.
func DefaultLimits() Limits {
	cpus := runtime.GOMAXPROCS(0)
	return Limits{
		CPUHeavyConcurrency: cpus,
		IOHeavyConcurrency:  cpus * 2,
		LightConcurrency:    cpus * 4,
		OpenFiles:           platformFileDescriptorCeiling(),
		DiskBudgetBytes:     20 * 1024 * 1024 * 1024, // 20 GiB
	}
}

// permitSet groups the three concurrency-class semaphores.
type permitSet struct {
	cpuHeavy *semaphore.Weighted
	ioHeavy  *semaphore.Weighted
	light    *semaphore.Weighted
}

func newPermitSet(limits Limits) *permitSet {
	return &permitSet{
		cpuHeavy: semaphore.NewWeighted(int64(max1(limits.CPUHeavyConcurrency))),
		ioHeavy:  semaphore.NewWeighted(int64(max1(limits.IOHeavyConcurrency))),
		light:    semaphore.NewWeighted(int64(max1(limits.LightConcurrency))),
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (p *permitSet) forClass(class Class) *semaphore.Weighted {
	switch class {
	case ClassCPUHeavy:
		return p.cpuHeavy
	case ClassIOHeavy:
		return p.ioHeavy
	default:
		return p.light
	}
}

// ConcurrencyPermit acquires a permit of the given class, blocking until one
// is available or ctx is cancelled (spec §4.7, §5's "permit acquisition" as
// a cancellable suspension point).
func (s *Supervisor) ConcurrencyPermit(ctx context.Context, class Class) (release func(), err error) {
	sem := s.permits.forClass(class)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, herrors.Cancelled()
	}
	released := false
	return func() {
		if !released {
			released = true
			sem.Release(1)
		}
	}, nil
}

// OpenFilePermit acquires one slot against the global open-file-descriptor
// ceiling (spec §4.7).
func (s *Supervisor) OpenFilePermit(ctx context.Context) (release func(), err error) {
	return s.Acquire(ctx)
}

// Acquire implements archive.FilePermits for direct injection into the
// Archive Access Layer.
func (s *Supervisor) Acquire(ctx context.Context) (func(), error) {
	if err := s.files.Acquire(ctx, 1); err != nil {
		return nil, herrors.Cancelled()
	}
	released := false
	return func() {
		if !released {
			released = true
			s.files.Release(1)
		}
	}, nil
}
