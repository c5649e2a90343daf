package supervisor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nettoneko/hoolamike/pkg/logging"
)

// Supervisor is the C7 component: it owns the concurrency/disk/FD permits,
// the progress bar aggregator, and the run's single cancellation token. It
// is constructed once per install() call and threaded explicitly through
// the Executor, Archive Access Layer, and Patch Base Provider
// (spec §9: "express as an explicit Context object ... no process-wide
// singletons").
type Supervisor struct {
	permits *permitSet
	files   *semaphore.Weighted
	disk    *diskBudget
	bars    *progressAggregator
	logger  *logging.Logger

	cancel context.CancelFunc
	ctx    context.Context

	mu        sync.Mutex
	cancelled bool
}

// New constructs a Supervisor with the given limits. logger may be nil (a
// nil *logging.Logger silently discards output).
func New(parent context.Context, limits Limits, logger *logging.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	openFiles := limits.OpenFiles
	if openFiles <= 0 {
		openFiles = platformFileDescriptorCeiling()
	}
	return &Supervisor{
		permits: newPermitSet(limits),
		files:   semaphore.NewWeighted(int64(max1(openFiles))),
		disk:    newDiskBudget(limits.DiskBudgetBytes),
		bars:    newProgressAggregator(),
		logger:  logger.Sublogger("supervisor"),
		cancel:  cancel,
		ctx:     ctx,
	}
}

// Context returns the run's cancellable context; every suspension point
// (permit acquisition, I/O, patch-base waits) selects on its Done channel
// (spec §5).
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Cancel fires the single cancellation token that reaches every worker via
// the permit API (spec §5). It is idempotent.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelled {
		s.cancelled = true
		s.cancel()
		s.logger.Info("run cancelled")
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Supervisor) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Reserve implements archive.DiskBudget, which both the archive cache and
// the patch base provider reserve against: a reservation against the
// shared disk budget (spec §4.7).
func (s *Supervisor) Reserve(ctx context.Context, bytes int64) (func(), error) {
	return s.disk.reserve(ctx, bytes)
}

// DiskBudgetRemaining reports the number of bytes still reservable, for
// progress/diagnostic reporting.
func (s *Supervisor) DiskBudgetRemaining() int64 {
	return s.disk.remaining()
}

// Bars returns the progress bar aggregator (spec §4.7).
func (s *Supervisor) Bars() *progressAggregator {
	return s.bars
}

// Close finalizes the progress display. Call once after the run completes.
func (s *Supervisor) Close() {
	s.bars.wait()
}
