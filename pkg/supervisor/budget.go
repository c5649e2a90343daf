package supervisor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// diskBudget implements the reservation protocol spec §4.7 describes for
// disk_budget(bytes): callers reserve a byte count before writing a spill
// file or BSA working file and release it once that content is dropped.
// Reservations are variable-sized, so this is a simple counting budget
// protected by a mutex, with a broadcast channel waiters poll on release,
// rather than a semaphore.Weighted (whose unit is a single token, awkward
// for "reserve N arbitrary bytes").
type diskBudget struct {
	mu       sync.Mutex
	total    int64
	reserved int64
	notify   chan struct{}
}

func newDiskBudget(total int64) *diskBudget {
	return &diskBudget{total: total, notify: make(chan struct{})}
}

func (d *diskBudget) reserve(ctx context.Context, bytes int64) (func(), error) {
	if bytes <= 0 {
		return func() {}, nil
	}
	if bytes > d.total {
		return nil, errors.Errorf("reservation of %d bytes exceeds total disk budget of %d bytes", bytes, d.total)
	}

	for {
		d.mu.Lock()
		if d.reserved+bytes <= d.total {
			d.reserved += bytes
			d.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					d.mu.Lock()
					d.reserved -= bytes
					notify := d.notify
					d.notify = make(chan struct{})
					d.mu.Unlock()
					close(notify)
				})
			}, nil
		}
		wait := d.notify
		d.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *diskBudget) remaining() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total - d.reserved
}
