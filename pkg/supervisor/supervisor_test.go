package supervisor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nettoneko/hoolamike/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelDisabled, io.Discard)
}

func TestConcurrencyPermitBoundsClass(t *testing.T) {
	sup := New(context.Background(), Limits{CPUHeavyConcurrency: 1, IOHeavyConcurrency: 1, LightConcurrency: 1, OpenFiles: 4, DiskBudgetBytes: 1024}, testLogger())
	defer sup.Close()

	release, err := sup.ConcurrencyPermit(context.Background(), ClassCPUHeavy)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sup.ConcurrencyPermit(ctx, ClassCPUHeavy); err == nil {
		t.Fatalf("expected second cpu-heavy acquire to block until timeout")
	}

	release()
	release2, err := sup.ConcurrencyPermit(context.Background(), ClassCPUHeavy)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestReserveRejectsOverBudgetRequest(t *testing.T) {
	sup := New(context.Background(), Limits{CPUHeavyConcurrency: 1, IOHeavyConcurrency: 1, LightConcurrency: 1, OpenFiles: 4, DiskBudgetBytes: 100}, testLogger())
	defer sup.Close()

	if _, err := sup.Reserve(context.Background(), 200); err == nil {
		t.Fatalf("expected reservation exceeding total budget to fail")
	}
}

func TestReserveBlocksUntilReleaseFreesBudget(t *testing.T) {
	sup := New(context.Background(), Limits{CPUHeavyConcurrency: 1, IOHeavyConcurrency: 1, LightConcurrency: 1, OpenFiles: 4, DiskBudgetBytes: 100}, testLogger())
	defer sup.Close()

	release, err := sup.Reserve(context.Background(), 100)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if remaining := sup.DiskBudgetRemaining(); remaining != 0 {
		t.Fatalf("expected 0 bytes remaining, got %d", remaining)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	unblocked := false
	go func() {
		defer wg.Done()
		if _, err := sup.Reserve(context.Background(), 50); err != nil {
			t.Errorf("second reserve: %v", err)
			return
		}
		unblocked = true
	}()

	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	if !unblocked {
		t.Fatalf("expected second reservation to unblock after release")
	}
}

func TestCancelIsIdempotentAndObservable(t *testing.T) {
	sup := New(context.Background(), DefaultLimits(), testLogger())
	defer sup.Close()

	if sup.Cancelled() {
		t.Fatalf("expected fresh supervisor to report not cancelled")
	}

	sup.Cancel()
	sup.Cancel()

	if !sup.Cancelled() {
		t.Fatalf("expected Cancelled() true after Cancel()")
	}
	select {
	case <-sup.Context().Done():
	default:
		t.Fatalf("expected context to be done after Cancel()")
	}
}
