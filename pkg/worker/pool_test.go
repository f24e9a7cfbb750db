package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func noop(_ context.Context, _ testWork) error { return nil }

func TestNewPool(t *testing.T) {
	pool := NewPool(5, 100, noop)
	if pool.workers != 5 {
		t.Errorf("Expected 5 workers, got %d", pool.workers)
	}
	if pool.queueSize != 100 {
		t.Errorf("Expected queue size 100, got %d", pool.queueSize)
	}

	pool = NewPool(0, 0, noop)
	if pool.workers != 1 {
		t.Errorf("Expected default 1 worker, got %d", pool.workers)
	}
	if pool.queueSize != 256 {
		t.Errorf("Expected default queue size 256, got %d", pool.queueSize)
	}
}

func TestPool_StartStop(t *testing.T) {
	var processedCount int64
	pool := NewPool(2, 10, func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processedCount, 1)
		return nil
	})

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}

	// Stop drains the queue before returning.
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	if processed := atomic.LoadInt64(&processedCount); processed != 5 {
		t.Errorf("Expected 5 processed items, got %d", processed)
	}

	// Stopping twice is a no-op.
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Second Stop returned %v", err)
	}
}

func TestPool_SingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	pool := NewPool(1, 100, func(_ context.Context, w testWork) error {
		mu.Lock()
		seen = append(seen, w.id)
		mu.Unlock()
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 50; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("Expected 50 items, got %d", len(seen))
	}
	for i, id := range seen {
		if id != i {
			t.Fatalf("Out of order at %d: got %d", i, id)
		}
	}
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 2, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)
	defer close(release)

	var queueFullErr error
	for i := 0; i < 10; i++ {
		if err := pool.Submit(testWork{id: i}); err != nil {
			queueFullErr = err
			break
		}
	}

	if !errors.Is(queueFullErr, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", queueFullErr)
	}
	if pool.Stats().Dropped == 0 {
		t.Error("Stats should show dropped work items")
	}
}

func TestPool_ProcessingErrors(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("simulated error")
		}
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := pool.Submit(testWork{id: i, fail: i%2 == 0}); err != nil {
			t.Errorf("Failed to submit work %d: %v", i, err)
		}
	}
	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	stats := pool.Stats()
	if stats.Processed != 10 {
		t.Errorf("Expected 10 processed items in stats, got %d", stats.Processed)
	}
	if stats.Failed != 5 {
		t.Errorf("Expected 5 failed items in stats, got %d", stats.Failed)
	}
	if stats.Submitted != 10 {
		t.Errorf("Expected 10 submitted in stats, got %d", stats.Submitted)
	}
}

func TestPool_SentinelErrors(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		pool := NewPool(1, 10, noop)
		if err := pool.Submit(testWork{id: 1}); err != ErrPoolNotStarted {
			t.Errorf("Expected ErrPoolNotStarted, got %v", err)
		}
	})

	t.Run("already started", func(t *testing.T) {
		pool := NewPool(1, 10, noop)
		if err := pool.Start(context.Background()); err != nil {
			t.Fatalf("Failed to start pool: %v", err)
		}
		defer pool.Stop(time.Second)
		if err := pool.Start(context.Background()); !errors.Is(err, ErrPoolAlreadyStarted) {
			t.Errorf("Expected ErrPoolAlreadyStarted, got %v", err)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		pool := NewPool(1, 10, noop)
		if err := pool.Start(context.Background()); err != nil {
			t.Fatalf("Failed to start pool: %v", err)
		}
		if err := pool.Stop(time.Second); err != nil {
			t.Fatalf("Failed to stop pool: %v", err)
		}
		if err := pool.Submit(testWork{id: 1}); !errors.Is(err, ErrPoolStopped) {
			t.Errorf("Expected ErrPoolStopped, got %v", err)
		}
	})

	t.Run("stop timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool := NewPool(1, 10, func(ctx context.Context, _ testWork) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if err := pool.Start(ctx); err != nil {
			t.Fatalf("Failed to start pool: %v", err)
		}
		_ = pool.Submit(testWork{id: 1})
		time.Sleep(10 * time.Millisecond)

		if err := pool.Stop(50 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
			t.Errorf("Expected ErrStopTimeout, got %v", err)
		}
	})

	t.Run("nil processor", func(t *testing.T) {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("Expected panic for nil processor")
			}
			if !errors.Is(r.(error), ErrNilProcessor) {
				t.Errorf("Expected panic with ErrNilProcessor, got %v", r)
			}
		}()
		NewPool[testWork](1, 10, nil)
	})
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processedCount int64
	pool := NewPool(1, 200, func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processedCount, 1)
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(submitter int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := pool.Submit(testWork{id: submitter*10 + j}); err != nil {
					t.Errorf("Submitter %d failed to submit work %d: %v", submitter, j, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
	if processed := atomic.LoadInt64(&processedCount); processed != 100 {
		t.Errorf("Expected 100 processed items, got %d", processed)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 10, noop, WithMetricsRegistry[testWork](registry, "test_dispatch"))
	if pool.metrics == nil {
		t.Fatal("Expected metrics to be initialized")
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	_ = pool.Submit(testWork{id: 1})
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	families, err := registry.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "test_dispatch_items_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected test_dispatch_items_total to be registered")
	}

	// A second pool with the same prefix runs without metrics.
	dup := NewPool(1, 10, noop, WithMetricsRegistry[testWork](registry, "test_dispatch"))
	if dup.metrics != nil {
		t.Error("Expected duplicate prefix to leave metrics disabled")
	}
}

func TestPool_ErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var failedIDs []int

	pool := NewPool(1, 10, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("rejected")
		}
		return nil
	}, WithErrorHandler(func(w testWork, err error) {
		mu.Lock()
		failedIDs = append(failedIDs, w.id)
		mu.Unlock()
	}))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = pool.Submit(testWork{id: i, fail: i >= 2})
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failedIDs) != 2 || failedIDs[0] != 2 || failedIDs[1] != 3 {
		t.Errorf("Expected failures for items 2 and 3, got %v", failedIDs)
	}
}
