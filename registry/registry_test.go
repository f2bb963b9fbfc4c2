package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireCoalesces(t *testing.T) {
	r := New[int]()
	gate := make(chan struct{})
	var calls int32

	const n = 8
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = r.Acquire(context.Background(), "k", func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				<-gate
				return 42, nil
			})
		}(i)
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 {
		select {
		case <-deadline:
			t.Fatalf("factory never entered")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 factory call, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != 42 {
			t.Fatalf("caller %d: v=%d err=%v", i, results[i], errs[i])
		}
	}
}

func TestAcquireDoesNotCacheResults(t *testing.T) {
	r := New[string]()
	var calls int32
	fn := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	if _, _, err := r.Acquire(context.Background(), "k", fn); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, _, err := r.Acquire(context.Background(), "k", fn); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("settled entries must be dropped; got %d calls", got)
	}
}

func TestAcquireErrorNotCached(t *testing.T) {
	r := New[string]()
	boom := errors.New("boom")
	var calls int32

	_, _, err := r.Acquire(context.Background(), "k", func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	v, _, err := r.Acquire(context.Background(), "k", func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("retry after failure: v=%q err=%v", v, err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestCancelAbortsInFlight(t *testing.T) {
	r := New[string]()
	entered := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := r.Acquire(context.Background(), "k", func(ctx context.Context) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})
		done <- err
	}()

	<-entered
	if !r.InFlight("k") {
		t.Fatalf("expected in-flight call for k")
	}
	r.Cancel("k")

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled call never settled")
	}
	if r.InFlight("k") {
		t.Fatalf("cancelled key should not stay in flight")
	}

	// forgotten key: a fresh Acquire runs a new factory
	v, _, err := r.Acquire(context.Background(), "k", func(context.Context) (string, error) {
		return "fresh", nil
	})
	if err != nil || v != "fresh" {
		t.Fatalf("fresh acquire after cancel: v=%q err=%v", v, err)
	}
}

func TestCallerContextDetached(t *testing.T) {
	r := New[string]()
	callerCtx, cancelCaller := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct {
		v   string
		err error
	}, 1)
	go func() {
		v, _, err := r.Acquire(callerCtx, "k", func(ctx context.Context) (string, error) {
			close(entered)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-release:
				return "v", nil
			}
		})
		done <- struct {
			v   string
			err error
		}{v, err}
	}()

	<-entered
	cancelCaller() // must not abort the shared call
	close(release)

	res := <-done
	if res.err != nil || res.v != "v" {
		t.Fatalf("caller cancellation leaked into shared call: v=%q err=%v", res.v, res.err)
	}
}
