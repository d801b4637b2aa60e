package reranker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_SizeZero_DisablesReranking(t *testing.T) {
	p := New(nil)
	if p.Size() != 0 {
		t.Fatalf("expected size 0")
	}
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease != nil {
		t.Fatalf("expected nil lease for size-zero pool")
	}
}

func TestPool_AcquireRelease_RoundTrips(t *testing.T) {
	p := New([]CrossEncoder{NoopCrossEncoder{}})
	lease, err := p.Acquire(context.Background())
	if err != nil || lease == nil {
		t.Fatalf("expected a lease, got %v, %v", lease, err)
	}
	lease.Release()
	lease.Release() // idempotent

	lease2, err := p.Acquire(context.Background())
	if err != nil || lease2 == nil {
		t.Fatalf("expected to re-acquire after release: %v, %v", lease2, err)
	}
	lease2.Release()
}

func TestPool_BlocksBeyondCapacity(t *testing.T) {
	p := New([]CrossEncoder{NoopCrossEncoder{}})
	l1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var acquired int32
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		l2, err := p.Acquire(ctx)
		if err == nil && l2 != nil {
			atomic.StoreInt32(&acquired, 1)
			l2.Release()
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&acquired) != 0 {
		t.Fatalf("second acquire should not have succeeded while pool exhausted")
	}
	l1.Release()
	<-done
	if atomic.LoadInt32(&acquired) != 1 {
		t.Fatalf("expected second acquire to succeed after release")
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	p := New([]CrossEncoder{NoopCrossEncoder{}})
	lease, _ := p.Acquire(context.Background())
	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestPool_Close_UnblocksWaiters(t *testing.T) {
	p := New([]CrossEncoder{NoopCrossEncoder{}})
	lease, _ := p.Acquire(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	go func() {
		defer wg.Done()
		_, err := p.Acquire(context.Background())
		gotErr = err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Close()
	wg.Wait()
	if gotErr != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", gotErr)
	}
	lease.Release()
}
