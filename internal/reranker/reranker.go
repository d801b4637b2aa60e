// Package reranker implements spec.md §4.5: a bounded pool of cross-encoder
// instances leased per query for score refinement. Grounded on the teacher's
// internal/rag/retrieve/rerank.go Reranker/NoopReranker interface shape for
// the scoring call itself; the pool/lease/semaphore mechanics are new (the
// teacher has no pooled-lease reranker) and follow the acquire/defer-release
// idiom of internal/store/postgres/pool.go's connection pool.
package reranker

import (
	"context"
	"errors"
)

// Candidate is the minimal shape the cross-encoder needs: an id to return
// scores keyed by, and the text to score against the query.
type Candidate struct {
	ID   string
	Text string
}

// CrossEncoder scores a query against a batch of candidate texts, returning
// one scalar per candidate in the same order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error)
}

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("reranker: pool closed")

// Pool is a fixed-size set of CrossEncoder instances. Callers Acquire a
// Lease, use it, and Release it on every exit path including cancellation
// and error. A Pool of size zero disables reranking entirely: Acquire
// returns (nil, nil) so callers treat it as "no reranker available"
// and the Assemble stage keeps the pre-rerank ordering (spec.md §4.5).
type Pool struct {
	instances []CrossEncoder
	free      chan int
	closed    chan struct{}
}

// New constructs a Pool from a fixed slice of model instances. Passing an
// empty slice yields a size-zero pool (reranking disabled).
func New(instances []CrossEncoder) *Pool {
	p := &Pool{instances: instances, closed: make(chan struct{})}
	if len(instances) == 0 {
		return p
	}
	p.free = make(chan int, len(instances))
	for i := range instances {
		p.free <- i
	}
	return p
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int { return len(p.instances) }

// Lease is an exclusive, scoped borrow of one CrossEncoder instance.
// Release must be called exactly once, typically via defer, on every exit
// path -- including when the caller's own work returns an error -- so a
// leased instance is never stranded (spec.md §4.5, §9 "Pooling and leases").
type Lease struct {
	pool   *Pool
	index  int
	Model  CrossEncoder
	freed  bool
}

// Release returns the lease's instance to the pool. Safe to call more than
// once; only the first call has effect.
func (l *Lease) Release() {
	if l == nil || l.freed {
		return
	}
	l.freed = true
	select {
	case l.pool.free <- l.index:
	case <-l.pool.closed:
	}
}

// Acquire blocks until an instance is free or ctx is cancelled. When the
// pool's size is zero, Acquire returns (nil, nil) immediately: there is
// nothing to lease and nothing to release, signalling "reranking disabled"
// to the caller via a nil Lease.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.Size() == 0 {
		return nil, nil
	}
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case idx := <-p.free:
		return &Lease{pool: p, index: idx, Model: p.instances[idx]}, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close makes all blocked and future Acquire calls return ErrPoolClosed.
// Outstanding leases may still Release safely.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

// NoopCrossEncoder scores every candidate 0 without calling a model; useful for
// tests and for a Pool of size >=1 that should not actually rerank.
type NoopCrossEncoder struct{}

func (NoopCrossEncoder) Score(_ context.Context, _ string, candidates []Candidate) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i := range out {
		out[i] = 0
	}
	return out, nil
}
