// Package worker offloads CPU-bound work — signing, signature verification,
// and recursive-proof generation — off the event loop. It mirrors the
// goroutine-per-job, WaitGroup-joined shape of core/parallel.ExecuteParallel,
// but as a long-lived fixed-size pool fed by a job channel instead of a
// one-shot fan-out over a single batch: the event loop submits jobs as they
// arrive rather than all at once.
package worker

import (
	"errors"
	"sync"

	"github.com/tos-network/vclock/event"
)

// ErrClosed is returned by Submit after the Pool has been stopped.
var ErrClosed = errors.New("worker: pool closed")

// Sink is how a job's result re-enters an event loop: it is satisfied by
// event.Sender[M], letting a job closure post its outcome back to the
// Session that submitted it without the worker pool knowing anything about
// event types.
type Sink[M any] interface {
	Send(event M) error
}

// Job is one unit of work submitted to the pool. Ctx is the shared, immutable
// context every job runs against — in vclock, the Crypto instance — and is
// never mutated by job bodies. Its return value is posted to the submitting
// actor's Sink once the job completes.
type Job[Ctx any, M any] func(ctx Ctx) M

// job erases the type parameters of Job so heterogeneous jobs (signing,
// verifying, proving) can share one queue.
type job func()

// Pool is a fixed-size goroutine pool. Unlike ExecuteParallel's one-shot
// per-batch fan-out, a Pool lives for the process lifetime and is shared by
// every actor that needs to offload work.
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts a Pool with the given number of worker goroutines. size must
// be at least 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{jobs: make(chan job, 256)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				j()
			}
		}()
	}
	return p
}

// Submit runs fn asynchronously against ctx and posts its result to sink.
// Submit itself never blocks on fn's completion; it only blocks if the
// internal job queue is momentarily full. Submit returns ErrClosed once
// Close has been called.
func Submit[Ctx any, M any](p *Pool, ctx Ctx, sink Sink[M], fn Job[Ctx, M]) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	p.jobs <- func() {
		result := fn(ctx)
		_ = sink.Send(result)
	}
	return nil
}

// Run submits a raw closure that manages its own Sink posting. Use this
// instead of Submit when a job's result should be posted conditionally —
// e.g. the quorum clock-verify gateway, which drops a message outright on
// verification failure rather than forwarding a zero-value result.
func Run(p *Pool, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	p.jobs <- fn
	return nil
}

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

var _ Sink[int] = event.Sender[int]{}
