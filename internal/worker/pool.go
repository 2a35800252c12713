// Package worker is the bounded-concurrency task pool the REST and MCP
// ingress packages submit Add/Search calls through, keeping the
// non-blocking invariant off the request goroutine (§5).
package worker

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// ErrPoolClosed is returned when Submit is called after Stop.
var ErrPoolClosed = errors.New("worker: pool closed")

type job struct {
	run  func(ctx context.Context)
	lane string
}

// Pool is a fixed goroutine-count, buffered-channel task pool, following
// the same ticker-based Start(ctx) background-service idiom used by
// internal/service, generalized from "run on a timer" to "run on submit".
// It carries two independent lanes so a flood of add submissions can
// never starve search, which is what the non-blocking testable property
// actually measures.
type Pool struct {
	addLane    chan job
	searchLane chan job
	done       chan struct{}
}

// New starts addWorkers goroutines draining the add lane and
// searchWorkers goroutines draining the dedicated search lane. Both lanes
// are buffered to queueSize; Submit blocks (subject to the caller's
// context) once a lane is full. Workers stop when ctx is cancelled.
func New(ctx context.Context, addWorkers, searchWorkers, queueSize int) *Pool {
	if addWorkers <= 0 {
		addWorkers = 4
	}
	if searchWorkers <= 0 {
		searchWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		addLane:    make(chan job, queueSize),
		searchLane: make(chan job, queueSize),
		done:       make(chan struct{}),
	}
	for i := 0; i < addWorkers; i++ {
		go p.drain(ctx, p.addLane)
	}
	for i := 0; i < searchWorkers; i++ {
		go p.drain(ctx, p.searchLane)
	}
	go func() {
		<-ctx.Done()
		close(p.done)
	}()
	return p
}

func (p *Pool) drain(ctx context.Context, lane chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-lane:
			j.run(ctx)
		}
	}
}

// SubmitAdd enqueues fn on the add lane and blocks until it runs and
// returns, the pool is closed, or ctx is cancelled — REST/MCP handlers
// pass a context already carrying the 120s ingestion deadline from §6.
func SubmitAdd[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	return submit(ctx, p, p.addLane, fn)
}

// SubmitSearch is SubmitAdd's counterpart on the dedicated search lane.
func SubmitSearch[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	return submit(ctx, p, p.searchLane, fn)
}

func submit[T any](ctx context.Context, p *Pool, lane chan job, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	type outcome struct {
		value T
		err   error
	}
	out := make(chan outcome, 1)
	j := job{run: func(ctx context.Context) {
		v, err := fn(ctx)
		out <- outcome{value: v, err: err}
	}}

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	select {
	case lane <- j:
	case <-p.done:
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case o := <-out:
		return o.value, o.err
	case <-p.done:
		log.Warn("worker: pool stopped while a task was in flight")
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
