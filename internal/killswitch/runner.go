package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/wesleywu/killswitch/internal/logger"
)

// ErrRunnerClosed is returned by Submit after Close.
var ErrRunnerClosed = errors.New("kill switch runner closed")

const defaultQueueSize = 16

// Manager is implemented by Orchestrator.
type Manager interface {
	Manage(ctx context.Context, req Request) error
}

type job struct {
	ctx  context.Context
	req  Request
	done chan error
}

// Runner executes actions off the caller's goroutine, strictly one at a
// time and in submission order. The two profiles share the default route
// slot, so actions are never run in parallel.
type Runner struct {
	manager Manager
	logger  *logger.Logger
	pool    *ants.Pool
	queue   chan job

	mutex  sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner starts a runner backed by a single-worker pool.
func NewRunner(m Manager, log *logger.Logger) (*Runner, error) {
	log = log.WithComponent("runner")
	pool, err := ants.NewPool(1, ants.WithPanicHandler(func(p interface{}) {
		log.Error("kill switch action panicked", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	r := &Runner{
		manager: m,
		logger:  log,
		pool:    pool,
		queue:   make(chan job, defaultQueueSize),
	}
	r.wg.Add(1)
	go r.dispatch()
	return r, nil
}

// Submit queues req and returns a channel that receives its result. A
// request whose context is done before it starts is not run. Once started,
// an action runs to completion.
func (r *Runner) Submit(ctx context.Context, req Request) <-chan error {
	done := make(chan error, 1)

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		done <- ErrRunnerClosed
		return done
	}

	r.queue <- job{ctx: ctx, req: req, done: done}
	return done
}

// Run submits req and waits for its result.
func (r *Runner) Run(ctx context.Context, req Request) error {
	return <-r.Submit(ctx, req)
}

// Close stops accepting requests, waits for queued ones and releases the pool.
func (r *Runner) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mutex.Unlock()

	r.wg.Wait()
	r.pool.Release()
}

func (r *Runner) dispatch() {
	defer r.wg.Done()

	for j := range r.queue {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}

		finished := make(chan struct{})
		err := r.pool.Submit(func() {
			defer close(finished)
			defer func() {
				if p := recover(); p != nil {
					j.done <- fmt.Errorf("action %s panicked: %v", j.req.Action, p)
					panic(p)
				}
			}()
			j.done <- r.manager.Manage(j.ctx, j.req)
		})
		if err != nil {
			j.done <- fmt.Errorf("submit %s: %w", j.req.Action, err)
			continue
		}
		<-finished
	}
}

// ErrSkipped is returned for requests refused after an earlier failure.
var ErrSkipped = errors.New("skipped after an earlier action failed")

// StopOnFailure wraps m so that once a request fails or panics, every
// later request is refused with ErrSkipped. Behind a Runner this turns a
// batch of submissions into a fail-fast sequence.
func StopOnFailure(m Manager) Manager {
	return &haltingManager{manager: m}
}

type haltingManager struct {
	manager Manager

	mutex  sync.Mutex
	failed bool
}

func (h *haltingManager) Manage(ctx context.Context, req Request) (err error) {
	h.mutex.Lock()
	failed := h.failed
	h.mutex.Unlock()
	if failed {
		return fmt.Errorf("%s: %w", req.Action, ErrSkipped)
	}

	succeeded := false
	defer func() {
		if !succeeded {
			h.mutex.Lock()
			h.failed = true
			h.mutex.Unlock()
		}
	}()

	err = h.manager.Manage(ctx, req)
	succeeded = err == nil
	return err
}
