// Package debounce provides a trailing-edge, single-slot job scheduler.
//
// Every Submit replaces the pending job and restarts the delay. When the
// delay elapses without another Submit the latest job runs exactly once.
// Runs never overlap: a job submitted while another is running waits for
// the running one to finish and is then picked up after a fresh delay.
package debounce

import (
	"context"
	"sync"
	"time"
)

// DefaultDelay is the quiet period used when none is configured
const DefaultDelay = 100 * time.Millisecond

// Func executes one job. ctx is cancelled when the scheduler is closed.
type Func[T any] func(ctx context.Context, job T)

// Scheduler coalesces rapid submissions into a single run of fn
type Scheduler[T any] struct {
	delay time.Duration
	fn    Func[T]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending *T
	timer   *time.Timer
	gen     uint64 // bumped on every arm/disarm; stale timer callbacks compare against it
	running bool
	closed  bool
	idle    *sync.Cond
	runs    uint64
}

// New creates a scheduler that runs fn after delay of quiet time
func New[T any](delay time.Duration, fn Func[T]) *Scheduler[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler[T]{
		delay:  delay,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Delay returns the quiet period
func (s *Scheduler[T]) Delay() time.Duration {
	return s.delay
}

// Submit records job as the pending job, dropping any unexecuted one, and
// restarts the delay timer. It reports false once the scheduler is closed.
func (s *Scheduler[T]) Submit(job T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.pending = &job
	s.armLocked()
	return true
}

// Cancel drops the pending job and disarms the timer. A run already in
// progress is not interrupted.
func (s *Scheduler[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	s.disarmLocked()
}

// Pending reports whether a job is waiting to run
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Runs returns the number of completed executions
func (s *Scheduler[T]) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Wait blocks until no job is pending or running, or ctx is done
func (s *Scheduler[T]) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.idle.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running || s.pending != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.idle.Wait()
	}
	return nil
}

// Close cancels the pending job, stops the timer and cancels the context
// handed to a running job. Close does not wait for that job to return.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.disarmLocked()
	s.idle.Broadcast()
	s.mu.Unlock()

	s.cancel()
}

func (s *Scheduler[T]) armLocked() {
	s.disarmLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Scheduler[T]) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler[T]) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.running {
		// the running job re-arms on completion
		s.mu.Unlock()
		return
	}
	if s.pending == nil {
		s.idle.Broadcast()
		s.mu.Unlock()
		return
	}
	job := *s.pending
	s.pending = nil
	s.running = true
	s.mu.Unlock()

	s.fn(s.ctx, job)

	s.mu.Lock()
	s.running = false
	s.runs++
	if s.pending != nil && s.timer == nil && !s.closed {
		s.armLocked()
	}
	s.idle.Broadcast()
	s.mu.Unlock()
}
