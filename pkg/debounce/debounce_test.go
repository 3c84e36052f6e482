package debounce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testDelay = 40 * time.Millisecond

type recorder struct {
	mu   sync.Mutex
	jobs []int
}

func (r *recorder) run(_ context.Context, job int) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.jobs...)
}

func waitIdle(t *testing.T, s *Scheduler[int]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("scheduler did not go idle: %v", err)
	}
}

func TestNewDefaultDelay(t *testing.T) {
	s := New[int](0, func(context.Context, int) {})
	defer s.Close()
	if s.Delay() != DefaultDelay {
		t.Errorf("Expected default delay %v, got %v", DefaultDelay, s.Delay())
	}
}

func TestCoalescesRapidSubmissions(t *testing.T) {
	rec := &recorder{}
	s := New(testDelay, rec.run)
	defer s.Close()

	for i := 1; i <= 10; i++ {
		s.Submit(i)
	}
	waitIdle(t, s)
	time.Sleep(2 * testDelay)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("Expected a single run with the last payload, got %v", got)
	}
}

func TestSpacedSubmissionsAllRun(t *testing.T) {
	rec := &recorder{}
	s := New(testDelay, rec.run)
	defer s.Close()

	for i := 1; i <= 3; i++ {
		s.Submit(i)
		waitIdle(t, s)
		time.Sleep(testDelay / 2)
	}

	got := rec.snapshot()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("Expected runs [1 2 3], got %v", got)
	}
}

func TestSubmitRestartsDelay(t *testing.T) {
	const delay = 100 * time.Millisecond
	rec := &recorder{}
	s := New(delay, rec.run)
	defer s.Close()

	s.Submit(1)
	time.Sleep(60 * time.Millisecond)
	s.Submit(2)
	time.Sleep(70 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("Job ran before the restarted delay elapsed: %v", got)
	}
	waitIdle(t, s)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("Expected only job 2 to run, got %v", got)
	}
}

func TestCancelPreventsRun(t *testing.T) {
	rec := &recorder{}
	s := New(testDelay, rec.run)
	defer s.Close()

	s.Submit(1)
	s.Cancel()
	if s.Pending() {
		t.Error("Expected no pending job after Cancel")
	}
	time.Sleep(3 * testDelay)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("Expected zero runs after Cancel, got %v", got)
	}
}

func TestSubmitDuringRunDoesNotOverlap(t *testing.T) {
	var active, overlaps int32
	started := make(chan int, 4)
	release := make(chan struct{})
	var mu sync.Mutex
	var ran []int

	s := New(testDelay, func(_ context.Context, job int) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		started <- job
		if job == 1 {
			<-release
		}
		mu.Lock()
		ran = append(ran, job)
		mu.Unlock()
		atomic.AddInt32(&active, -1)
	})
	defer s.Close()

	s.Submit(1)
	if job := <-started; job != 1 {
		t.Fatalf("Expected job 1 to start, got %d", job)
	}

	// superseded while job 1 is still running
	s.Submit(2)
	s.Submit(3)
	time.Sleep(2 * testDelay)
	close(release)

	select {
	case job := <-started:
		if job != 3 {
			t.Errorf("Expected job 3 to run next, got %d", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending job was never picked up")
	}
	waitIdle(t, s)

	if atomic.LoadInt32(&overlaps) != 0 {
		t.Error("runs overlapped")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 || ran[0] != 1 || ran[1] != 3 {
		t.Errorf("Expected runs [1 3], got %v", ran)
	}
	if s.Runs() != 2 {
		t.Errorf("Expected 2 runs, got %d", s.Runs())
	}
}

func TestCloseRejectsSubmit(t *testing.T) {
	rec := &recorder{}
	s := New(testDelay, rec.run)

	s.Submit(1)
	s.Close()
	if s.Submit(2) {
		t.Error("Submit after Close should report false")
	}
	time.Sleep(3 * testDelay)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("Expected no runs after Close, got %v", got)
	}
}

func TestCloseCancelsRunningContext(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	s := New(testDelay, func(ctx context.Context, _ int) {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
	})

	s.Submit(1)
	<-started
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected a context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("running job context was not cancelled")
	}
}
