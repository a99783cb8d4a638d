package ledgercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingObserver struct {
	NoOpObserver
	mu     sync.Mutex
	starts []*CommandStartEvent
	ends   []*CommandEndEvent
}

func (o *recordingObserver) OnCommandStart(ctx context.Context, e *CommandStartEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, e)
}

func (o *recordingObserver) OnCommandEnd(ctx context.Context, e *CommandEndEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends = append(o.ends, e)
}

func TestDispatcher_ExactlyOnceCompletion(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(4))

	const n = 200
	var mu sync.Mutex
	calls := make(map[CommandHandle]int)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		_, err := d.Submit("echo", func(ctx context.Context) (any, error) {
			return i, nil
		}, func(h CommandHandle, result any, err error) {
			mu.Lock()
			calls[h]++
			mu.Unlock()
			wg.Done()
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	d.Stop()

	if len(calls) != n {
		t.Fatalf("Expected %d distinct handles, got %d", n, len(calls))
	}
	for h, c := range calls {
		if c != 1 {
			t.Errorf("Handle %d completed %d times", h, c)
		}
	}
}

func TestDispatcher_HandlesAreUnique(t *testing.T) {
	d := NewDispatcher()
	defer d.Stop()

	seen := make(map[CommandHandle]bool)
	for i := 0; i < 20; i++ {
		h, err := d.Submit("noop", func(ctx context.Context) (any, error) { return nil, nil },
			func(CommandHandle, any, error) {})
		if err != nil {
			t.Fatal(err)
		}
		if seen[h] {
			t.Fatalf("Handle %d issued twice", h)
		}
		seen[h] = true
	}
}

func TestDispatcher_SubmitDoesNotBlock(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(1))
	release := make(chan struct{})
	done := make(chan struct{}, 2)

	block := func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}
	signal := func(CommandHandle, any, error) { done <- struct{}{} }

	if _, err := d.Submit("block", block, signal); err != nil {
		t.Fatal(err)
	}
	submitted := make(chan struct{})
	go func() {
		d.Submit("block", block, signal)
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked behind a running command")
	}

	close(release)
	<-done
	<-done
	d.Stop()
}

func TestDispatcher_SerialWhenMaxInflightIsOne(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(1))

	var running, peak atomic.Int32
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		d.Submit("serial", func(ctx context.Context) (any, error) {
			cur := running.Add(1)
			if cur > peak.Load() {
				peak.Store(cur)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			return i, nil
		}, func(h CommandHandle, result any, err error) {
			mu.Lock()
			order = append(order, result.(int))
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	d.Stop()

	if peak.Load() != 1 {
		t.Errorf("Expected at most 1 concurrent command, saw %d", peak.Load())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("Expected FIFO completion order, got %v", order)
		}
	}
}

func TestDispatcher_RespectsMaxInflight(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(3))

	var running, peak atomic.Int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		d.Submit("bounded", func(ctx context.Context) (any, error) {
			cur := running.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}, func(CommandHandle, any, error) { wg.Done() })
	}
	wg.Wait()
	d.Stop()

	if peak.Load() > 3 {
		t.Errorf("Expected at most 3 concurrent commands, saw %d", peak.Load())
	}
}

func TestDispatcher_CompletionsRunOnOneGoroutine(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(8))

	var active, overlap atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		d.Submit("overlap", func(ctx context.Context) (any, error) { return nil, nil },
			func(CommandHandle, any, error) {
				if active.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(100 * time.Microsecond)
				active.Add(-1)
				wg.Done()
			})
	}
	wg.Wait()
	d.Stop()

	if overlap.Load() != 0 {
		t.Errorf("Expected completions never to overlap, saw %d overlaps", overlap.Load())
	}
}

func TestDispatcher_TaskPanicBecomesError(t *testing.T) {
	obs := &recordingObserver{}
	d := NewDispatcher(WithDispatcherObserver(obs))

	got := make(chan error, 1)
	h, err := d.Submit("explode", func(ctx context.Context) (any, error) {
		panic("kaboom")
	}, func(_ CommandHandle, result any, err error) {
		if result != nil {
			t.Errorf("Expected nil result after panic, got %v", result)
		}
		got <- err
	})
	if err != nil {
		t.Fatal(err)
	}

	perr := <-got
	var cpe *CommandPanicError
	if !errors.As(perr, &cpe) {
		t.Fatalf("Expected CommandPanicError, got %v", perr)
	}
	if cpe.Handle != h || cpe.Command != "explode" || cpe.PanicValue != "kaboom" {
		t.Errorf("Unexpected panic error: %+v", cpe)
	}
	if len(cpe.Stack) == 0 {
		t.Error("Expected stack trace")
	}
	d.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.ends) != 1 || !obs.ends[0].Panicked {
		t.Errorf("Expected one panicked end event, got %+v", obs.ends)
	}
}

func TestDispatcher_CompletionPanicDoesNotKillWorker(t *testing.T) {
	d := NewDispatcher()

	d.Submit("bad_callback", func(ctx context.Context) (any, error) { return nil, nil },
		func(CommandHandle, any, error) { panic("callback bug") })

	done := make(chan struct{})
	d.Submit("after", func(ctx context.Context) (any, error) { return nil, nil },
		func(CommandHandle, any, error) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker stopped after completion panic")
	}
	d.Stop()
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	d := NewDispatcher(WithMaxInflight(1))

	var completed atomic.Int32
	for i := 0; i < 25; i++ {
		d.Submit("drain", func(ctx context.Context) (any, error) {
			time.Sleep(100 * time.Microsecond)
			return nil, nil
		}, func(CommandHandle, any, error) { completed.Add(1) })
	}
	d.Stop()

	if completed.Load() != 25 {
		t.Errorf("Expected all 25 queued commands to complete before Stop returns, got %d", completed.Load())
	}
	if d.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", d.Len())
	}
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := NewDispatcher()
	d.Stop()
	d.Stop()

	_, err := d.Submit("late", func(ctx context.Context) (any, error) { return nil, nil },
		func(CommandHandle, any, error) { t.Error("Completion must not run for a rejected command") })
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcher_SubmitValidation(t *testing.T) {
	d := NewDispatcher()
	defer d.Stop()

	if _, err := d.Submit("nil_task", nil, func(CommandHandle, any, error) {}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil task, got %v", err)
	}
	if _, err := d.Submit("nil_done", func(ctx context.Context) (any, error) { return nil, nil }, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil completion, got %v", err)
	}
}

func TestDispatcher_BaseContextReachesTasks(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "agent-1")
	d := NewDispatcher(WithBaseContext(ctx))

	got := make(chan any, 1)
	d.Submit("ctx", func(ctx context.Context) (any, error) {
		return ctx.Value(ctxKey{}), nil
	}, func(_ CommandHandle, result any, _ error) { got <- result })

	if v := <-got; v != "agent-1" {
		t.Errorf("Expected base context value, got %v", v)
	}
	d.Stop()
}

func TestDispatcher_ObserverSeesQueueWait(t *testing.T) {
	obs := &recordingObserver{}
	d := NewDispatcher(WithMaxInflight(1), WithDispatcherObserver(obs))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		d.Submit("observed", func(ctx context.Context) (any, error) {
			time.Sleep(time.Millisecond)
			return nil, errors.New("nope")
		}, func(CommandHandle, any, error) { wg.Done() })
	}
	wg.Wait()
	d.Stop()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.starts) != 3 || len(obs.ends) != 3 {
		t.Fatalf("Expected 3 start and end events, got %d/%d", len(obs.starts), len(obs.ends))
	}
	for _, e := range obs.ends {
		if e.Error == nil || e.Command != "observed" {
			t.Errorf("Unexpected end event: %+v", e)
		}
	}
}
