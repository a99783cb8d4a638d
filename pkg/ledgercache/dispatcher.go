package ledgercache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ef-ds/deque"
)

// DefaultMaxInflight is the number of commands a dispatcher runs at once
// unless configured otherwise.
const DefaultMaxInflight = 8

// Task is the work carried by a command.
type Task func(ctx context.Context) (any, error)

// Completion receives the outcome of a command. It is called exactly once
// per handle, always from the dispatcher's worker goroutine.
type Completion func(handle CommandHandle, result any, err error)

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption interface {
	applyDispatcher(*Dispatcher)
}

type dispatcherOptionFunc func(*Dispatcher)

func (f dispatcherOptionFunc) applyDispatcher(d *Dispatcher) {
	f(d)
}

// WithMaxInflight limits how many commands run concurrently. 1 makes the
// dispatcher strictly serial. Values below 1 are ignored.
func WithMaxInflight(n int) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		if n >= 1 {
			d.maxInflight = n
		}
	})
}

// WithDispatcherObserver sets the observer notified when commands start and end.
func WithDispatcherObserver(o Observer) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.observer = o
	})
}

// WithDispatcherLogger sets the logger used for completion panics.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.logger = l
	})
}

// WithBaseContext sets the context handed to every task.
func WithBaseContext(ctx context.Context) DispatcherOption {
	return dispatcherOptionFunc(func(d *Dispatcher) {
		d.ctx = ctx
	})
}

// Dispatcher is a single-consumer command queue.
//
// Submit may be called from any goroutine and never blocks on command
// execution. One worker goroutine takes commands in arrival order, runs up to
// MaxInflight of them concurrently and invokes each completion exactly once,
// in the order the commands finish.
type Dispatcher struct {
	maxInflight int
	ctx         context.Context
	observer    Observer
	logger      *slog.Logger

	mu         sync.Mutex
	queue      deque.Deque
	closed     bool
	nextHandle CommandHandle

	wake    chan struct{}
	results chan commandResult
	stopped chan struct{}
	stop    sync.Once

	// pending is owned by the worker goroutine
	pending map[CommandHandle]*command
}

type command struct {
	handle   CommandHandle
	name     string
	task     Task
	done     Completion
	enqueued time.Time
	started  time.Time
}

type commandResult struct {
	cmd      *command
	value    any
	err      error
	panicked bool
}

// NewDispatcher creates a dispatcher and starts its worker. Call Stop to
// release it.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		maxInflight: DefaultMaxInflight,
		ctx:         context.Background(),
		observer:    NoOpObserver{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		wake:        make(chan struct{}, 1),
		stopped:     make(chan struct{}),
		pending:     make(map[CommandHandle]*command),
	}
	for _, opt := range opts {
		opt.applyDispatcher(d)
	}
	// Every running command owns one slot, so result sends never block.
	d.results = make(chan commandResult, d.maxInflight)

	go d.run()
	return d
}

// Submit enqueues a command and returns its handle. name labels the command
// in observer events.
func (d *Dispatcher) Submit(name string, task Task, done Completion) (CommandHandle, error) {
	if task == nil {
		return 0, invalidArgf("command %s has no task", name)
	}
	if done == nil {
		return 0, invalidArgf("command %s has no completion", name)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrDispatcherClosed
	}
	d.nextHandle++
	cmd := &command{
		handle:   d.nextHandle,
		name:     name,
		task:     task,
		done:     done,
		enqueued: time.Now(),
	}
	d.queue.PushBack(cmd)
	d.mu.Unlock()

	d.signal()
	return cmd.handle, nil
}

// Len returns the number of commands waiting to start.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// Stop rejects further commands, runs everything already queued and returns
// once every completion has fired. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stop.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.signal()
	})
	<-d.stopped
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	running := 0
	for {
		for running < d.maxInflight {
			cmd, depth, ok := d.dequeue()
			if !ok {
				break
			}
			running++
			d.start(cmd, depth)
		}

		if running == 0 && d.drained() {
			return
		}

		select {
		case res := <-d.results:
			running--
			d.complete(res)
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) dequeue() (*command, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.queue.PopFront()
	if !ok {
		return nil, 0, false
	}
	return v.(*command), d.queue.Len(), true
}

func (d *Dispatcher) drained() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed && d.queue.Len() == 0
}

func (d *Dispatcher) start(cmd *command, depth int) {
	cmd.started = time.Now()
	d.pending[cmd.handle] = cmd
	d.observer.OnCommandStart(d.ctx, &CommandStartEvent{
		Handle:     cmd.handle,
		Command:    cmd.name,
		QueueDepth: depth,
		Waited:     cmd.started.Sub(cmd.enqueued),
	})

	go func() {
		res := commandResult{cmd: cmd}
		defer func() {
			if r := recover(); r != nil {
				res.value = nil
				res.err = &CommandPanicError{
					Handle:     cmd.handle,
					Command:    cmd.name,
					PanicValue: r,
					Stack:      debug.Stack(),
				}
				res.panicked = true
			}
			d.results <- res
		}()
		res.value, res.err = cmd.task(d.ctx)
	}()
}

func (d *Dispatcher) complete(res commandResult) {
	cmd := res.cmd
	if _, ok := d.pending[cmd.handle]; !ok {
		d.logger.Error("duplicate completion suppressed",
			slog.Int("handle", int(cmd.handle)),
			slog.String("command", cmd.name),
		)
		return
	}
	delete(d.pending, cmd.handle)

	d.observer.OnCommandEnd(d.ctx, &CommandEndEvent{
		Handle:   cmd.handle,
		Command:  cmd.name,
		Duration: time.Since(cmd.started),
		Error:    res.err,
		Panicked: res.panicked,
	})

	d.invoke(cmd, res)
}

// invoke runs the caller's completion. A panicking completion is logged and
// does not take the worker down.
func (d *Dispatcher) invoke(cmd *command, res commandResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("completion panicked",
				slog.Int("handle", int(cmd.handle)),
				slog.String("command", cmd.name),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	cmd.done(cmd.handle, res.value, res.err)
}
