package livedata

import (
	"context"
	"fmt"
	"sync"

	"github.com/markus-lassfolk/livedatabus/pkg/logx"
)

// Executor runs tasks on the context that owns observer delivery.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// Immediate runs every task inline on the calling goroutine.
var Immediate Executor = ExecutorFunc(func(task func()) { task() })

// Looper is the main execution context: tasks are queued from any goroutine
// and run one at a time, in order, on the goroutine that calls Run (or
// Flush). Execute never blocks; the queue is unbounded.
type Looper struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	logger *logx.Logger
}

// NewLooper creates an idle looper.
func NewLooper(logger *logx.Logger) *Looper {
	if logger == nil {
		logger = logx.Nop()
	}
	return &Looper{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Execute queues task. Tasks queued after the looper stopped are dropped.
func (l *Looper) Execute(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("looper closed, dropping task")
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done. It returns ctx.Err().
func (l *Looper) Run(ctx context.Context) error {
	for {
		l.Flush()
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()
			if dropped > 0 {
				l.logger.Debug("looper stopped with pending tasks", "dropped", dropped)
			}
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Flush runs queued tasks on the calling goroutine until the queue is
// empty, including tasks queued by the tasks themselves.
func (l *Looper) Flush() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

// Pending returns the number of queued tasks.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// a panicking observer must not take the loop down
func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("looper task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}
