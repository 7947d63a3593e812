// Package workers provides a bounded goroutine pool for running
// independent backtest and fetch tasks.
package workers

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of work processed by the pool.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

// Execute runs the function.
func (f TaskFunc) Execute() error { return f() }

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs submitted tasks on a fixed number of worker goroutines.
// Task panics are recovered and counted as failures so a single bad
// parameter combination cannot take down a batch.
type Pool struct {
	logger *zap.Logger
	name   string

	tasks chan Task
	wg    sync.WaitGroup

	// mu orders Submit's send against Close's close of the task
	// channel; a send racing the close would panic.
	mu        sync.RWMutex
	closed    atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64
}

// Config configures a pool.
type Config struct {
	Name       string
	NumWorkers int
	QueueSize  int
}

// DefaultConfig returns a pool sized to the machine.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		NumWorkers: runtime.NumCPU(),
		QueueSize:  1024,
	}
}

// NewPool creates and starts a pool.
func NewPool(logger *zap.Logger, config Config) *Pool {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}

	p := &Pool{
		logger: logger,
		name:   config.Name,
		tasks:  make(chan Task, config.QueueSize),
	}

	p.wg.Add(config.NumWorkers)
	for i := 0; i < config.NumWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task, blocking while the queue is full. It is
// safe to call concurrently with Close.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	// In-flight Submits hold the read lock; workers keep draining the
	// queue so they always release it.
	p.mu.Lock()
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// Completed returns how many tasks ran without error.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns how many tasks errored or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("Recovered task panic",
				zap.String("pool", p.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := task.Execute(); err != nil {
		p.failed.Add(1)
		p.logger.Debug("Task failed",
			zap.String("pool", p.name),
			zap.Error(err),
		)
		return
	}
	p.completed.Add(1)
}
