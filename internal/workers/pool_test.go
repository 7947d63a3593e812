package workers

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 4, QueueSize: 16})

	var counter atomic.Int64
	for i := 0; i < 50; i++ {
		err := pool.Submit(TaskFunc(func() error {
			counter.Add(1)
			return nil
		}))
		assert.NoError(t, err)
	}
	pool.Close()

	assert.Equal(t, int64(50), counter.Load())
	assert.Equal(t, int64(50), pool.Completed())
	assert.Zero(t, pool.Failed())
}

func TestPool_CountsFailedTasks(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 2, QueueSize: 8})

	for i := 0; i < 3; i++ {
		assert.NoError(t, pool.Submit(TaskFunc(func() error {
			return errors.New("boom")
		})))
	}
	assert.NoError(t, pool.Submit(TaskFunc(func() error { return nil })))
	pool.Close()

	assert.Equal(t, int64(1), pool.Completed())
	assert.Equal(t, int64(3), pool.Failed())
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 1, QueueSize: 4})

	assert.NoError(t, pool.Submit(TaskFunc(func() error {
		panic("task panic")
	})))
	assert.NoError(t, pool.Submit(TaskFunc(func() error { return nil })))
	pool.Close()

	// The panicking task counts as failed; the pool keeps serving.
	assert.Equal(t, int64(1), pool.Completed())
	assert.Equal(t, int64(1), pool.Failed())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 1, QueueSize: 1})
	pool.Close()

	err := pool.Submit(TaskFunc(func() error { return nil }))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_SubmitRacingCloseDoesNotPanic(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 2, QueueSize: 4})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := pool.Submit(TaskFunc(func() error { return nil }))
				if err != nil {
					assert.ErrorIs(t, err, ErrPoolClosed)
					return
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	pool.Close()
	wg.Wait()
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(zap.NewNop(), Config{Name: "test", NumWorkers: 1, QueueSize: 1})
	pool.Close()
	assert.NotPanics(t, pool.Close)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("opt")
	assert.Equal(t, "opt", config.Name)
	assert.GreaterOrEqual(t, config.NumWorkers, 1)
	assert.Equal(t, 1024, config.QueueSize)
}
