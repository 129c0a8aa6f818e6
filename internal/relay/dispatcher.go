package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of per-chat work.
type Job func(ctx context.Context)

// Dispatcher runs jobs for different chats concurrently and jobs for the
// same chat one at a time in submission order. A chat's worker goroutine
// exists only while that chat has queued work.
type Dispatcher struct {
	logger  *zap.Logger
	onPanic func(chatID int64, recovered any)

	mu     sync.Mutex
	queues map[int64][]Job
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(logger *zap.Logger, onPanic func(chatID int64, recovered any)) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		onPanic: onPanic,
		queues:  make(map[int64][]Job),
	}
}

// Submit queues job for chatID. Jobs run with a context that is detached
// from ctx's cancellation, so an accepted job always completes. It reports
// false after Close.
func (d *Dispatcher) Submit(ctx context.Context, chatID int64, job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	q, running := d.queues[chatID]
	d.queues[chatID] = append(q, job)
	if !running {
		d.wg.Add(1)
		go d.drain(context.WithoutCancel(ctx), chatID)
	}
	return true
}

func (d *Dispatcher) drain(ctx context.Context, chatID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[chatID]
		if len(q) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		d.queues[chatID] = q[1:]
		d.mu.Unlock()

		d.run(ctx, chatID, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, chatID int64, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked",
				zap.Int64("chat_id", chatID),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
			if d.onPanic != nil {
				d.onPanic(chatID, r)
			}
		}
	}()
	job(ctx)
}

// Pending returns how many chats currently have queued or running work.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting jobs. Queued jobs still run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every accepted job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
