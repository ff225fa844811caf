package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrQueueStopped = errors.New("ingest queue stopped")

const defaultLaneDepth = 256

// Queue runs one FIFO worker per lane. Jobs within a lane are processed
// sequentially; the semaphore caps how many lanes work at once.
type Queue struct {
	lanes     map[Lane]chan *Job
	depth     int
	semaphore *semaphore.Weighted
	processor func(*Job) error
	pending   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue with the given lanes. depth bounds each lane;
// Enqueue blocks while a lane is full.
func NewQueue(maxConcurrent int64, depth int, lanes ...Lane) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if depth < 1 {
		depth = defaultLaneDepth
	}
	q := &Queue{
		lanes:     make(map[Lane]chan *Job, len(lanes)),
		depth:     depth,
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
	for _, l := range lanes {
		q.lanes[l] = make(chan *Job, depth)
	}
	return q
}

// Start launches the lane workers. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	for lane, ch := range q.lanes {
		q.wg.Add(1)
		go q.processLane(lane, ch)
	}
}

// Stop cancels in-flight jobs and waits for the workers to exit. Jobs still
// buffered are dropped.
func (q *Queue) Stop() {
	q.mu.RLock()
	cancel := q.cancel
	q.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Enqueue appends job to its lane, blocking until there is room, ctx ends
// or the queue stops.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.RLock()
	lane, ok := q.lanes[job.Lane]
	qctx := q.ctx
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown lane %q", job.Lane)
	}
	if qctx == nil || qctx.Err() != nil {
		return ErrQueueStopped
	}

	q.pending.Add(1)
	select {
	case lane <- job:
		return nil
	case <-ctx.Done():
		q.pending.Add(-1)
		return ctx.Err()
	case <-qctx.Done():
		q.pending.Add(-1)
		return ErrQueueStopped
	}
}

func (q *Queue) processLane(lane Lane, ch chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job := <-ch:
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				q.pending.Add(-1)
				return
			}
			if q.processor != nil {
				job.Ctx = q.ctx
				if err := q.processor(job); err != nil {
					slog.Error("ingest job failed", "job_id", string(job.ID), "lane", string(lane), "error", err)
				}
			}
			q.semaphore.Release(1)
			q.pending.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// Pending returns the number of queued and in-flight jobs.
func (q *Queue) Pending() int64 {
	return q.pending.Load()
}

// WaitIdle blocks until no jobs are queued or running, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}
