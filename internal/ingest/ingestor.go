package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/statuskeeper/internal/types"
)

// Ingestor feeds live events and history replays through the queue into
// the pipeline. The two lanes run concurrently so a long drain never delays
// live traffic.
type Ingestor struct {
	pipeline *Pipeline
	router   *LiveRouter
	backfill *Backfill
	Queue    *Queue

	mu      sync.Mutex
	reports []Report

	ctx    context.Context
	cancel context.CancelFunc
}

// maxReports bounds the drain reports kept for status output.
const maxReports = 16

// NewIngestor wires a pipeline to a two-lane queue.
func NewIngestor(p *Pipeline, pacer *Pacer, laneDepth int) *Ingestor {
	in := &Ingestor{
		pipeline: p,
		router:   NewLiveRouter(p),
		backfill: NewBackfill(p, pacer),
		Queue:    NewQueue(2, laneDepth, LaneLive, LaneHistory),
	}
	in.Queue.SetProcessor(in.process)
	return in
}

// Start initialises the context and starts the queue.
func (in *Ingestor) Start(ctx context.Context) {
	in.ctx, in.cancel = context.WithCancel(ctx)
	in.Queue.Start(in.ctx)
}

// Stop cancels in-flight work and waits for the lanes to exit. A running
// drain stops between items.
func (in *Ingestor) Stop() {
	if in.cancel != nil {
		in.cancel()
	}
	in.Queue.Stop()
}

// Live enqueues one live event. Events outside the broadcast scope are
// dropped here.
func (in *Ingestor) Live(ctx context.Context, ev *types.InboundEvent) error {
	if !in.router.Accept(ev) {
		return nil
	}
	return in.Queue.Enqueue(ctx, NewJob(LaneLive, types.SourceLive, []*types.InboundEvent{ev}))
}

// History enqueues one replay for a paced drain.
func (in *Ingestor) History(ctx context.Context, events []*types.InboundEvent) error {
	if len(events) == 0 {
		return nil
	}
	return in.Queue.Enqueue(ctx, NewJob(LaneHistory, types.SourceHistory, events))
}

// WaitIdle blocks until both lanes are empty or the timeout expires.
func (in *Ingestor) WaitIdle(timeout time.Duration) bool {
	return in.Queue.WaitIdle(timeout)
}

func (in *Ingestor) Stats() Snapshot {
	return in.pipeline.stats.Snapshot()
}

// Reports returns the most recent drain reports, oldest first.
func (in *Ingestor) Reports() []Report {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Report, len(in.reports))
	copy(out, in.reports)
	return out
}

func (in *Ingestor) process(job *Job) error {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch job.Lane {
	case LaneLive:
		for _, ev := range job.Events {
			in.router.Route(ctx, ev)
		}
	case LaneHistory:
		rep := in.backfill.Drain(ctx, job.Events)
		in.mu.Lock()
		in.reports = append(in.reports, rep)
		if len(in.reports) > maxReports {
			in.reports = in.reports[len(in.reports)-maxReports:]
		}
		in.mu.Unlock()
	default:
		return fmt.Errorf("unknown lane %q", job.Lane)
	}
	return nil
}
