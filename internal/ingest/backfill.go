package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/statuskeeper/internal/types"
)

// Report summarizes one drain pass.
type Report struct {
	Pass       types.PassID  `json:"pass"`
	Total      int           `json:"total"`
	Stored     int           `json:"stored"`
	Duplicates int           `json:"duplicates"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Abandoned  int           `json:"abandoned"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Backfill drains history replays sequentially under a pacing policy.
type Backfill struct {
	pipeline *Pipeline
	pacer    *Pacer
}

func NewBackfill(p *Pipeline, pacer *Pacer) *Backfill {
	if pacer == nil {
		pacer = NewPacer(DefaultPacingPolicy())
	}
	return &Backfill{pipeline: p, pacer: pacer}
}

// Filter keeps the broadcast events of a replay, in delivery order.
func Filter(events []*types.InboundEvent) []*types.InboundEvent {
	out := make([]*types.InboundEvent, 0, len(events))
	for _, ev := range events {
		if ev != nil && ev.ScopeID == types.BroadcastScope {
			out = append(out, ev)
		}
	}
	return out
}

// Drain processes one replay. A failed item is logged and the drain moves
// on; nothing is retried within the pass. Cancellation abandons the rest of
// the drain between items.
func (b *Backfill) Drain(ctx context.Context, events []*types.InboundEvent) Report {
	start := time.Now()
	items := Filter(events)
	stats := b.pipeline.stats
	stats.drains.Add(1)
	stats.ignored.Add(int64(len(events) - len(items)))

	rep := Report{Pass: types.NewPassID(), Total: len(items)}
	slog.Info("backfill drain started", "pass", string(rep.Pass), "total", rep.Total, "replayed", len(events))

	for i, ev := range items {
		if ctx.Err() != nil {
			rep.Abandoned = len(items) - i
			break
		}

		stats.history.Add(1)
		res, err := b.pipeline.Process(ctx, ev, types.SourceHistory)
		switch res.Outcome {
		case OutcomeStored:
			rep.Stored++
		case OutcomeDuplicate:
			rep.Duplicates++
		case OutcomeSkipped:
			rep.Skipped++
		case OutcomeFailed:
			rep.Failed++
			slog.Error("backfill item failed", "pass", string(rep.Pass), "event_id", ev.ID, "name", res.Name, "error", err)
		}

		completed := i + 1
		if completed == len(items) {
			break
		}
		if err := b.pacer.Wait(ctx, completed); err != nil {
			rep.Abandoned = len(items) - completed
			break
		}
	}

	rep.Elapsed = time.Since(start)
	if rep.Abandoned > 0 {
		slog.Warn("backfill drain abandoned", "pass", string(rep.Pass), "stored", rep.Stored,
			"duplicates", rep.Duplicates, "skipped", rep.Skipped, "failed", rep.Failed, "abandoned", rep.Abandoned)
	} else {
		slog.Info("backfill drain finished", "pass", string(rep.Pass), "stored", rep.Stored,
			"duplicates", rep.Duplicates, "skipped", rep.Skipped, "failed", rep.Failed, "elapsed", rep.Elapsed)
	}
	return rep
}
