package ingest

import (
	"context"
	"log/slog"

	"github.com/user/statuskeeper/internal/types"
)

// LiveRouter forwards broadcast events from the live channel to the
// pipeline, in arrival order and without pacing.
type LiveRouter struct {
	pipeline *Pipeline
}

func NewLiveRouter(p *Pipeline) *LiveRouter {
	return &LiveRouter{pipeline: p}
}

// Accept reports whether ev belongs on the ingest path at all.
func (r *LiveRouter) Accept(ev *types.InboundEvent) bool {
	if ev == nil || ev.ScopeID != types.BroadcastScope {
		r.pipeline.stats.ignored.Add(1)
		return false
	}
	return true
}

// Route processes one live event. Failures are logged and swallowed so the
// live stream keeps flowing.
func (r *LiveRouter) Route(ctx context.Context, ev *types.InboundEvent) Result {
	r.pipeline.stats.live.Add(1)
	res, err := r.pipeline.Process(ctx, ev, types.SourceLive)
	if err != nil {
		slog.Error("live event failed", "event_id", ev.ID, "name", res.Name, "error", err)
	}
	return res
}
