package ingest

import (
	"context"
	"time"

	"github.com/user/statuskeeper/internal/types"
)

// Lane names one FIFO lane of the ingest queue.
type Lane string

const (
	LaneLive    Lane = "live"
	LaneHistory Lane = "history"
)

// Job is one unit of queued work: a single live event or a whole replay.
type Job struct {
	ID        types.JobID
	Lane      Lane
	Source    types.Source
	Events    []*types.InboundEvent
	CreatedAt time.Time
	Ctx       context.Context
}

func NewJob(lane Lane, source types.Source, events []*types.InboundEvent) *Job {
	return &Job{
		ID:        types.NewJobID(),
		Lane:      lane,
		Source:    source,
		Events:    events,
		CreatedAt: time.Now(),
	}
}
