package ingest

import "sync/atomic"

// Stats counts pipeline outcomes. Safe for concurrent use.
type Stats struct {
	live       atomic.Int64
	history    atomic.Int64
	ignored    atomic.Int64
	skipped    atomic.Int64
	stored     atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
	drains     atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Live       int64 `json:"live"`
	History    int64 `json:"history"`
	Ignored    int64 `json:"ignored"`
	Skipped    int64 `json:"skipped"`
	Stored     int64 `json:"stored"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
	Drains     int64 `json:"drains"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Live:       s.live.Load(),
		History:    s.history.Load(),
		Ignored:    s.ignored.Load(),
		Skipped:    s.skipped.Load(),
		Stored:     s.stored.Load(),
		Duplicates: s.duplicates.Load(),
		Failed:     s.failed.Load(),
		Drains:     s.drains.Load(),
	}
}

func (s *Stats) record(o Outcome) {
	switch o {
	case OutcomeIgnored:
		s.ignored.Add(1)
	case OutcomeSkipped:
		s.skipped.Add(1)
	case OutcomeStored:
		s.stored.Add(1)
	case OutcomeDuplicate:
		s.duplicates.Add(1)
	case OutcomeFailed:
		s.failed.Add(1)
	}
}
