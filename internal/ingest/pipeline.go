// Package ingest turns inbound events into stored artifacts. Live events and
// history replays share one pipeline; only replays are paced.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/user/statuskeeper/internal/classify"
	"github.com/user/statuskeeper/internal/directory"
	"github.com/user/statuskeeper/internal/state"
	"github.com/user/statuskeeper/internal/types"
)

// Outcome is the terminal result of processing one event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeSkipped
	OutcomeStored
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes what happened to one event.
type Result struct {
	Outcome Outcome
	Name    string
	Reason  string
}

// Pipeline runs classify, fetch and store for one event at a time. It is
// safe to call Process from the live and history workers concurrently.
type Pipeline struct {
	dir        *directory.Cache
	classifier *classify.Classifier
	store      *state.ArtifactStore
	ledger     types.ArtifactLedger
	fetcher    types.MediaFetcher
	retry      *RetryPolicy
	stats      *Stats
	fetches    singleflight.Group
}

// PipelineConfig holds the collaborators of a Pipeline. Ledger, Retry and
// Stats are optional.
type PipelineConfig struct {
	Directory *directory.Cache
	Store     *state.ArtifactStore
	Fetcher   types.MediaFetcher
	Ledger    types.ArtifactLedger
	Retry     *RetryPolicy
	Stats     *Stats
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Directory == nil {
		cfg.Directory = directory.New()
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	return &Pipeline{
		dir:        cfg.Directory,
		classifier: classify.New(cfg.Directory),
		store:      cfg.Store,
		ledger:     cfg.Ledger,
		fetcher:    cfg.Fetcher,
		retry:      cfg.Retry,
		stats:      cfg.Stats,
	}
}

func (p *Pipeline) Stats() *Stats { return p.stats }

// Process handles one event. Skips and duplicates are not errors; the
// returned error is set only for OutcomeFailed.
func (p *Pipeline) Process(ctx context.Context, ev *types.InboundEvent, source types.Source) (Result, error) {
	res, err := p.process(ctx, ev, source)
	p.stats.record(res.Outcome)
	return res, err
}

func (p *Pipeline) process(ctx context.Context, ev *types.InboundEvent, source types.Source) (Result, error) {
	if ev != nil && ev.NotifyName != "" {
		p.dir.ObserveNotify(ev.ParticipantID, ev.NotifyName)
	}

	d := p.classifier.Classify(ev)
	switch d.Action {
	case classify.Ignore:
		return Result{Outcome: OutcomeIgnored}, nil
	case classify.Skip:
		slog.Info("event skipped", "event_id", ev.ID, "source", string(source), "kind", string(ev.Kind), "reason", d.Reason)
		return Result{Outcome: OutcomeSkipped, Reason: d.Reason}, nil
	}

	name := state.DeriveName(d.Sender.DisplayName, ev.ID, d.Caption, d.Kind)
	exists, err := p.store.Exists(ctx, name)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Name: name}, fmt.Errorf("check artifact %s: %w", name, err)
	}
	if exists {
		slog.Debug("artifact already stored", "event_id", ev.ID, "name", name, "source", string(source))
		return Result{Outcome: OutcomeDuplicate, Name: name}, nil
	}

	var data []byte
	if d.Action == classify.Text {
		data = []byte(d.Content)
	} else {
		data, err = p.fetch(ctx, name, d)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Name: name}, fmt.Errorf("fetch media for %s: %w", name, err)
		}
	}

	art, created, err := p.store.Put(ctx, name, d.Kind, data)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Name: name}, fmt.Errorf("store %s: %w", name, err)
	}
	if !created {
		slog.Debug("artifact already stored", "event_id", ev.ID, "name", name, "source", string(source))
		return Result{Outcome: OutcomeDuplicate, Name: name}, nil
	}

	slog.Info("artifact stored", "event_id", ev.ID, "name", name, "source", string(source), "size", art.Size)
	if p.ledger != nil {
		rec := &types.ArtifactRecord{
			EventID: ev.ID,
			Name:    name,
			Kind:    d.Kind,
			Source:  source,
			Sender:  ev.ParticipantID,
			Size:    art.Size,
			Digest:  state.Digest(data),
		}
		if err := p.ledger.Append(ctx, rec); err != nil {
			slog.Warn("ledger append failed", "event_id", ev.ID, "name", name, "error", err)
		}
	}
	return Result{Outcome: OutcomeStored, Name: name}, nil
}

// fetch downloads a media payload under the retry policy. Concurrent fetches
// of one name share a single download.
func (p *Pipeline) fetch(ctx context.Context, name string, d classify.Decision) ([]byte, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("no media fetcher configured")
	}
	v, err, _ := p.fetches.Do(name, func() (any, error) {
		var data []byte
		err := p.retry.Execute(ctx, func(actx context.Context) error {
			b, err := p.fetcher.FetchMedia(actx, d.Ref, d.Kind)
			if err != nil {
				return err
			}
			data = b
			return nil
		})
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
