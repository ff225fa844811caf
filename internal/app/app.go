// Package app assembles the harvester from configuration and supervises its
// long-running parts: the session, the ingest lanes, the scheduler, the
// operator chat and the ops HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/statuskeeper/internal/bridge"
	"github.com/user/statuskeeper/internal/config"
	"github.com/user/statuskeeper/internal/directory"
	"github.com/user/statuskeeper/internal/ingest"
	"github.com/user/statuskeeper/internal/notify"
	"github.com/user/statuskeeper/internal/ops"
	"github.com/user/statuskeeper/internal/scheduler"
	"github.com/user/statuskeeper/internal/session"
	"github.com/user/statuskeeper/internal/state"
	"github.com/user/statuskeeper/internal/telegram"
	"github.com/user/statuskeeper/internal/types"
)

// App owns every component of a running harvester.
type App struct {
	cfg       *config.Config
	transport types.Transport
	index     state.Index
	pacerOpts []ingest.PacerOption

	Auth     *state.AuthStore
	Store    *state.ArtifactStore
	Ledger   *state.Ledger
	Dir      *directory.Cache
	Pipeline *ingest.Pipeline
	Ingestor *ingest.Ingestor
	Session  *session.Manager
	Alerts   *notify.Registry
	Sched    *scheduler.Scheduler

	telegram  *telegram.Adapter
	startedAt time.Time
}

type Option func(*App)

// WithTransport replaces the bridge transport.
func WithTransport(t types.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithIndex replaces the artifact name index chosen from config.
func WithIndex(idx state.Index) Option {
	return func(a *App) { a.index = idx }
}

// WithPacerOptions passes options through to the history pacer.
func WithPacerOptions(opts ...ingest.PacerOption) Option {
	return func(a *App) { a.pacerOpts = append(a.pacerOpts, opts...) }
}

// New builds an App from cfg. It creates the data and artifact
// directories and connects to Redis when an index URL is configured, but
// opens no protocol session until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{cfg: cfg, startedAt: time.Now()}
	for _, opt := range opts {
		opt(a)
	}
	if a.transport == nil {
		a.transport = bridge.NewTransport(cfg.Bridge.URL, cfg.Bridge.Token)
	}
	if a.index == nil && cfg.Redis.URL != "" {
		idx, err := state.NewRedisIndex(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return nil, fmt.Errorf("artifact index: %w", err)
		}
		a.index = idx
	}

	a.Auth = state.NewAuthStore(cfg.AuthPath(), state.WithPassphrase(cfg.Auth.Passphrase))
	a.Store = state.NewArtifactStore(cfg.ArtifactPath(), a.index)
	if err := a.Store.Init(ctx); err != nil {
		a.closeIndex()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	a.Ledger = state.NewLedger(cfg.LedgerPath())
	a.Dir = directory.New()

	// Handlers are only invoked from Session.Run, after Ingestor is set.
	a.Session = session.New(a.transport, a.Auth, session.Config{
		MaxReconnects:  cfg.Session.MaxReconnects,
		DialRetryDelay: cfg.Session.DialRetryDelay.Std(),
	}, session.Handlers{
		OnLive:     a.onLive,
		OnHistory:  a.onHistory,
		OnContacts: a.Dir.Upsert,
		OnQR:       a.onQR,
	})

	a.Pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		Directory: a.Dir,
		Store:     a.Store,
		Fetcher:   a.Session,
		Ledger:    a.Ledger,
		Retry: &ingest.RetryPolicy{
			MaxAttempts:    cfg.Fetch.MaxAttempts,
			AttemptTimeout: cfg.Fetch.Timeout.Std(),
			InitialDelay:   cfg.Fetch.RetryDelay.Std(),
			Multiplier:     1,
			MaxDelay:       cfg.Fetch.RetryDelay.Std(),
		},
	})

	policy := ingest.PacingPolicy{
		MinDelay:   cfg.Pacing.MinDelay.Std(),
		MaxDelay:   cfg.Pacing.MaxDelay.Std(),
		BatchSize:  cfg.Pacing.BatchSize,
		BatchDelay: cfg.Pacing.BatchDelay.Std(),
	}
	if err := policy.Validate(); err != nil {
		a.closeIndex()
		return nil, err
	}
	a.Ingestor = ingest.NewIngestor(a.Pipeline, ingest.NewPacer(policy, a.pacerOpts...), cfg.QueueDepth)

	a.Alerts = notify.NewRegistry()
	a.Alerts.Register(notify.LogSink{})
	if cfg.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, a, a.Ledger)
		if err != nil {
			a.closeIndex()
			return nil, fmt.Errorf("create telegram adapter: %w", err)
		}
		a.telegram = tg
		a.Alerts.Register(tg)
	}

	a.Sched = scheduler.New()
	if err := a.Sched.Add(scheduler.Job{Name: "stats", Schedule: cfg.StatsSchedule, Run: a.logStats}); err != nil {
		a.closeIndex()
		return nil, err
	}
	return a, nil
}

// Run starts every component and blocks until ctx ends or the session
// stops for good. It returns nil on cancellation and the session's error
// (session.ErrLoggedOut, session.ErrReconnectLimit) otherwise.
func (a *App) Run(ctx context.Context) error {
	defer a.closeIndex()

	g, gctx := errgroup.WithContext(ctx)

	a.Ingestor.Start(gctx)
	defer a.Ingestor.Stop()

	if err := a.Sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.Sched.Stop()

	transitions := a.Session.Subscribe()
	g.Go(func() error {
		a.watchTransitions(gctx, transitions)
		return nil
	})

	g.Go(func() error {
		err := a.Session.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.telegram != nil {
		g.Go(func() error {
			a.telegram.Start(gctx)
			return nil
		})
		slog.Info("telegram adapter started", "chat_id", a.cfg.Telegram.ChatID)
	}

	if a.cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              a.cfg.HTTP.Listen,
			Handler:           ops.NewServer(a, a.Ledger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops server started", "listen", a.cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("statuskeeper started",
		"data_dir", a.cfg.DataDir,
		"artifacts", a.Store.Dir(),
		"bridge", a.cfg.Bridge.URL,
		"encrypted_auth", a.cfg.Auth.Passphrase != "",
		"redis_index", a.cfg.Redis.URL != "",
		"sinks", a.Alerts.Names(),
	)

	return g.Wait()
}

// Status implements ops.Provider.
func (a *App) Status(ctx context.Context) (*ops.Status, error) {
	names, err := a.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	records, err := a.Ledger.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ledger: %w", err)
	}
	return &ops.Status{
		State:          a.Session.State(),
		LastTransition: a.Session.LastTransition(),
		Connects:       a.Session.Connects(),
		Pending:        a.Ingestor.Queue.Pending(),
		Stats:          a.Ingestor.Stats(),
		Artifacts:      len(names),
		Ledger:         records,
		Drains:         a.Ingestor.Reports(),
		StartedAt:      a.startedAt,
	}, nil
}

func (a *App) onLive(ctx context.Context, ev *types.InboundEvent) {
	if err := a.Ingestor.Live(ctx, ev); err != nil && ctx.Err() == nil {
		slog.Warn("live event dropped", "event_id", ev.ID, "error", err)
	}
}

func (a *App) onHistory(ctx context.Context, events []*types.InboundEvent) {
	if err := a.Ingestor.History(ctx, events); err != nil && ctx.Err() == nil {
		slog.Warn("history replay dropped", "events", len(events), "error", err)
	}
}

func (a *App) onQR(code string) {
	a.alert(context.Background(), notify.Alert{
		Level: notify.LevelWarn,
		Title: "Pairing required",
		Body:  "Scan this code from the linked device screen:\n" + code,
	})
}

func (a *App) watchTransitions(ctx context.Context, ch <-chan types.Transition) {
	for tr := range ch {
		var alert notify.Alert
		switch tr.To {
		case types.StateOpen:
			alert = notify.Alert{Level: notify.LevelInfo, Title: "Session open"}
		case types.StateClosedReconnecting:
			if tr.Reason == "shutdown" {
				continue
			}
			alert = notify.Alert{Level: notify.LevelWarn, Title: "Session dropped", Body: tr.Reason}
		case types.StateClosedTerminal:
			alert = notify.Alert{Level: notify.LevelCritical, Title: "Session stopped", Body: tr.Reason}
		default:
			continue
		}
		alert.At = tr.At
		a.alert(context.WithoutCancel(ctx), alert)
	}
}

func (a *App) alert(ctx context.Context, alert notify.Alert) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Alerts.Notify(ctx, alert); err != nil {
		slog.Warn("alert delivery failed", "title", alert.Title, "error", err)
	}
}

func (a *App) logStats() {
	s := a.Ingestor.Stats()
	slog.Info("ingest stats",
		"state", a.Session.State(),
		"live", s.Live,
		"history", s.History,
		"stored", s.Stored,
		"duplicates", s.Duplicates,
		"skipped", s.Skipped,
		"ignored", s.Ignored,
		"failed", s.Failed,
		"drains", s.Drains,
		"pending", a.Ingestor.Queue.Pending(),
	)
}

func (a *App) closeIndex() {
	if c, ok := a.index.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Debug("close artifact index", "error", err)
		}
	}
}
