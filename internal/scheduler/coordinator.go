// Package scheduler drives the aggregation-and-snapshot pipeline on a fixed
// interval with at most one run in flight.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sales-insight/internal/config"
	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/events"
	"sales-insight/internal/models"
	"sales-insight/internal/observability"
	"sales-insight/internal/services"
	"sales-insight/internal/source"
)

const publishTimeout = 10 * time.Second

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Summarizer interface {
	Summarize(ctx context.Context, stats models.Statistics) (string, error)
}

type SnapshotStore interface {
	Write(u models.SnapshotUpdate) (models.Snapshot, error)
	AppendHistory(entry models.HistoryEntry) error
}

// RunResult describes one finished run.
type RunResult struct {
	RunID             string            `json:"run_id"`
	State             State             `json:"state"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	Window            models.TimeWindow `json:"window"`
	RecordCount       int               `json:"record_count"`
	NarrativeFallback bool              `json:"narrative_fallback"`
	ErrorCode         string            `json:"error_code,omitempty"`
	Error             string            `json:"error,omitempty"`
}

type Status struct {
	State    State         `json:"state"`
	Interval time.Duration `json:"interval"`
	LastRun  *RunResult    `json:"last_run,omitempty"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
	Skipped  int64         `json:"skipped_ticks"`
	Stopped  bool          `json:"stopped"`
}

type Options struct {
	Analysis    config.AnalysisConfig
	Placeholder string
	Source      source.Source
	Summarizer  Summarizer
	Store       SnapshotStore
	Publisher   events.Publisher
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Coordinator struct {
	cfg         config.AnalysisConfig
	placeholder string
	source      source.Source
	aggregator  *services.Aggregator
	summarizer  Summarizer
	store       SnapshotStore
	publisher   events.Publisher
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time

	state    atomic.Int32
	runs     atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64

	mu      sync.Mutex
	last    *RunResult
	stopped bool
	wg      sync.WaitGroup
}

func NewCoordinator(opts Options) *Coordinator {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Coordinator{
		cfg:         opts.Analysis,
		placeholder: opts.Placeholder,
		source:      opts.Source,
		aggregator:  services.NewAggregator(opts.Analysis.TopCategories, opts.Analysis.TopProducts),
		summarizer:  opts.Summarizer,
		store:       opts.Store,
		publisher:   publisher,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "coordinator"),
		now:         time.Now,
	}
}

// Start runs the pipeline once immediately and then on every interval until
// ctx is cancelled. It returns after any in-flight run has finished.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("scheduler started",
		"interval", c.cfg.Interval,
		"window_hours", c.cfg.WindowHours,
	)

	c.dispatch(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.stopped = true
			c.mu.Unlock()

			c.logger.Info("scheduler stopping, waiting for in-flight run")
			c.wg.Wait()
			c.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			c.dispatch(ctx)
		}
	}
}

// dispatch runs a tick on its own goroutine so a slow run makes the next
// ticks skip instead of queueing behind it.
func (c *Coordinator) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	go c.Tick(context.WithoutCancel(ctx))
}

// Tick starts a run unless one is already in flight, in which case it
// returns false without doing anything.
func (c *Coordinator) Tick(ctx context.Context) (RunResult, bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return RunResult{}, false
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		c.mu.Unlock()
		c.skipped.Add(1)
		c.metrics.TickSkipped()
		c.logger.Warn("tick skipped, previous run still in flight")
		return RunResult{}, false
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	result := c.run(ctx, c.now())

	c.mu.Lock()
	c.last = &result
	c.mu.Unlock()

	c.runs.Add(1)
	if result.State == StateFailed {
		c.failures.Add(1)
	}
	c.metrics.RunFinished(result.State.String(), result.FinishedAt.Sub(result.StartedAt),
		result.RecordCount, result.NarrativeFallback, result.FinishedAt)
	c.state.Store(int32(result.State))
	c.state.Store(int32(StateIdle))

	return result, true
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	var last *RunResult
	if c.last != nil {
		cp := *c.last
		last = &cp
	}
	stopped := c.stopped
	c.mu.Unlock()

	return Status{
		State:    State(c.state.Load()),
		Interval: c.cfg.Interval,
		LastRun:  last,
		Runs:     c.runs.Load(),
		Failures: c.failures.Load(),
		Skipped:  c.skipped.Load(),
		Stopped:  stopped,
	}
}

func (c *Coordinator) run(ctx context.Context, trigger time.Time) (result RunResult) {
	runID := uuid.NewString()
	window := models.NewTimeWindow(trigger, c.cfg.WindowHours)

	ctx = observability.WithRunID(ctx, runID)
	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	logger := observability.LoggerFrom(ctx, c.logger)

	result = RunResult{
		RunID:     runID,
		StartedAt: trigger,
		Window:    window,
	}
	span.SetTag("window_start", window.Start.Format(time.RFC3339))
	span.SetTag("window_end", window.End.Format(time.RFC3339))

	var runErr error
	defer func() {
		result.FinishedAt = c.now()
		span.SetTag("outcome", result.State.String())
		if runErr != nil {
			span.SetError(runErr)
		}
		span.End(logger)
	}()

	fail := func(stage string, err error) RunResult {
		runErr = err
		result.State = StateFailed
		result.ErrorCode = string(apperrors.CodeOf(err))
		result.Error = err.Error()
		logger.Error("run failed",
			"stage", stage,
			"error_code", result.ErrorCode,
			"transient", apperrors.IsTransient(err),
			"error", err,
		)
		return result
	}

	logger.Info("run started", "window_start", window.Start, "window_end", window.End)

	fetched, err := c.fetch(ctx, window)
	if err != nil {
		return fail("fetch", err)
	}
	result.RecordCount = len(fetched.Records)
	span.SetTag("record_count", strconv.Itoa(len(fetched.Records)))

	stats, err := c.aggregator.Aggregate(fetched)
	if err != nil {
		return fail("aggregate", err)
	}

	narrative, err := c.summarizer.Summarize(ctx, stats)
	if err != nil {
		logger.Warn("narrative unavailable, using placeholder", "error", err)
		narrative = c.placeholder
		result.NarrativeFallback = true
	}

	snap, err := c.store.Write(models.SnapshotUpdate{Statistics: stats, Narrative: narrative})
	if err != nil {
		return fail("write", err)
	}
	result.State = StateSucceeded

	if err := c.store.AppendHistory(models.HistoryEntry{
		Timestamp:         snap.LastUpdated,
		RunID:             runID,
		WindowStats:       stats.WindowStats,
		CategoryBreakdown: stats.CategoryBreakdown,
		HourlyTrend:       stats.HourlyTrend,
		TopProducts:       stats.TopProducts,
		Narrative:         narrative,
	}); err != nil {
		logger.Error("history append failed", "error", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(pubCtx, events.NewSnapshotEvent(runID, snap)); err != nil {
		logger.Warn("snapshot event not published", "error", err)
	}

	logger.Info("run succeeded",
		"record_count", stats.WindowStats.RecordCount,
		"total_revenue", stats.WindowStats.TotalRevenue.String(),
		"narrative_fallback", result.NarrativeFallback,
	)
	return result
}

// fetch issues the four window queries concurrently under the fetch timeout.
func (c *Coordinator) fetch(ctx context.Context, window models.TimeWindow) (services.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	out := services.FetchResult{Window: window}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		records, err := c.source.FetchWindow(gctx, window)
		out.Records = records
		return err
	})
	g.Go(func() error {
		rows, err := c.source.FetchByCategory(gctx, window, c.cfg.TopCategories)
		out.Categories = rows
		return err
	})
	g.Go(func() error {
		rows, err := c.source.FetchByHour(gctx, window)
		out.Hours = rows
		return err
	})
	g.Go(func() error {
		rows, err := c.source.FetchTopProducts(gctx, window, c.cfg.TopProducts)
		out.Products = rows
		return err
	})

	if err := g.Wait(); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			err = apperrors.SourceUnavailable(err, "fetch window")
		}
		return services.FetchResult{}, err
	}
	return out, nil
}
