// Package scheduler drives the three batch jobs: snapshot refresh, analytics
// recompute and signal-score recompute. Every job is idempotent; a failed
// item is logged and retried on the next run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/config"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/metrics"
	"github.com/web3-frozen/agent-signal/internal/signal"
	"github.com/web3-frozen/agent-signal/internal/store"
)

const (
	JobSnapshots = "snapshots"
	JobSignals   = "signals"
	JobAnalytics = "analytics"

	buildLookback = 90 * 24 * time.Hour
)

// Jobs lists every job name in the order an initial run executes them.
var Jobs = []string{JobAnalytics, JobSnapshots, JobSignals}

// ErrUnknownJob is returned by RunJob for an unrecognized job name.
var ErrUnknownJob = errors.New("unknown job")

// Store is the persistence the jobs read and write.
type Store interface {
	ListLinkedTokens(ctx context.Context) ([]market.Token, error)
	InsertSnapshot(ctx context.Context, sn *market.Snapshot) error
	PrimaryToken(ctx context.Context, agentID int64) (*market.Token, error)
	LatestSnapshot(ctx context.Context, tokenID int64) (*market.Snapshot, error)

	ListAgents(ctx context.Context) ([]int64, error)
	VerifiedAgents(ctx context.Context) ([]signal.Identity, error)
	ListPosts(ctx context.Context) ([]analytics.Post, error)
	ListAgentPosts(ctx context.Context, agentID int64, since time.Time) ([]analytics.Post, error)
	ListComments(ctx context.Context) ([]analytics.Comment, error)
	ListReactions(ctx context.Context) ([]analytics.Reaction, error)

	UpdatePostQuality(ctx context.Context, postID int64, score float64) error
	UpsertAgentMetrics(ctx context.Context, m analytics.AgentMetrics) error
	GetAgentMetrics(ctx context.Context, agentID int64) (*analytics.AgentMetrics, error)
	UpsertSignalScore(ctx context.Context, sc signal.Score) error
}

// Collector produces merged metrics for one token.
type Collector interface {
	Collect(ctx context.Context, t market.Token) (market.Metrics, market.CollectReport)
}

// Locker is a cross-process job lease. Nil disables leasing. Acquire on a
// lease the caller already holds must extend it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
	Holder(ctx context.Context, name string) (string, error)
}

// Config holds the engine's intervals and tuning. A zero LeaseTTL or
// GrowthWindowDays takes its default.
type Config struct {
	SnapshotInterval  time.Duration
	SignalInterval    time.Duration
	AnalyticsInterval time.Duration
	PacingDelay       time.Duration
	GrowthWindowDays  int
	LeaseTTL          time.Duration
}

// JobResult summarizes one job run.
type JobResult struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	Canceled   bool      `json:"canceled,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Status classifies the run for metrics and logs.
func (r JobResult) Status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Error != "":
		return "failed"
	case r.Canceled:
		return "canceled"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Engine runs the batch jobs, either on its own tickers (Run) or on demand
// (RunJob).
type Engine struct {
	store     Store
	collector Collector
	locker    Locker
	logger    *slog.Logger
	cfg       Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	inflight map[string]*atomic.Bool
	mu       sync.RWMutex
	last     map[string]JobResult
}

// ConfigFrom maps the service configuration onto the engine's.
func ConfigFrom(c config.Config) Config {
	return Config{
		SnapshotInterval:  c.SnapshotInterval,
		SignalInterval:    c.SignalInterval,
		AnalyticsInterval: c.AnalyticsInterval,
		PacingDelay:       c.PacingDelay,
		GrowthWindowDays:  c.GrowthWindowDays,
		LeaseTTL:          c.LeaseTTL,
	}
}

func NewEngine(s Store, c Collector, locker Locker, logger *slog.Logger, cfg Config) *Engine {
	if cfg.GrowthWindowDays <= 0 {
		cfg.GrowthWindowDays = 7
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	e := &Engine{
		store:     s,
		collector: c,
		locker:    locker,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		inflight:  make(map[string]*atomic.Bool, len(Jobs)),
		last:      make(map[string]JobResult, len(Jobs)),
	}
	for _, j := range Jobs {
		e.inflight[j] = new(atomic.Bool)
	}
	return e
}

// Run executes every job once, then keeps each on its own ticker until ctx
// is canceled. A non-positive interval disables that job's ticker.
func (e *Engine) Run(ctx context.Context) {
	for _, job := range Jobs {
		if ctx.Err() != nil {
			return
		}
		e.RunJob(ctx, job) //nolint:errcheck
	}

	intervals := map[string]time.Duration{
		JobSnapshots: e.cfg.SnapshotInterval,
		JobSignals:   e.cfg.SignalInterval,
		JobAnalytics: e.cfg.AnalyticsInterval,
	}

	var g errgroup.Group
	for _, job := range Jobs {
		every := intervals[job]
		if every <= 0 {
			e.logger.Info("job ticker disabled", "job", job)
			continue
		}
		job := job // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					e.RunJob(ctx, job) //nolint:errcheck
				}
			}
		})
	}
	_ = g.Wait()
}

// RunJob runs one job by name under the in-process guard and the
// cross-process lease, records its result and reports metrics.
func (e *Engine) RunJob(ctx context.Context, name string) (JobResult, error) {
	run, ok := e.jobFunc(name)
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	logger := e.logger.With("job", name)

	guard := e.inflight[name]
	if !guard.CompareAndSwap(false, true) {
		logger.Info("job already running in this process, skipping")
		return e.finish(JobResult{Job: name, StartedAt: e.now(), Skipped: true}), nil
	}
	defer guard.Store(false)

	if e.locker != nil {
		held, err := e.locker.Acquire(ctx, name, e.cfg.LeaseTTL)
		switch {
		case err != nil:
			// Overlapping runs are safe, only wasteful, so run anyway.
			logger.Warn("job lease unavailable, running without it", "error", err)
		case !held:
			logger.Info("job lease held elsewhere, skipping")
			return e.finish(JobResult{Job: name, StartedAt: e.now(), Skipped: true}), nil
		default:
			stop := e.keepLease(ctx, name, logger)
			defer func() {
				stop()
				if err := e.locker.Release(context.WithoutCancel(ctx), name); err != nil {
					logger.Warn("release job lease failed", "error", err)
				}
			}()
		}
	}

	logger.Info("job started")
	res := run(ctx)
	res = e.finish(res)

	metrics.JobDuration.WithLabelValues(name).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	if res.Error == "" && !res.Canceled {
		metrics.JobLastSuccess.WithLabelValues(name).Set(float64(res.FinishedAt.Unix()))
	}
	logger.Info("job finished",
		"status", res.Status(),
		"processed", res.Processed,
		"failed", res.Failed,
		"duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	return res, nil
}

// keepLease re-acquires (extends) a held lease every third of its TTL until
// the returned stop func is called, so long runs do not outlive it.
func (e *Engine) keepLease(ctx context.Context, name string, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := e.locker.Acquire(ctx, name, e.cfg.LeaseTTL)
				switch {
				case err != nil:
					logger.Warn("extend job lease failed", "error", err)
				case !held:
					logger.Warn("job lease lost to another replica")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// LeaseHolders reports the current owner of each job's lease ("" when free).
// It is empty when leasing is disabled.
func (e *Engine) LeaseHolders(ctx context.Context) map[string]string {
	out := make(map[string]string, len(Jobs))
	if e.locker == nil {
		return out
	}
	for _, job := range Jobs {
		h, err := e.locker.Holder(ctx, job)
		if err != nil {
			e.logger.Warn("read job lease failed", "job", job, "error", err)
			continue
		}
		out[job] = h
	}
	return out
}

func (e *Engine) jobFunc(name string) (func(context.Context) JobResult, bool) {
	switch name {
	case JobSnapshots:
		return e.RefreshSnapshots, true
	case JobSignals:
		return e.RecomputeSignals, true
	case JobAnalytics:
		return e.RecomputeAnalytics, true
	}
	return nil, false
}

func (e *Engine) finish(res JobResult) JobResult {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = e.now()
	}
	metrics.JobRunsTotal.WithLabelValues(res.Job, res.Status()).Inc()

	e.mu.Lock()
	e.last[res.Job] = res
	e.mu.Unlock()
	return res
}

// Status returns the last result of every job that has run, by job name.
func (e *Engine) Status() []JobResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]JobResult, 0, len(e.last))
	for _, r := range e.last {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// itemDone records one item's outcome.
func (e *Engine) itemDone(res *JobResult, err error, logger *slog.Logger, msg string, args ...any) {
	if err != nil {
		res.Failed++
		metrics.JobItemsTotal.WithLabelValues(res.Job, "failed").Inc()
		logger.Error(msg, append(args, "error", err)...)
		return
	}
	res.Processed++
	metrics.JobItemsTotal.WithLabelValues(res.Job, "ok").Inc()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
