package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/metrics"
	"github.com/web3-frozen/agent-signal/internal/signal"
)

// RefreshSnapshots collects and appends one snapshot per linked token,
// sequentially, sleeping PacingDelay between tokens. Cancellation is honored
// between tokens only: an item that has started always completes.
func (e *Engine) RefreshSnapshots(ctx context.Context) JobResult {
	res := JobResult{Job: JobSnapshots, StartedAt: e.now()}
	logger := e.logger.With("job", JobSnapshots)

	tokens, err := e.store.ListLinkedTokens(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("list tokens: %v", err)
		return res
	}
	metrics.TrackedTokens.Set(float64(len(tokens)))

	itemCtx := context.WithoutCancel(ctx)
	for i, t := range tokens {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.PacingDelay); err != nil {
				res.Canceled = true
				break
			}
		} else if ctx.Err() != nil {
			res.Canceled = true
			break
		}

		m, report := e.collector.Collect(itemCtx, t)
		if report.CarriedHolders {
			metrics.CarriedHoldersTotal.WithLabelValues(t.Chain).Inc()
		}
		sn := &market.Snapshot{TokenID: t.ID, Metrics: m, CapturedAt: e.now()}
		err := e.store.InsertSnapshot(itemCtx, sn)
		e.itemDone(&res, err, logger, "insert snapshot failed", "token_id", t.ID)
		if err == nil {
			logger.Debug("snapshot stored",
				"token_id", t.ID,
				"token", t.Key(),
				"price_usd", m.PriceUSD,
				"holders", m.Holders,
				"sources", report.Succeeded,
			)
		}
	}
	res.FinishedAt = e.now()
	return res
}

// RecomputeAnalytics recomputes every agent's metrics and every post's
// quality score from the full activity history and overwrites them.
func (e *Engine) RecomputeAnalytics(ctx context.Context) JobResult {
	res := JobResult{Job: JobAnalytics, StartedAt: e.now()}
	logger := e.logger.With("job", JobAnalytics)

	ds, err := e.loadDataset(ctx)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	out := analytics.Compute(ds, res.StartedAt, e.cfg.GrowthWindowDays)

	itemCtx := context.WithoutCancel(ctx)
	for _, p := range ds.Posts {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		err := e.store.UpdatePostQuality(itemCtx, p.ID, out.PostQuality[p.ID])
		e.itemDone(&res, err, logger, "update post quality failed", "post_id", p.ID)
	}
	for _, id := range ds.AgentIDs {
		if res.Canceled || ctx.Err() != nil {
			res.Canceled = true
			break
		}
		err := e.store.UpsertAgentMetrics(itemCtx, out.Agents[id])
		e.itemDone(&res, err, logger, "upsert agent metrics failed", "agent_id", id)
	}
	logger.Debug("analytics computed", "agents", len(out.Agents), "platform_mean", out.PlatformMean)
	res.FinishedAt = e.now()
	return res
}

func (e *Engine) loadDataset(ctx context.Context) (analytics.Dataset, error) {
	var ds analytics.Dataset
	var err error
	if ds.AgentIDs, err = e.store.ListAgents(ctx); err != nil {
		return ds, fmt.Errorf("list agents: %w", err)
	}
	if ds.Posts, err = e.store.ListPosts(ctx); err != nil {
		return ds, fmt.Errorf("list posts: %w", err)
	}
	if ds.Comments, err = e.store.ListComments(ctx); err != nil {
		return ds, fmt.Errorf("list comments: %w", err)
	}
	if ds.Reactions, err = e.store.ListReactions(ctx); err != nil {
		return ds, fmt.Errorf("list reactions: %w", err)
	}
	return ds, nil
}

// RecomputeSignals recomputes and overwrites the signal score of every agent
// with a verified on-chain identity.
func (e *Engine) RecomputeSignals(ctx context.Context) JobResult {
	res := JobResult{Job: JobSignals, StartedAt: e.now()}
	logger := e.logger.With("job", JobSignals)

	agents, err := e.store.VerifiedAgents(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("list verified agents: %v", err)
		return res
	}

	itemCtx := context.WithoutCancel(ctx)
	for _, id := range agents {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		sc, err := e.scoreAgent(itemCtx, id, res.StartedAt)
		if err == nil {
			err = e.store.UpsertSignalScore(itemCtx, sc)
		}
		e.itemDone(&res, err, logger, "recompute signal failed", "agent_id", id.AgentID)
		if err == nil {
			metrics.SignalScoreDistribution.Observe(sc.Score)
		}
	}
	res.FinishedAt = e.now()
	return res
}

func (e *Engine) scoreAgent(ctx context.Context, id signal.Identity, now time.Time) (signal.Score, error) {
	in := signal.Inputs{AgentID: id.AgentID, Identity: id, Now: now}

	posts, err := e.store.ListAgentPosts(ctx, id.AgentID, now.Add(-buildLookback))
	if err != nil {
		return signal.Score{}, fmt.Errorf("list posts: %w", err)
	}
	in.Posts = posts

	// Missing token, snapshot or analytics all mean "zero points", not failure.
	tok, err := e.store.PrimaryToken(ctx, id.AgentID)
	switch {
	case err == nil:
		sn, err := e.store.LatestSnapshot(ctx, tok.ID)
		if err != nil && !isNotFound(err) {
			return signal.Score{}, fmt.Errorf("latest snapshot: %w", err)
		}
		in.Snapshot = sn
	case !isNotFound(err):
		return signal.Score{}, fmt.Errorf("primary token: %w", err)
	}

	m, err := e.store.GetAgentMetrics(ctx, id.AgentID)
	if err != nil && !isNotFound(err) {
		return signal.Score{}, fmt.Errorf("agent metrics: %w", err)
	}
	in.Metrics = m

	return signal.Compose(in), nil
}
