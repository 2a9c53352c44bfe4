package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/agent-signal/internal/metrics"
	"github.com/web3-frozen/agent-signal/internal/ratelimit"
)

const (
	defaultFetchTimeout = 10 * time.Second
	divergenceWarn      = 0.25 // 25%
)

// HolderHistory looks up the most recent positive holder count for a token.
// Implementations return 0, nil when there is none.
type HolderHistory interface {
	LastPositiveHolders(ctx context.Context, tokenID int64) (int64, error)
}

// CollectReport describes how a merged record was assembled.
type CollectReport struct {
	Succeeded      []string          `json:"succeeded"`
	Failed         map[string]string `json:"failed,omitempty"`
	Origins        map[string]string `json:"origins"`
	CarriedHolders bool              `json:"carried_holders"`
}

// Collector fans a token out to every supporting source, then merges the
// partial results in registration order.
type Collector struct {
	sources  []Source
	breakers map[string]*gobreaker.CircuitBreaker
	history  HolderHistory
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCollector registers sources in priority order (first = highest).
func NewCollector(history HolderHistory, logger *slog.Logger, timeout time.Duration, sources ...Source) *Collector {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	c := &Collector{
		history:  history,
		timeout:  timeout,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(sources)),
	}
	for _, src := range sources {
		c.Register(src)
	}
	return c
}

// Register appends a source at the lowest priority.
func (c *Collector) Register(src Source) {
	c.sources = append(c.sources, src)
	c.breakers[src.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        src.Name(),
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("source breaker state change", "source", name, "from", from.String(), "to", to.String())
			metrics.BreakerOpen.WithLabelValues(name).Set(boolGauge(to == gobreaker.StateOpen))
		},
	})
	c.logger.Info("registered source", "source", src.Name(), "priority", len(c.sources))
}

// SourceNames returns registered source names in priority order.
func (c *Collector) SourceNames() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Collect fetches and merges metrics for a token. Source failures are logged
// and reported, never returned: a token nobody can price yields zero metrics.
func (c *Collector) Collect(ctx context.Context, t Token) (Metrics, CollectReport) {
	report := CollectReport{Failed: make(map[string]string)}

	results := make([]*Partial, len(c.sources))
	errs := make([]error, len(c.sources))

	var g errgroup.Group
	for i, src := range c.sources {
		if !src.Supports(t) {
			continue
		}
		i, src := i, src // per-iteration copies (go directive is 1.21)
		g.Go(func() error {
			results[i], errs[i] = c.fetchOne(ctx, src, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range c.sources {
		switch {
		case errs[i] != nil:
			report.Failed[src.Name()] = errs[i].Error()
			c.logger.Warn("source fetch failed", "source", src.Name(), "token", t.Key(), "error", errs[i])
		case results[i] != nil:
			results[i].Source = src.Name()
			report.Succeeded = append(report.Succeeded, src.Name())
		}
	}

	merged, origins := mergeWithOrigins(results)
	report.Origins = origins
	c.checkDivergence(t, results)

	if merged.Holders == 0 && c.history != nil && t.ID != 0 {
		prev, err := c.history.LastPositiveHolders(ctx, t.ID)
		if err != nil {
			c.logger.Warn("holder carry-forward lookup failed", "token_id", t.ID, "error", err)
		} else if prev > 0 {
			merged.Holders = prev
			report.CarriedHolders = true
			origins["holders"] = "history"
		}
	}

	return merged, report
}

func (c *Collector) fetchOne(ctx context.Context, src Source, t Token) (p *Partial, err error) {
	start := time.Now()
	name := src.Name()
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("source %s panicked: %v", name, r)
		}
		metrics.AdapterFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.AdapterFetchTotal.WithLabelValues(name, fetchStatus(err)).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breakers[name].Execute(func() (interface{}, error) {
		return src.Fetch(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	p, _ = out.(*Partial)
	return p, nil
}

func (c *Collector) checkDivergence(t Token, results []*Partial) {
	checks := []struct {
		name string
		get  func(Metrics) float64
	}{
		{"price_usd", func(m Metrics) float64 { return m.PriceUSD }},
		{"market_cap_usd", func(m Metrics) float64 { return m.MarketCapUSD }},
	}
	for _, chk := range checks {
		if d := divergence(results, chk.get); d > divergenceWarn {
			metrics.SourceDivergenceTotal.WithLabelValues(chk.name).Inc()
			c.logger.Warn("sources disagree", "token", t.Key(), "field", chk.name, "spread_pct", d*100)
		}
	}
}

func fetchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return ratelimit.ClassifyError(err)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
