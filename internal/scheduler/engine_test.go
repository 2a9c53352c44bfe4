package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/config"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/signal"
	"github.com/web3-frozen/agent-signal/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCollector struct {
	mu      sync.Mutex
	metrics map[int64]market.Metrics
	calls   []int64
	onCall  func(n int)
}

func (f *fakeCollector) Collect(_ context.Context, t market.Token) (market.Metrics, market.CollectReport) {
	f.mu.Lock()
	f.calls = append(f.calls, t.ID)
	n := len(f.calls)
	m := f.metrics[t.ID]
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(n)
	}
	return m, market.CollectReport{Succeeded: []string{"fake"}}
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	holders  map[string]string
	acquired []string
	released []string
}

func (l *fakeLocker) Acquire(_ context.Context, name string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, name)
	return !l.held, l.err
}

func (l *fakeLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, name)
	return nil
}

func (l *fakeLocker) Holder(_ context.Context, name string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return l.holders[name], nil
}

func (l *fakeLocker) acquisitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquired)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(s *memory.Store, c Collector, l Locker) (*Engine, *[]time.Duration) {
	e := NewEngine(s, c, l, discardLogger(), Config{PacingDelay: 2 * time.Second, GrowthWindowDays: 7})
	e.now = func() time.Time { return fixedNow }
	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return e, &sleeps
}

func seedTokens(t *testing.T, s *memory.Store, n int) []market.Token {
	t.Helper()
	ctx := context.Background()
	agentID, err := s.CreateAgent(ctx, "owner", signal.Identity{OnchainVerified: true})
	if err != nil {
		t.Fatal(err)
	}
	var out []market.Token
	for i := 0; i < n; i++ {
		tok := &market.Token{AgentID: agentID, Chain: "base", Address: string(rune('a'+i)) + "0x", IsPrimary: i == 0}
		if err := s.CreateToken(ctx, tok); err != nil {
			t.Fatal(err)
		}
		out = append(out, *tok)
	}
	return out
}

func TestRefreshSnapshotsPacesAndStores(t *testing.T) {
	s := memory.New()
	tokens := seedTokens(t, s, 3)
	c := &fakeCollector{metrics: map[int64]market.Metrics{
		tokens[0].ID: {PriceUSD: 2, MarketCapUSD: 2_000_000, Holders: 500},
	}}
	e, sleeps := newTestEngine(s, c, nil)

	res := e.RefreshSnapshots(context.Background())

	if res.Processed != 3 || res.Failed != 0 || res.Status() != "ok" {
		t.Errorf("result = %+v", res)
	}
	if len(*sleeps) != 2 {
		t.Errorf("pacing sleeps = %d, want 2 (between tokens only)", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != 2*time.Second {
			t.Errorf("pacing delay = %v, want 2s", d)
		}
	}

	snaps := s.Snapshots(tokens[0].ID)
	if len(snaps) != 1 || snaps[0].PriceUSD != 2 || !snaps[0].CapturedAt.Equal(fixedNow) {
		t.Errorf("snapshots = %+v", snaps)
	}
	// A token nobody can price still gets an all-zero snapshot.
	if zero := s.Snapshots(tokens[2].ID); len(zero) != 1 || zero[0].Metrics != (market.Metrics{}) {
		t.Errorf("unpriced token snapshots = %+v", zero)
	}
}

func TestRefreshSnapshotsContinuesPastFailure(t *testing.T) {
	s := memory.New()
	tokens := seedTokens(t, s, 3)
	s.FailInsert[tokens[1].ID] = errors.New("disk full")
	e, _ := newTestEngine(s, &fakeCollector{}, nil)

	res := e.RefreshSnapshots(context.Background())

	if res.Processed != 2 || res.Failed != 1 || res.Status() != "partial" {
		t.Errorf("result = %+v", res)
	}
	if len(s.Snapshots(tokens[2].ID)) != 1 {
		t.Error("token after the failing one was not processed")
	}
}

func TestRefreshSnapshotsCancelsBetweenItems(t *testing.T) {
	s := memory.New()
	seedTokens(t, s, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &fakeCollector{onCall: func(n int) {
		if n == 2 {
			cancel() // mid-item: this item must still be stored
		}
	}}
	e, _ := newTestEngine(s, c, nil)

	res := e.RefreshSnapshots(ctx)

	if !res.Canceled || res.Processed != 2 {
		t.Errorf("result = %+v, want canceled after 2 items", res)
	}
	if len(c.calls) != 2 {
		t.Errorf("collector calls = %d, want 2", len(c.calls))
	}
}

func seedActivity(t *testing.T, s *memory.Store) (author, fan int64) {
	t.Helper()
	ctx := context.Background()
	author, _ = s.CreateAgent(ctx, "author", signal.Identity{OnchainVerified: true, Twitter: "@author"})
	fan, _ = s.CreateAgent(ctx, "fan", signal.Identity{})

	for i := 0; i < 6; i++ {
		p := &analytics.Post{AgentID: author, Impressions: 100, CreatedAt: fixedNow.Add(-time.Duration(i+1) * 24 * time.Hour)}
		if err := s.CreatePost(ctx, p, "post"); err != nil {
			t.Fatal(err)
		}
		_ = s.AddReaction(ctx, analytics.Reaction{PostID: p.ID, AgentID: fan, Kind: "fire"})
		_ = s.AddComment(ctx, &analytics.Comment{PostID: p.ID, AgentID: fan, Content: "great thread"})
	}
	fp := &analytics.Post{AgentID: fan, Impressions: 50, CreatedAt: fixedNow.Add(-time.Hour)}
	_ = s.CreatePost(ctx, fp, "")
	_ = s.AddReaction(ctx, analytics.Reaction{PostID: fp.ID, AgentID: author, Kind: "upvote"})

	tok := &market.Token{AgentID: author, Chain: "base", Address: "0xabc", IsPrimary: true}
	_ = s.CreateToken(ctx, tok)
	_ = s.InsertSnapshot(ctx, &market.Snapshot{TokenID: tok.ID, Metrics: market.Metrics{MarketCapUSD: 5e6, Holders: 2000}, CapturedAt: fixedNow})
	return author, fan
}

func TestRecomputeAnalytics(t *testing.T) {
	s := memory.New()
	author, fan := seedActivity(t, s)
	e, _ := newTestEngine(s, &fakeCollector{}, nil)

	res := e.RecomputeAnalytics(context.Background())
	if res.Status() != "ok" || res.Processed != 7+2 {
		t.Fatalf("result = %+v", res)
	}

	ctx := context.Background()
	m, err := s.GetAgentMetrics(ctx, author)
	if err != nil {
		t.Fatal(err)
	}
	if m.EngagementRate != 0.02 || m.TotalPosts != 6 {
		t.Errorf("author metrics = %+v", m)
	}
	// fan's own rate is 1/50 = 2% => audience 20
	if math.Abs(m.AudienceScore-20) > 1e-9 {
		t.Errorf("author audience = %v, want 20", m.AudienceScore)
	}
	if _, err := s.GetAgentMetrics(ctx, fan); err != nil {
		t.Errorf("fan metrics missing: %v", err)
	}

	posts, _ := s.ListAgentPosts(ctx, author, time.Time{})
	for _, p := range posts {
		if p.QualityScore <= 0 {
			t.Errorf("post %d quality not stored", p.ID)
		}
	}
}

func TestRecomputeSignalsIsIdempotent(t *testing.T) {
	s := memory.New()
	author, fan := seedActivity(t, s)
	e, _ := newTestEngine(s, &fakeCollector{}, nil)
	ctx := context.Background()

	e.RecomputeAnalytics(ctx)
	first := e.RecomputeSignals(ctx)
	if first.Processed != 1 || first.Failed != 0 {
		t.Fatalf("first run = %+v", first)
	}
	a, err := s.GetSignalScore(ctx, author)
	if err != nil {
		t.Fatal(err)
	}

	e.RecomputeSignals(ctx)
	b, _ := s.GetSignalScore(ctx, author)
	if *a != *b {
		t.Errorf("second run changed score: %+v vs %+v", a, b)
	}
	if a.Score <= 0 || a.Score > 100 {
		t.Errorf("score out of range: %v", a.Score)
	}
	if a.Components.Verification != 7 {
		t.Errorf("verification = %v, want 7", a.Components.Verification)
	}
	if a.Components.Token < 19 {
		t.Errorf("token = %v, want >= 19 for $5M cap and 2000 holders", a.Components.Token)
	}

	if _, err := s.GetSignalScore(ctx, fan); err == nil {
		t.Error("unverified agent was scored")
	}
}

func TestRunJobLease(t *testing.T) {
	s := memory.New()
	seedTokens(t, s, 1)

	t.Run("held elsewhere skips", func(t *testing.T) {
		l := &fakeLocker{held: true}
		e, _ := newTestEngine(s, &fakeCollector{}, l)
		res, err := e.RunJob(context.Background(), JobSnapshots)
		if err != nil || !res.Skipped {
			t.Errorf("RunJob = %+v, %v; want skipped", res, err)
		}
		if len(l.released) != 0 {
			t.Error("released a lease it never held")
		}
	})

	t.Run("acquired then released", func(t *testing.T) {
		l := &fakeLocker{}
		e, _ := newTestEngine(s, &fakeCollector{}, l)
		res, err := e.RunJob(context.Background(), JobSnapshots)
		if err != nil || res.Skipped || res.Processed != 1 {
			t.Errorf("RunJob = %+v, %v", res, err)
		}
		if len(l.released) != 1 || l.released[0] != JobSnapshots {
			t.Errorf("released = %v", l.released)
		}
	})

	t.Run("redis down runs anyway", func(t *testing.T) {
		l := &fakeLocker{err: errors.New("connection refused")}
		e, _ := newTestEngine(s, &fakeCollector{}, l)
		res, _ := e.RunJob(context.Background(), JobSnapshots)
		if res.Skipped || res.Processed != 1 {
			t.Errorf("RunJob = %+v, want run without lease", res)
		}
	})
}

func TestRunJobExtendsLeaseDuringLongRun(t *testing.T) {
	s := memory.New()
	seedTokens(t, s, 1)
	l := &fakeLocker{}
	c := &fakeCollector{onCall: func(int) { time.Sleep(80 * time.Millisecond) }}
	e := NewEngine(s, c, l, discardLogger(), Config{LeaseTTL: 30 * time.Millisecond})

	res, err := e.RunJob(context.Background(), JobSnapshots)
	if err != nil || res.Processed != 1 {
		t.Fatalf("RunJob = %+v, %v", res, err)
	}
	after := l.acquisitions()
	if after < 2 {
		t.Errorf("acquisitions = %d, want the initial one plus renewals", after)
	}

	time.Sleep(50 * time.Millisecond)
	if got := l.acquisitions(); got != after {
		t.Errorf("lease renewed after the job finished: %d -> %d", after, got)
	}
	if len(l.released) != 1 {
		t.Errorf("released = %v", l.released)
	}
}

func TestLeaseHolders(t *testing.T) {
	ctx := context.Background()

	e, _ := newTestEngine(memory.New(), &fakeCollector{}, nil)
	if got := e.LeaseHolders(ctx); len(got) != 0 {
		t.Errorf("without locker = %v, want empty", got)
	}

	l := &fakeLocker{holders: map[string]string{JobSignals: "replica-a"}}
	e, _ = newTestEngine(memory.New(), &fakeCollector{}, l)
	got := e.LeaseHolders(ctx)
	if len(got) != len(Jobs) || got[JobSignals] != "replica-a" || got[JobSnapshots] != "" {
		t.Errorf("LeaseHolders = %v", got)
	}

	l.err = errors.New("connection refused")
	if got := e.LeaseHolders(ctx); len(got) != 0 {
		t.Errorf("redis down = %v, want empty", got)
	}
}

func TestRunJobUnknownAndStatus(t *testing.T) {
	e, _ := newTestEngine(memory.New(), &fakeCollector{}, nil)

	if _, err := e.RunJob(context.Background(), "reindex"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}

	for _, job := range Jobs {
		if _, err := e.RunJob(context.Background(), job); err != nil {
			t.Fatalf("RunJob(%s): %v", job, err)
		}
	}
	status := e.Status()
	if len(status) != 3 || status[0].Job != JobAnalytics || status[2].Job != JobSnapshots {
		t.Errorf("Status = %+v", status)
	}
}

func TestRunJobInProcessGuard(t *testing.T) {
	s := memory.New()
	seedTokens(t, s, 1)

	var e *Engine
	var nested JobResult
	c := &fakeCollector{onCall: func(int) {
		nested, _ = e.RunJob(context.Background(), JobSnapshots)
	}}
	e, _ = newTestEngine(s, c, nil)

	outer, _ := e.RunJob(context.Background(), JobSnapshots)
	if !nested.Skipped {
		t.Errorf("overlapping run not skipped: %+v", nested)
	}
	if outer.Processed != 1 {
		t.Errorf("outer = %+v", outer)
	}
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.Config{
		SnapshotInterval: 15 * time.Minute,
		PacingDelay:      time.Second,
		GrowthWindowDays: 14,
		LeaseTTL:         5 * time.Minute,
	})
	want := Config{SnapshotInterval: 15 * time.Minute, PacingDelay: time.Second, GrowthWindowDays: 14, LeaseTTL: 5 * time.Minute}
	if got != want {
		t.Errorf("ConfigFrom = %+v, want %+v", got, want)
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx canceled = %v", err)
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx = %v", err)
	}
}
