package signal

import (
	"math"
	"testing"
	"time"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func postsAt(quality float64, ages ...time.Duration) []analytics.Post {
	out := make([]analytics.Post, len(ages))
	for i, a := range ages {
		out[i] = analytics.Post{ID: int64(i + 1), QualityScore: quality, CreatedAt: now.Add(-a)}
	}
	return out
}

func repeat(n int, d time.Duration) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

const day = 24 * time.Hour

func TestMarketCapPoints(t *testing.T) {
	tests := []struct {
		mc   float64
		want float64
	}{
		{-5, 0},
		{0, 0},
		{math.NaN(), 0},
		{500, 1},
		{1e3, 3},
		{9_999, 3},
		{5e4, 6},
		{5e5, 9},
		{5e6, 12},
		{1e7, 15},
		{1e8, 15},
		{1e12, 15},
	}
	for _, tt := range tests {
		if got := MarketCapPoints(tt.mc); got != tt.want {
			t.Errorf("MarketCapPoints(%v) = %v, want %v", tt.mc, got, tt.want)
		}
	}
}

func TestBuildScore(t *testing.T) {
	tests := []struct {
		name  string
		posts []analytics.Post
		want  float64
	}{
		{"no posts", nil, 0},
		{"full cadence quality 80", postsAt(80, append(repeat(5, 2*day), repeat(15, 30*day)...)...), 28},
		{"over cap", postsAt(100, repeat(100, day)...), 30},
		{"old posts ignored", postsAt(100, repeat(10, 120*day)...), 0},
		{"future posts ignored", postsAt(100, repeat(3, -day)...), 0},
		{"half cadence", postsAt(50, append(repeat(2, 3*day), repeat(8, 40*day)...)...), 5 + 4 + 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildScore(tt.posts, now); !near(got, tt.want) {
				t.Errorf("BuildScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenScore(t *testing.T) {
	tests := []struct {
		name string
		m    market.Metrics
		want float64
	}{
		{"empty", market.Metrics{}, 0},
		{"maxed", market.Metrics{MarketCapUSD: 1e9, Holders: 5000, LiquidityUSD: 1e6, Volume24hUSD: 1e6}, 30},
		{"partial", market.Metrics{MarketCapUSD: 2e6, Holders: 500, LiquidityUSD: 50_000, Volume24hUSD: 10_000}, 12 + 3.5 + 2.5 + 0.6},
		{"negative inputs", market.Metrics{MarketCapUSD: -1, Holders: -10, LiquidityUSD: -5, Volume24hUSD: -1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenScore(tt.m); !near(got, tt.want) {
				t.Errorf("TokenScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSocialScore(t *testing.T) {
	tests := []struct {
		name                   string
		rate, audience, growth float64
		want                   float64
	}{
		{"zero", 0, 0, 0, 0},
		{"negative growth is not a penalty", 0.05, 0, -80, 12},
		{"half of everything", 0.025, 50, 25, 6 + 5 + 4},
		{"adversarial", 10, 1e6, 1e6, 30},
		{"nan", math.NaN(), math.NaN(), math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SocialScore(tt.rate, tt.audience, tt.growth); !near(got, tt.want) {
				t.Errorf("SocialScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerificationScore(t *testing.T) {
	tests := []struct {
		id   Identity
		want float64
	}{
		{Identity{}, 0},
		{Identity{OnchainVerified: true}, 5},
		{Identity{OnchainVerified: true, Twitter: "@a"}, 7},
		{Identity{OnchainVerified: true, Twitter: "@a", Github: "a", Website: "https://a.xyz"}, 10},
		{Identity{Github: "a", Website: "https://a.xyz"}, 3},
	}
	for _, tt := range tests {
		if got := VerificationScore(tt.id); got != tt.want {
			t.Errorf("VerificationScore(%+v) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestTotalClampsEachComponent(t *testing.T) {
	tests := []struct {
		name string
		c    Components
		want float64
	}{
		{"all maxed", Components{30, 30, 30, 10}, 100},
		{"one overflow cannot compensate", Components{1000, 0, 0, 0}, 30},
		{"all overflow", Components{1e9, 1e9, 1e9, 1e9}, 100},
		{"negative", Components{-50, 10, -1, 2}, 12},
		{"nan", Components{math.NaN(), 5, 5, 5}, 15},
		{"inf", Components{math.Inf(1), math.Inf(-1), 0, 0}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Total(tt.c)
			if !near(got, tt.want) {
				t.Errorf("Total = %v, want %v", got, tt.want)
			}
			if got < 0 || got > MaxScore {
				t.Errorf("Total = %v out of range", got)
			}
		})
	}
}

// Agent with 20 posts in 90 days (avg quality 80), 5 in the last 7, a $5M
// primary token with 2,000 holders, 6% engagement, audience 40, growth +30%,
// verified identity plus Twitter.
func TestComposeEndToEnd(t *testing.T) {
	in := Inputs{
		AgentID: 42,
		Posts:   postsAt(80, append(repeat(5, 3*day), repeat(15, 45*day)...)...),
		Snapshot: &market.Snapshot{TokenID: 9, Metrics: market.Metrics{
			MarketCapUSD: 5_000_000, Holders: 2_000, LiquidityUSD: 25_000, Volume24hUSD: 25_000,
		}},
		Metrics: &analytics.AgentMetrics{
			AgentID: 42, EngagementRate: 0.06, AudienceScore: 40, GrowthTrend: 30,
		},
		Identity: Identity{AgentID: 42, OnchainVerified: true, Twitter: "@agent"},
		Now:      now,
	}

	s := Compose(in)

	if !near(s.Components.Build, 28) {
		t.Errorf("Build = %v, want 28", s.Components.Build)
	}
	if !near(s.Components.Token, 12+7+1.25+1.5) {
		t.Errorf("Token = %v, want 21.75", s.Components.Token)
	}
	if !near(s.Components.Social, 12+4+4.8) {
		t.Errorf("Social = %v, want 20.8", s.Components.Social)
	}
	if s.Components.Verification != 7 {
		t.Errorf("Verification = %v, want 7", s.Components.Verification)
	}
	if !near(s.Score, 28+21.75+20.8+7) {
		t.Errorf("Score = %v, want 77.55", s.Score)
	}
	if s.AgentID != 42 || !s.ComputedAt.Equal(now) {
		t.Errorf("identity fields = %d %v", s.AgentID, s.ComputedAt)
	}

	// Recomputing with the same inputs is idempotent.
	if again := Compose(in); again != s {
		t.Errorf("Compose not deterministic: %+v vs %+v", again, s)
	}
}

func TestComposeMissingData(t *testing.T) {
	s := Compose(Inputs{AgentID: 1, Now: now, Identity: Identity{OnchainVerified: true}})
	if s.Score != 5 || s.Components.Token != 0 || s.Components.Social != 0 {
		t.Errorf("Compose with no token/metrics = %+v", s)
	}
}
