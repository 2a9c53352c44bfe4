// Package signal composes the bounded 0-100 reputation score for an agent
// from four independently capped sub-scores.
package signal

import (
	"math"
	"time"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
)

const (
	MaxBuild        = 30.0
	MaxToken        = 30.0
	MaxSocial       = 30.0
	MaxVerification = 10.0
	MaxScore        = 100.0
)

const (
	buildWindow  = 90 * 24 * time.Hour
	recentWindow = 7 * 24 * time.Hour

	fullPosts90     = 20
	fullPosts7      = 5
	fullHolders     = 1_000
	fullLiquidity   = 100_000
	fullVolume      = 50_000
	fullEngagement  = 0.05 // 5%
	fullGrowthPct   = 50
	audienceScale   = 100
	maxMarketCapPts = 15
)

// marketCapTiers maps an upper bound (exclusive) to points. A cap at or
// above the last bound earns maxMarketCapPts.
var marketCapTiers = []struct {
	below  float64
	points float64
}{
	{1e3, 1},
	{1e4, 3},
	{1e5, 6},
	{1e6, 9},
	{1e7, 12},
}

// Identity is what an agent has linked and verified.
type Identity struct {
	AgentID         int64  `json:"agent_id"`
	OnchainVerified bool   `json:"onchain_verified"`
	Twitter         string `json:"twitter,omitempty"`
	Github          string `json:"github,omitempty"`
	Website         string `json:"website,omitempty"`
}

type Components struct {
	Build        float64 `json:"build"`
	Token        float64 `json:"token"`
	Social       float64 `json:"social"`
	Verification float64 `json:"verification"`
}

type Score struct {
	AgentID    int64      `json:"agent_id"`
	Score      float64    `json:"score"`
	Components Components `json:"components"`
	ComputedAt time.Time  `json:"computed_at"`
}

// Inputs is everything Compose reads for one agent. Snapshot and Metrics may
// be nil when the agent has no primary token or no analytics yet.
type Inputs struct {
	AgentID  int64
	Posts    []analytics.Post
	Snapshot *market.Snapshot
	Metrics  *analytics.AgentMetrics
	Identity Identity
	Now      time.Time
}

// Compose clamps each sub-score to its own cap before summing, so one
// component can never make up for another's ceiling.
func Compose(in Inputs) Score {
	c := Components{
		Build:        BuildScore(in.Posts, in.Now),
		Verification: VerificationScore(in.Identity),
	}
	if in.Snapshot != nil {
		c.Token = TokenScore(in.Snapshot.Metrics)
	}
	if in.Metrics != nil {
		c.Social = SocialScore(in.Metrics.EngagementRate, in.Metrics.AudienceScore, in.Metrics.GrowthTrend)
	}
	return Score{
		AgentID:    in.AgentID,
		Score:      Total(c),
		Components: c,
		ComputedAt: in.Now,
	}
}

// Total re-clamps every component and the sum.
func Total(c Components) float64 {
	sum := clamp(c.Build, MaxBuild) +
		clamp(c.Token, MaxToken) +
		clamp(c.Social, MaxSocial) +
		clamp(c.Verification, MaxVerification)
	return clamp(sum, MaxScore)
}

// BuildScore rewards steady output over the trailing 90 days, recent output
// over the trailing 7, and mean post quality.
func BuildScore(posts []analytics.Post, now time.Time) float64 {
	var n90, n7 int
	var quality float64
	for _, p := range posts {
		age := now.Sub(p.CreatedAt)
		if age < 0 || age > buildWindow {
			continue
		}
		n90++
		quality += clamp(p.QualityScore, 100)
		if age <= recentWindow {
			n7++
		}
	}
	if n90 == 0 {
		return 0
	}
	score := 10*ratio(float64(n90), fullPosts90) +
		10*ratio(float64(n7), fullPosts7) +
		10*ratio(quality/float64(n90), 100)
	return clamp(score, MaxBuild)
}

// TokenScore scores the latest snapshot of the agent's primary token.
func TokenScore(m market.Metrics) float64 {
	score := MarketCapPoints(m.MarketCapUSD) +
		7*ratio(float64(m.Holders), fullHolders) +
		5*ratio(m.LiquidityUSD, fullLiquidity) +
		3*ratio(m.Volume24hUSD, fullVolume)
	return clamp(score, MaxToken)
}

// MarketCapPoints returns the tier points for a market cap in USD.
func MarketCapPoints(mc float64) float64 {
	if mc <= 0 || math.IsNaN(mc) {
		return 0
	}
	for _, tier := range marketCapTiers {
		if mc < tier.below {
			return tier.points
		}
	}
	return maxMarketCapPts
}

// SocialScore takes engagement as a fraction (0.05 = 5%), audience on a
// 0-100 scale and growth in percent. Negative growth contributes nothing.
func SocialScore(engagementRate, audience, growthPct float64) float64 {
	score := 12*ratio(engagementRate, fullEngagement) +
		10*ratio(audience, audienceScale) +
		8*ratio(growthPct, fullGrowthPct)
	return clamp(score, MaxSocial)
}

func VerificationScore(id Identity) float64 {
	var score float64
	if id.OnchainVerified {
		score += 5
	}
	if id.Twitter != "" {
		score += 2
	}
	if id.Github != "" {
		score += 2
	}
	if id.Website != "" {
		score += 1
	}
	return score
}

// ratio is v/full limited to [0, 1].
func ratio(v, full float64) float64 {
	if full <= 0 {
		return 0
	}
	return clamp(v/full, 1)
}

func clamp(v, hi float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
