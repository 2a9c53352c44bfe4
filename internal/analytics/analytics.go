// Package analytics derives engagement metrics from raw activity records.
// Every function here is pure; the scheduler feeds it whole-platform
// datasets and persists the results, which are a cache of this computation.
package analytics

import (
	"math"
	"time"
	"unicode/utf8"
)

const NumReactionKinds = 5

// ReactionKinds are the independent per-post reaction counters, in the order
// they are stored in Post.Reactions.
var ReactionKinds = [NumReactionKinds]string{"upvote", "fire", "insightful", "bullish", "funny"}

// KindIndex returns the Post.Reactions slot for a reaction kind.
func KindIndex(kind string) (int, bool) {
	for i, k := range ReactionKinds {
		if k == kind {
			return i, true
		}
	}
	return 0, false
}

type Post struct {
	ID           int64                   `json:"id"`
	AgentID      int64                   `json:"agent_id"`
	Impressions  int64                   `json:"impressions"`
	Reactions    [NumReactionKinds]int64 `json:"reactions"`
	CommentCount int64                   `json:"comment_count"`
	Tags         []string                `json:"tags,omitempty"`
	QualityScore float64                 `json:"quality_score"`
	CreatedAt    time.Time               `json:"created_at"`
}

type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	AgentID   int64     `json:"agent_id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Reaction struct {
	PostID    int64     `json:"post_id"`
	AgentID   int64     `json:"agent_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentMetrics is the denormalized per-agent analytics row.
type AgentMetrics struct {
	AgentID             int64     `json:"agent_id"`
	EngagementRate      float64   `json:"engagement_rate"`
	GrowthTrend         float64   `json:"growth_trend"`
	AudienceScore       float64   `json:"audience_score"`
	RelativePerformance float64   `json:"relative_performance"`
	TotalPosts          int64     `json:"total_posts"`
	TotalImpressions    int64     `json:"total_impressions"`
	TotalReactions      int64     `json:"total_reactions"`
	TotalComments       int64     `json:"total_comments"`
	ComputedAt          time.Time `json:"computed_at"`
}

// Engagements is the sum of all reaction counters plus the comment count.
func (p Post) Engagements() int64 {
	var n int64
	for _, r := range p.Reactions {
		n += nonNeg(r)
	}
	return n + nonNeg(p.CommentCount)
}

// PostEngagementRate is engagements / impressions, 0 without impressions.
func PostEngagementRate(p Post) float64 {
	if p.Impressions <= 0 {
		return 0
	}
	return float64(p.Engagements()) / float64(p.Impressions)
}

// AgentEngagementRate pools numerators and impressions across posts rather
// than averaging per-post rates. Engagement on a post without impressions
// still counts toward the numerator.
func AgentEngagementRate(posts []Post) float64 {
	var num, imp int64
	for _, p := range posts {
		num += p.Engagements()
		imp += nonNeg(p.Impressions)
	}
	if imp == 0 {
		return 0
	}
	return float64(num) / float64(imp)
}

// GrowthTrend is the percentage change in engagement rate between
// [now-N, now) and [now-2N, now-N), N = windowDays.
func GrowthTrend(posts []Post, now time.Time, windowDays int) float64 {
	if windowDays <= 0 {
		return 0
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	curStart := now.Add(-window)
	prevStart := curStart.Add(-window)

	var cur, prev []Post
	for _, p := range posts {
		switch {
		case !p.CreatedAt.Before(curStart) && p.CreatedAt.Before(now):
			cur = append(cur, p)
		case !p.CreatedAt.Before(prevStart) && p.CreatedAt.Before(curStart):
			prev = append(prev, p)
		}
	}

	curRate := AgentEngagementRate(cur)
	prevRate := AgentEngagementRate(prev)
	if prevRate == 0 {
		if curRate > 0 {
			return 100
		}
		return 0
	}
	return (curRate - prevRate) / prevRate * 100
}

// QualityScore rates one post 0-100 from reaction diversity and the shape of
// its discussion. comments must all belong to p.
func QualityScore(p Post, comments []Comment) float64 {
	var kinds int
	for _, r := range p.Reactions {
		if r > 0 {
			kinds++
		}
	}
	score := 30 * float64(kinds) / NumReactionKinds

	if len(comments) == 0 {
		return score
	}

	var replies, chars int
	commenters := make(map[int64]struct{}, len(comments))
	for _, c := range comments {
		if c.ParentID != nil {
			replies++
		}
		commenters[c.AgentID] = struct{}{}
		chars += utf8.RuneCountInString(c.Content)
	}
	n := float64(len(comments))
	score += 30 * float64(replies) / n
	score += 20 * math.Min(float64(len(commenters))/10, 1)
	score += 20 * math.Min(float64(chars)/n/100, 1)
	return clamp(score, 0, 100)
}

// AudienceScore is the mean engagement rate of the distinct engagers,
// scaled x1000 and capped at 100.
func AudienceScore(engagerRates []float64) float64 {
	if len(engagerRates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range engagerRates {
		if r > 0 && !math.IsInf(r, 0) {
			sum += r
		}
	}
	return clamp(sum/float64(len(engagerRates))*1000, 0, 100)
}

// RelativePerformance compares an agent's rate to the platform mean.
func RelativePerformance(agentRate, platformMean float64) float64 {
	if platformMean <= 0 {
		if agentRate > 0 {
			return 2.0
		}
		return 1.0
	}
	return agentRate / platformMean
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
