package analytics

import "time"

// Dataset is the full activity history a recompute runs over.
type Dataset struct {
	AgentIDs  []int64
	Posts     []Post
	Comments  []Comment
	Reactions []Reaction
}

// Result holds everything one recompute produces.
type Result struct {
	Agents       map[int64]AgentMetrics
	PostQuality  map[int64]float64
	PlatformMean float64
}

// Compute recomputes every agent's metrics and every post's quality score
// from scratch. Agents listed in ds.AgentIDs without posts still receive a
// (zero) row so stale values get overwritten.
func Compute(ds Dataset, now time.Time, windowDays int) Result {
	postsByAgent := make(map[int64][]Post)
	postOwner := make(map[int64]int64, len(ds.Posts))
	for _, p := range ds.Posts {
		postsByAgent[p.AgentID] = append(postsByAgent[p.AgentID], p)
		postOwner[p.ID] = p.AgentID
	}

	commentsByPost := make(map[int64][]Comment)
	for _, c := range ds.Comments {
		commentsByPost[c.PostID] = append(commentsByPost[c.PostID], c)
	}

	quality := make(map[int64]float64, len(ds.Posts))
	for _, p := range ds.Posts {
		quality[p.ID] = QualityScore(p, commentsByPost[p.ID])
	}

	rates := make(map[int64]float64, len(postsByAgent))
	var sum float64
	for agentID, posts := range postsByAgent {
		r := AgentEngagementRate(posts)
		rates[agentID] = r
		sum += r
	}
	var mean float64
	if len(rates) > 0 {
		mean = sum / float64(len(rates))
	}

	engagers := audienceOf(ds, postOwner)

	agents := make(map[int64]AgentMetrics, len(ds.AgentIDs))
	ids := ds.AgentIDs
	if len(ids) == 0 {
		for id := range postsByAgent {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		posts := postsByAgent[id]
		m := AgentMetrics{
			AgentID:        id,
			EngagementRate: rates[id],
			GrowthTrend:    GrowthTrend(posts, now, windowDays),
			ComputedAt:     now,
		}
		m.RelativePerformance = RelativePerformance(m.EngagementRate, mean)

		audience := make([]float64, 0, len(engagers[id]))
		for e := range engagers[id] {
			audience = append(audience, rates[e])
		}
		m.AudienceScore = AudienceScore(audience)

		for _, p := range posts {
			m.TotalPosts++
			m.TotalImpressions += nonNeg(p.Impressions)
			m.TotalComments += nonNeg(p.CommentCount)
			for _, r := range p.Reactions {
				m.TotalReactions += nonNeg(r)
			}
		}
		agents[id] = m
	}

	return Result{Agents: agents, PostQuality: quality, PlatformMean: mean}
}

// audienceOf maps each post author to the distinct agents that reacted to or
// commented on their posts, excluding the author.
func audienceOf(ds Dataset, postOwner map[int64]int64) map[int64]map[int64]struct{} {
	out := make(map[int64]map[int64]struct{})
	add := func(postID, engager int64) {
		owner, ok := postOwner[postID]
		if !ok || owner == engager {
			return
		}
		set, ok := out[owner]
		if !ok {
			set = make(map[int64]struct{})
			out[owner] = set
		}
		set[engager] = struct{}{}
	}
	for _, r := range ds.Reactions {
		add(r.PostID, r.AgentID)
	}
	for _, c := range ds.Comments {
		add(c.PostID, c.AgentID)
	}
	return out
}
