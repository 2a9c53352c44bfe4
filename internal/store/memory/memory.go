// Package memory is an in-process implementation of the store contracts,
// used by the scheduler and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/signal"
	"github.com/web3-frozen/agent-signal/internal/store"
)

type agent struct {
	handle   string
	identity signal.Identity
}

type token struct {
	market.Token
	deleted bool
}

type Store struct {
	mu sync.RWMutex

	nextID    int64
	agents    map[int64]*agent
	tokens    map[int64]*token
	snapshots []market.Snapshot
	posts     map[int64]*analytics.Post
	comments  []analytics.Comment
	reactions map[analytics.Reaction]struct{}
	metrics   map[int64]analytics.AgentMetrics
	scores    map[int64]signal.Score

	// FailInsert, when set, is returned by InsertSnapshot for the given token.
	FailInsert map[int64]error
}

func New() *Store {
	return &Store{
		agents:     make(map[int64]*agent),
		tokens:     make(map[int64]*token),
		posts:      make(map[int64]*analytics.Post),
		reactions:  make(map[analytics.Reaction]struct{}),
		metrics:    make(map[int64]analytics.AgentMetrics),
		scores:     make(map[int64]signal.Score),
		FailInsert: make(map[int64]error),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(context.Context) error { return nil }

// --- Agents & identity ---

func (s *Store) CreateAgent(_ context.Context, handle string, id signal.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.handle == handle {
			return 0, fmt.Errorf("%w: agent %s", store.ErrConflict, handle)
		}
	}
	id.AgentID = s.id()
	s.agents[id.AgentID] = &agent{handle: handle, identity: id}
	return id.AgentID, nil
}

func (s *Store) ListAgents(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) VerifiedAgents(context.Context) ([]signal.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []signal.Identity
	for _, a := range s.agents {
		if a.identity.OnchainVerified {
			out = append(out, a.identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *Store) AgentIdentity(_ context.Context, agentID int64) (*signal.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	id := a.identity
	return &id, nil
}

// --- Tokens ---

func (s *Store) CreateToken(_ context.Context, t *market.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[t.AgentID]; !ok {
		return fmt.Errorf("%w: agent %d", store.ErrNotFound, t.AgentID)
	}
	t.Chain = strings.ToLower(t.Chain)
	t.Address = strings.ToLower(t.Address)
	for _, existing := range s.tokens {
		if !existing.deleted && existing.Key() == t.Key() {
			return fmt.Errorf("%w: token %s", store.ErrConflict, t.Key())
		}
	}
	if t.IsPrimary {
		s.clearPrimary(t.AgentID)
	}
	t.ID = s.id()
	t.CreatedAt = time.Now().UTC()
	s.tokens[t.ID] = &token{Token: *t}
	return nil
}

func (s *Store) clearPrimary(agentID int64) {
	for _, tok := range s.tokens {
		if tok.AgentID == agentID {
			tok.IsPrimary = false
		}
	}
}

func (s *Store) GetToken(_ context.Context, id int64) (*market.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[id]
	if !ok || tok.deleted {
		return nil, store.ErrNotFound
	}
	t := tok.Token
	return &t, nil
}

func (s *Store) ListLinkedTokens(context.Context) ([]market.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Token
	for _, tok := range s.tokens {
		if !tok.deleted {
			out = append(out, tok.Token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PrimaryToken(_ context.Context, agentID int64) (*market.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tok := range s.tokens {
		if tok.AgentID == agentID && tok.IsPrimary && !tok.deleted {
			t := tok.Token
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetPrimaryToken(_ context.Context, agentID, tokenID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenID]
	if !ok || tok.deleted || tok.AgentID != agentID {
		return store.ErrNotFound
	}
	s.clearPrimary(agentID)
	tok.IsPrimary = true
	return nil
}

func (s *Store) DeleteToken(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.deleted {
		return store.ErrNotFound
	}
	tok.deleted = true
	tok.IsPrimary = false
	return nil
}

// --- Token snapshots ---

func (s *Store) InsertSnapshot(_ context.Context, sn *market.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailInsert[sn.TokenID]; err != nil {
		return err
	}
	if sn.CapturedAt.IsZero() {
		sn.CapturedAt = time.Now().UTC()
	}
	sn.ID = s.id()
	s.snapshots = append(s.snapshots, *sn)
	return nil
}

// Snapshots returns every stored snapshot for a token in insertion order,
// including those of deleted tokens.
func (s *Store) Snapshots(tokenID int64) []market.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Snapshot
	for _, sn := range s.snapshots {
		if sn.TokenID == tokenID {
			out = append(out, sn)
		}
	}
	return out
}

func (s *Store) live(tokenID int64) bool {
	tok, ok := s.tokens[tokenID]
	return ok && !tok.deleted
}

func (s *Store) LatestSnapshot(_ context.Context, tokenID int64) (*market.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.live(tokenID) {
		return nil, store.ErrNotFound
	}
	var best *market.Snapshot
	for i := range s.snapshots {
		sn := &s.snapshots[i]
		if sn.TokenID != tokenID {
			continue
		}
		if best == nil || !sn.CapturedAt.Before(best.CapturedAt) {
			best = sn
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *Store) SnapshotHistory(_ context.Context, tokenID int64, from, to time.Time) ([]market.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.live(tokenID) {
		return nil, nil
	}
	var out []market.Snapshot
	for _, sn := range s.snapshots {
		if sn.TokenID == tokenID && !sn.CapturedAt.Before(from) && !sn.CapturedAt.After(to) {
			out = append(out, sn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func (s *Store) LastPositiveHolders(_ context.Context, tokenID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var holders int64
	var at time.Time
	for _, sn := range s.snapshots {
		if sn.TokenID == tokenID && sn.Holders > 0 && !sn.CapturedAt.Before(at) {
			holders, at = sn.Holders, sn.CapturedAt
		}
	}
	return holders, nil
}

// --- Activity ---

func (s *Store) CreatePost(_ context.Context, p *analytics.Post, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.ID = s.id()
	cp := *p
	s.posts[p.ID] = &cp
	return nil
}

func (s *Store) ListPosts(context.Context) ([]analytics.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterPosts(func(*analytics.Post) bool { return true }), nil
}

func (s *Store) ListAgentPosts(_ context.Context, agentID int64, since time.Time) ([]analytics.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterPosts(func(p *analytics.Post) bool {
		return p.AgentID == agentID && !p.CreatedAt.Before(since)
	}), nil
}

func (s *Store) filterPosts(keep func(*analytics.Post) bool) []analytics.Post {
	var out []analytics.Post
	for _, p := range s.posts {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AddComment(_ context.Context, c *analytics.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[c.PostID]
	if !ok {
		return store.ErrNotFound
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ID = s.id()
	s.comments = append(s.comments, *c)
	p.CommentCount++
	return nil
}

func (s *Store) AddReaction(_ context.Context, r analytics.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := analytics.KindIndex(r.Kind)
	if !ok {
		return fmt.Errorf("unknown reaction kind %q", r.Kind)
	}
	p, ok := s.posts[r.PostID]
	if !ok {
		return store.ErrNotFound
	}
	key := analytics.Reaction{PostID: r.PostID, AgentID: r.AgentID, Kind: r.Kind}
	if _, dup := s.reactions[key]; dup {
		return nil
	}
	s.reactions[key] = struct{}{}
	p.Reactions[idx]++
	return nil
}

func (s *Store) ListComments(context.Context) ([]analytics.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]analytics.Comment(nil), s.comments...), nil
}

func (s *Store) ListReactions(context.Context) ([]analytics.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analytics.Reaction, 0, len(s.reactions))
	for r := range s.reactions {
		out = append(out, r)
	}
	return out, nil
}

// --- Derived ---

func (s *Store) UpdatePostQuality(_ context.Context, postID int64, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[postID]; ok {
		p.QualityScore = score
	}
	return nil
}

func (s *Store) UpsertAgentMetrics(_ context.Context, m analytics.AgentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.AgentID] = m
	return nil
}

func (s *Store) GetAgentMetrics(_ context.Context, agentID int64) (*analytics.AgentMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) UpsertSignalScore(_ context.Context, sc signal.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[sc.AgentID] = sc
	return nil
}

func (s *Store) GetSignalScore(_ context.Context, agentID int64) (*signal.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sc, nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]signal.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Score, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
