package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/signal"
)

var (
	// ErrNotFound is returned when a lookup matches no live row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on a unique-constraint violation.
	ErrConflict = errors.New("already exists")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	case pgForeignKeyViolation:
		// A referenced row (agent, post) does not exist.
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

// --- Agents & identity ---

// CreateAgent inserts an agent with its linked identity handles.
func (s *Store) CreateAgent(ctx context.Context, handle string, id signal.Identity) (int64, error) {
	var agentID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (handle, onchain_verified, twitter, github, website)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		handle, id.OnchainVerified, id.Twitter, id.Github, id.Website).Scan(&agentID)
	if err != nil {
		return 0, mapErr(err)
	}
	return agentID, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// VerifiedAgents returns the identity of every agent with a verified
// on-chain identity link.
func (s *Store) VerifiedAgents(ctx context.Context) ([]signal.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, onchain_verified, twitter, github, website
		FROM agents WHERE onchain_verified ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Identity
	for rows.Next() {
		var id signal.Identity
		if err := rows.Scan(&id.AgentID, &id.OnchainVerified, &id.Twitter, &id.Github, &id.Website); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) AgentIdentity(ctx context.Context, agentID int64) (*signal.Identity, error) {
	var id signal.Identity
	err := s.pool.QueryRow(ctx, `
		SELECT id, onchain_verified, twitter, github, website
		FROM agents WHERE id = $1`, agentID).
		Scan(&id.AgentID, &id.OnchainVerified, &id.Twitter, &id.Github, &id.Website)
	if err != nil {
		return nil, mapErr(err)
	}
	return &id, nil
}

// --- Tokens ---

const tokenColumns = `id, agent_id, chain, address, symbol, name, decimals, launch_venue, is_primary, created_at`

func scanToken(row pgx.Row) (*market.Token, error) {
	var t market.Token
	var decimals int16
	if err := row.Scan(&t.ID, &t.AgentID, &t.Chain, &t.Address, &t.Symbol, &t.Name,
		&decimals, &t.LaunchVenue, &t.IsPrimary, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Decimals = uint8(decimals)
	return &t, nil
}

// CreateToken registers a token for an agent. Chain and address are
// normalized to lower case. A primary token demotes the agent's previous one.
func (s *Store) CreateToken(ctx context.Context, t *market.Token) error {
	t.Chain = strings.ToLower(t.Chain)
	t.Address = strings.ToLower(t.Address)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if t.IsPrimary {
			if _, err := tx.Exec(ctx, `
				UPDATE tokens SET is_primary = false
				WHERE agent_id = $1 AND is_primary AND deleted_at IS NULL`, t.AgentID); err != nil {
				return err
			}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO tokens (agent_id, chain, address, symbol, name, decimals, launch_venue, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at`,
			t.AgentID, t.Chain, t.Address, t.Symbol, t.Name, int16(t.Decimals), t.LaunchVenue, t.IsPrimary).
			Scan(&t.ID, &t.CreatedAt)
		return mapErr(err)
	})
}

func (s *Store) GetToken(ctx context.Context, id int64) (*market.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

// ListLinkedTokens returns every live token, oldest first.
func (s *Store) ListLinkedTokens(ctx context.Context) ([]market.Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) PrimaryToken(ctx context.Context, agentID int64) (*market.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE agent_id = $1 AND is_primary AND deleted_at IS NULL`, agentID))
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

// SetPrimaryToken makes tokenID the agent's only primary token.
func (s *Store) SetPrimaryToken(ctx context.Context, agentID, tokenID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE tokens SET is_primary = false
			WHERE agent_id = $1 AND is_primary AND deleted_at IS NULL`, agentID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE tokens SET is_primary = true
			WHERE id = $1 AND agent_id = $2 AND deleted_at IS NULL`, tokenID, agentID)
		if err != nil {
			return mapErr(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteToken soft-deletes a token. Its snapshots stay for audit but are
// excluded from every read.
func (s *Store) DeleteToken(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET deleted_at = now(), is_primary = false
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Token snapshots ---

const snapshotColumns = `s.id, s.token_id, s.price_usd, s.market_cap_usd, s.holders, s.volume_24h_usd, s.liquidity_usd, s.price_change_24h, s.captured_at`

func scanSnapshot(row pgx.Row) (*market.Snapshot, error) {
	var sn market.Snapshot
	if err := row.Scan(&sn.ID, &sn.TokenID, &sn.PriceUSD, &sn.MarketCapUSD, &sn.Holders,
		&sn.Volume24hUSD, &sn.LiquidityUSD, &sn.PriceChange24h, &sn.CapturedAt); err != nil {
		return nil, err
	}
	return &sn, nil
}

// InsertSnapshot appends a snapshot. A zero CapturedAt means now.
func (s *Store) InsertSnapshot(ctx context.Context, sn *market.Snapshot) error {
	if sn.CapturedAt.IsZero() {
		sn.CapturedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO token_snapshots (token_id, price_usd, market_cap_usd, holders, volume_24h_usd, liquidity_usd, price_change_24h, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		sn.TokenID, sn.PriceUSD, sn.MarketCapUSD, sn.Holders, sn.Volume24hUSD,
		sn.LiquidityUSD, sn.PriceChange24h, sn.CapturedAt).Scan(&sn.ID)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, tokenID int64) (*market.Snapshot, error) {
	sn, err := scanSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM token_snapshots s
		JOIN tokens t ON t.id = s.token_id AND t.deleted_at IS NULL
		WHERE s.token_id = $1
		ORDER BY s.captured_at DESC, s.id DESC
		LIMIT 1`, tokenID))
	if err != nil {
		return nil, mapErr(err)
	}
	return sn, nil
}

// SnapshotHistory returns snapshots captured in [from, to], oldest first.
func (s *Store) SnapshotHistory(ctx context.Context, tokenID int64, from, to time.Time) ([]market.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM token_snapshots s
		JOIN tokens t ON t.id = s.token_id AND t.deleted_at IS NULL
		WHERE s.token_id = $1 AND s.captured_at BETWEEN $2 AND $3
		ORDER BY s.captured_at ASC, s.id ASC`, tokenID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sn)
	}
	return out, rows.Err()
}

// LastPositiveHolders returns the most recent positive holder count, or 0.
func (s *Store) LastPositiveHolders(ctx context.Context, tokenID int64) (int64, error) {
	var holders int64
	err := s.pool.QueryRow(ctx, `
		SELECT holders FROM token_snapshots
		WHERE token_id = $1 AND holders > 0
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`, tokenID).Scan(&holders)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return holders, err
}

// --- Activity ---

const postColumns = `id, agent_id, impressions, upvotes, fires, insightful, bullish, funny, comment_count, tags, quality_score, created_at`

func scanPost(row pgx.Row) (analytics.Post, error) {
	var p analytics.Post
	err := row.Scan(&p.ID, &p.AgentID, &p.Impressions,
		&p.Reactions[0], &p.Reactions[1], &p.Reactions[2], &p.Reactions[3], &p.Reactions[4],
		&p.CommentCount, &p.Tags, &p.QualityScore, &p.CreatedAt)
	return p, err
}

func collectPosts(rows pgx.Rows, err error) ([]analytics.Post, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analytics.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePost inserts a post with its counters as given. A zero CreatedAt
// means now.
func (s *Store) CreatePost(ctx context.Context, p *analytics.Post, content string) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO posts (agent_id, content, impressions, upvotes, fires, insightful, bullish, funny, comment_count, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.AgentID, content, p.Impressions,
		p.Reactions[0], p.Reactions[1], p.Reactions[2], p.Reactions[3], p.Reactions[4],
		p.CommentCount, p.Tags, p.CreatedAt).Scan(&p.ID)
}

func (s *Store) ListPosts(ctx context.Context) ([]analytics.Post, error) {
	return collectPosts(s.pool.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY id`))
}

// ListAgentPosts returns an agent's posts created at or after since.
func (s *Store) ListAgentPosts(ctx context.Context, agentID int64, since time.Time) ([]analytics.Post, error) {
	return collectPosts(s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE agent_id = $1 AND created_at >= $2
		ORDER BY created_at`, agentID, since))
}

// AddComment inserts a comment and bumps the post's comment counter.
func (s *Store) AddComment(ctx context.Context, c *analytics.Comment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO comments (post_id, agent_id, parent_id, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			c.PostID, c.AgentID, c.ParentID, c.Content, c.CreatedAt).Scan(&c.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1`, c.PostID)
		return err
	})
}

// reactionCounter maps a reaction kind to its posts column.
var reactionCounter = map[string]string{
	"upvote":     "upvotes",
	"fire":       "fires",
	"insightful": "insightful",
	"bullish":    "bullish",
	"funny":      "funny",
}

// AddReaction records a reaction and bumps the matching post counter. A
// repeated (post, agent, kind) reaction is a no-op.
func (s *Store) AddReaction(ctx context.Context, r analytics.Reaction) error {
	col, ok := reactionCounter[r.Kind]
	if !ok {
		return fmt.Errorf("unknown reaction kind %q", r.Kind)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO reactions (post_id, agent_id, kind, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`, r.PostID, r.AgentID, r.Kind, r.CreatedAt)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE posts SET `+col+` = `+col+` + 1 WHERE id = $1`, r.PostID)
		return err
	})
}

func (s *Store) ListComments(ctx context.Context) ([]analytics.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, post_id, agent_id, parent_id, content, created_at FROM comments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analytics.Comment
	for rows.Next() {
		var c analytics.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AgentID, &c.ParentID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListReactions(ctx context.Context) ([]analytics.Reaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT post_id, agent_id, kind, created_at FROM reactions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analytics.Reaction
	for rows.Next() {
		var r analytics.Reaction
		if err := rows.Scan(&r.PostID, &r.AgentID, &r.Kind, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Derived: analytics & signal scores ---

func (s *Store) UpdatePostQuality(ctx context.Context, postID int64, score float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE posts SET quality_score = $2 WHERE id = $1`, postID, score)
	return err
}

// UpsertAgentMetrics overwrites the agent's metrics row wholesale.
func (s *Store) UpsertAgentMetrics(ctx context.Context, m analytics.AgentMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_metrics (agent_id, engagement_rate, growth_trend, audience_score, relative_performance,
			total_posts, total_impressions, total_reactions, total_comments, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (agent_id) DO UPDATE SET
			engagement_rate = EXCLUDED.engagement_rate,
			growth_trend = EXCLUDED.growth_trend,
			audience_score = EXCLUDED.audience_score,
			relative_performance = EXCLUDED.relative_performance,
			total_posts = EXCLUDED.total_posts,
			total_impressions = EXCLUDED.total_impressions,
			total_reactions = EXCLUDED.total_reactions,
			total_comments = EXCLUDED.total_comments,
			computed_at = EXCLUDED.computed_at`,
		m.AgentID, m.EngagementRate, m.GrowthTrend, m.AudienceScore, m.RelativePerformance,
		m.TotalPosts, m.TotalImpressions, m.TotalReactions, m.TotalComments, m.ComputedAt)
	return err
}

func (s *Store) GetAgentMetrics(ctx context.Context, agentID int64) (*analytics.AgentMetrics, error) {
	var m analytics.AgentMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, engagement_rate, growth_trend, audience_score, relative_performance,
			total_posts, total_impressions, total_reactions, total_comments, computed_at
		FROM agent_metrics WHERE agent_id = $1`, agentID).
		Scan(&m.AgentID, &m.EngagementRate, &m.GrowthTrend, &m.AudienceScore, &m.RelativePerformance,
			&m.TotalPosts, &m.TotalImpressions, &m.TotalReactions, &m.TotalComments, &m.ComputedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

// UpsertSignalScore overwrites the agent's score and components.
func (s *Store) UpsertSignalScore(ctx context.Context, sc signal.Score) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signal_scores (agent_id, score, build, token, social, verification, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_id) DO UPDATE SET
			score = EXCLUDED.score,
			build = EXCLUDED.build,
			token = EXCLUDED.token,
			social = EXCLUDED.social,
			verification = EXCLUDED.verification,
			computed_at = EXCLUDED.computed_at`,
		sc.AgentID, sc.Score, sc.Components.Build, sc.Components.Token,
		sc.Components.Social, sc.Components.Verification, sc.ComputedAt)
	return err
}

func scanScore(row pgx.Row) (*signal.Score, error) {
	var sc signal.Score
	if err := row.Scan(&sc.AgentID, &sc.Score, &sc.Components.Build, &sc.Components.Token,
		&sc.Components.Social, &sc.Components.Verification, &sc.ComputedAt); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) GetSignalScore(ctx context.Context, agentID int64) (*signal.Score, error) {
	sc, err := scanScore(s.pool.QueryRow(ctx, `
		SELECT agent_id, score, build, token, social, verification, computed_at
		FROM signal_scores WHERE agent_id = $1`, agentID))
	if err != nil {
		return nil, mapErr(err)
	}
	return sc, nil
}

// Leaderboard returns the highest scores, ties broken by agent id.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]signal.Score, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, score, build, token, social, verification, computed_at
		FROM signal_scores ORDER BY score DESC, agent_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}
