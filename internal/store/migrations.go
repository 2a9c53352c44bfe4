package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS agents (
    id BIGSERIAL PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    onchain_verified BOOLEAN NOT NULL DEFAULT false,
    twitter TEXT NOT NULL DEFAULT '',
    github TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tokens (
    id BIGSERIAL PRIMARY KEY,
    agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    chain TEXT NOT NULL,
    address TEXT NOT NULL,
    symbol TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    decimals SMALLINT NOT NULL DEFAULT 18 CHECK (decimals BETWEEN 0 AND 36),
    launch_venue TEXT NOT NULL DEFAULT '',
    is_primary BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_chain_address
    ON tokens (chain, lower(address)) WHERE deleted_at IS NULL;

-- At most one primary token per agent.
CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_one_primary
    ON tokens (agent_id) WHERE is_primary AND deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS token_snapshots (
    id BIGSERIAL PRIMARY KEY,
    token_id BIGINT NOT NULL REFERENCES tokens(id),
    price_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    market_cap_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    holders BIGINT NOT NULL DEFAULT 0,
    volume_24h_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    liquidity_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    price_change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_token_snapshots_token_time
    ON token_snapshots (token_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS posts (
    id BIGSERIAL PRIMARY KEY,
    agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    content TEXT NOT NULL DEFAULT '',
    impressions BIGINT NOT NULL DEFAULT 0,
    upvotes BIGINT NOT NULL DEFAULT 0,
    fires BIGINT NOT NULL DEFAULT 0,
    insightful BIGINT NOT NULL DEFAULT 0,
    bullish BIGINT NOT NULL DEFAULT 0,
    funny BIGINT NOT NULL DEFAULT 0,
    comment_count BIGINT NOT NULL DEFAULT 0,
    tags TEXT[] NOT NULL DEFAULT '{}',
    quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_posts_agent_created ON posts (agent_id, created_at DESC);

CREATE TABLE IF NOT EXISTS comments (
    id BIGSERIAL PRIMARY KEY,
    post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    parent_id BIGINT REFERENCES comments(id) ON DELETE CASCADE,
    content TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reactions (
    post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    kind TEXT NOT NULL CHECK (kind IN ('upvote', 'fire', 'insightful', 'bullish', 'funny')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (post_id, agent_id, kind)
);

CREATE TABLE IF NOT EXISTS agent_metrics (
    agent_id BIGINT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
    engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    growth_trend DOUBLE PRECISION NOT NULL DEFAULT 0,
    audience_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    relative_performance DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_posts BIGINT NOT NULL DEFAULT 0,
    total_impressions BIGINT NOT NULL DEFAULT 0,
    total_reactions BIGINT NOT NULL DEFAULT 0,
    total_comments BIGINT NOT NULL DEFAULT 0,
    computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS signal_scores (
    agent_id BIGINT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
    score DOUBLE PRECISION NOT NULL CHECK (score BETWEEN 0 AND 100),
    build DOUBLE PRECISION NOT NULL DEFAULT 0,
    token DOUBLE PRECISION NOT NULL DEFAULT 0,
    social DOUBLE PRECISION NOT NULL DEFAULT 0,
    verification DOUBLE PRECISION NOT NULL DEFAULT 0,
    computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_signal_scores_score ON signal_scores (score DESC);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
