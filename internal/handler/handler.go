// Package handler serves the read and operations API. Handlers are closures
// over narrow store interfaces so they can be exercised with the in-memory
// store.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/scheduler"
	"github.com/web3-frozen/agent-signal/internal/signal"
	"github.com/web3-frozen/agent-signal/internal/store"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// TokenReader is what the token endpoints read.
type TokenReader interface {
	GetToken(ctx context.Context, id int64) (*market.Token, error)
	LatestSnapshot(ctx context.Context, tokenID int64) (*market.Snapshot, error)
	SnapshotHistory(ctx context.Context, tokenID int64, from, to time.Time) ([]market.Snapshot, error)
}

// AgentReader is what the agent and leaderboard endpoints read.
type AgentReader interface {
	AgentIdentity(ctx context.Context, agentID int64) (*signal.Identity, error)
	GetSignalScore(ctx context.Context, agentID int64) (*signal.Score, error)
	GetAgentMetrics(ctx context.Context, agentID int64) (*analytics.AgentMetrics, error)
	Leaderboard(ctx context.Context, limit int) ([]signal.Score, error)
}

// TokenWriter backs the admin token endpoints.
type TokenWriter interface {
	CreateToken(ctx context.Context, t *market.Token) error
	GetToken(ctx context.Context, id int64) (*market.Token, error)
	SetPrimaryToken(ctx context.Context, agentID, tokenID int64) error
}

// JobRunner is the scheduler surface exposed over HTTP.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (scheduler.JobResult, error)
	Status() []scheduler.JobResult
	LeaseHolders(ctx context.Context) map[string]string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
