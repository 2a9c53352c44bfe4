package handler

import (
	"net/http"
	"strconv"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/signal"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 500
)

// AgentSignal returns the stored signal score of an agent, or a zero score
// when none has been computed yet.
func AgentSignal(s AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := agentExists(w, r, s)
		if !ok {
			return
		}
		sc, err := s.GetSignalScore(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, sc)
		case isNotFound(err):
			writeJSON(w, http.StatusOK, signal.Score{AgentID: id})
		default:
			writeError(w, http.StatusInternalServerError, "failed to load signal score")
		}
	}
}

// AgentMetrics returns the stored engagement analytics of an agent, or zeros
// when none have been computed yet.
func AgentMetrics(s AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := agentExists(w, r, s)
		if !ok {
			return
		}
		m, err := s.GetAgentMetrics(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, m)
		case isNotFound(err):
			writeJSON(w, http.StatusOK, analytics.AgentMetrics{AgentID: id})
		default:
			writeError(w, http.StatusInternalServerError, "failed to load agent metrics")
		}
	}
}

func agentExists(w http.ResponseWriter, r *http.Request, s AgentReader) (int64, bool) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return 0, false
	}
	if _, err := s.AgentIdentity(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "agent not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load agent")
		}
		return 0, false
	}
	return id, true
}

func Leaderboard(s AgentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLeaderboardLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxLeaderboardLimit)
		}

		board, err := s.Leaderboard(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
			return
		}
		if board == nil {
			board = []signal.Score{}
		}
		writeJSON(w, http.StatusOK, board)
	}
}
