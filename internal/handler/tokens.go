package handler

import (
	"net/http"
	"time"

	"github.com/web3-frozen/agent-signal/internal/market"
)

var historyWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

type tokenMetricsResponse struct {
	Token      *market.Token  `json:"token"`
	Metrics    market.Metrics `json:"metrics"`
	CapturedAt *time.Time     `json:"captured_at"`
}

// TokenMetrics returns the latest snapshot of a token. A token that has never
// been snapshotted reports all-zero metrics.
func TokenMetrics(s TokenReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid token id")
			return
		}
		tok, err := s.GetToken(r.Context(), id)
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load token")
			return
		}

		resp := tokenMetricsResponse{Token: tok}
		sn, err := s.LatestSnapshot(r.Context(), id)
		switch {
		case err == nil:
			resp.Metrics = sn.Metrics
			resp.CapturedAt = &sn.CapturedAt
		case !isNotFound(err):
			writeError(w, http.StatusInternalServerError, "failed to load snapshot")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// TokenHistory returns a token's snapshots over ?window=24h|7d|30d, oldest
// first.
func TokenHistory(s TokenReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid token id")
			return
		}
		window := r.URL.Query().Get("window")
		if window == "" {
			window = "24h"
		}
		span, ok := historyWindows[window]
		if !ok {
			writeError(w, http.StatusBadRequest, "window must be one of 24h, 7d, 30d")
			return
		}
		if _, err := s.GetToken(r.Context(), id); err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "token not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load token")
			return
		}

		to := time.Now().UTC()
		hist, err := s.SnapshotHistory(r.Context(), id, to.Add(-span), to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		if hist == nil {
			hist = []market.Snapshot{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token_id":  id,
			"window":    window,
			"snapshots": hist,
		})
	}
}
