package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/scheduler"
	"github.com/web3-frozen/agent-signal/internal/store"
)

// ListJobs reports the last result of every job that has run and which
// replica currently holds each job lease.
func ListJobs(j JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":   j.Status(),
			"leases": j.LeaseHolders(r.Context()),
		})
	}
}

// TriggerJob starts a job by name. The job runs detached from the request
// and the handler answers 202 unless ?wait=true, in which case it answers
// with the job result.
func TriggerJob(j JobRunner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "job")
		if !slices.Contains(scheduler.Jobs, name) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}

		ctx := context.WithoutCancel(r.Context())
		if r.URL.Query().Get("wait") == "true" {
			res, err := j.RunJob(ctx, name)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, res)
			return
		}

		go func() {
			if _, err := j.RunJob(ctx, name); err != nil {
				logger.Error("triggered job failed", "job", name, "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
	}
}

// CreateToken links a token to an agent.
func CreateToken(s TokenWriter) http.HandlerFunc {
	type request struct {
		AgentID     int64  `json:"agent_id"`
		Chain       string `json:"chain"`
		Address     string `json:"address"`
		Symbol      string `json:"symbol"`
		Name        string `json:"name"`
		Decimals    *uint8 `json:"decimals"`
		LaunchVenue string `json:"launch_venue"`
		Primary     bool   `json:"primary"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Chain = strings.TrimSpace(req.Chain)
		if req.AgentID <= 0 || req.Chain == "" {
			writeError(w, http.StatusBadRequest, "agent_id and chain required")
			return
		}
		if !common.IsHexAddress(req.Address) {
			writeError(w, http.StatusBadRequest, "address must be a 0x-prefixed 20-byte hex address")
			return
		}

		tok := &market.Token{
			AgentID:     req.AgentID,
			Chain:       req.Chain,
			Address:     req.Address,
			Symbol:      req.Symbol,
			Name:        req.Name,
			Decimals:    18,
			LaunchVenue: req.LaunchVenue,
			IsPrimary:   req.Primary,
		}
		if req.Decimals != nil {
			tok.Decimals = *req.Decimals
		}

		if err := s.CreateToken(r.Context(), tok); err != nil {
			switch {
			case errors.Is(err, store.ErrConflict):
				writeError(w, http.StatusConflict, "token already linked")
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusBadRequest, "unknown agent")
			default:
				writeError(w, http.StatusInternalServerError, "failed to create token")
			}
			return
		}
		writeJSON(w, http.StatusCreated, tok)
	}
}

// SetPrimaryToken makes a token its agent's primary token, demoting any
// previous one.
func SetPrimaryToken(s TokenWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid token id")
			return
		}
		tok, err := s.GetToken(r.Context(), id)
		if err == nil {
			err = s.SetPrimaryToken(r.Context(), tok.AgentID, id)
		}
		if err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "token not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to set primary token")
			return
		}
		tok.IsPrimary = true
		writeJSON(w, http.StatusOK, tok)
	}
}
