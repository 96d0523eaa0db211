package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/service"
)

const defaultHistoryLimit = 20

// handleAnalyze handles POST /api/analyze. Invalid portfolios are answered
// with the analyzer ErrorMessage contract.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req service.AnalyzeInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	resp, err := s.guardian.Analyze(r.Context(), req)
	if err != nil {
		if apperrors.Is(err, apperrors.CategoryInvalidData) {
			respondJSON(w, http.StatusBadRequest, models.NewErrorMessage("", "", err))
			return
		}
		logging.FromContext(r.Context()).WithError(err).Warn("analysis failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleGetAnalysis handles GET /api/analyses/{requestId}
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Analysis history is not configured", nil)
		return
	}

	requestID := mux.Vars(r)["requestId"]
	resp, err := s.history.GetByRequestID(r.Context(), requestID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleListWalletAnalyses handles GET /api/wallets/{address}/analyses?limit=N
func (s *Server) handleListWalletAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Analysis history is not configured", nil)
		return
	}

	address := mux.Vars(r)["address"]
	if !models.IsWalletAddress(address) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid wallet address", map[string]interface{}{
			"address": address,
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}

	list, err := s.history.ListByWallet(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallet_address": address,
		"analyses":       list,
		"count":          len(list),
	})
}
