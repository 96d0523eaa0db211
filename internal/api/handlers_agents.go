package api

import (
	"net/http"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
)

// handleCorrelationAgent handles POST /api/agents/correlation/analyze
func (s *Server) handleCorrelationAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}
	if s.agents.Correlation == nil {
		respondAgentError(w, unavailable(req.RequestID, types.RoleCorrelation))
		return
	}

	resp, err := s.agents.Correlation.AnalyzeCorrelation(r.Context(), req)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("request_id", req.RequestID).Info("correlation analysis returned an error")
		respondAgentError(w, models.NewErrorMessage(req.RequestID, "", err))
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSectorAgent handles POST /api/agents/sector/analyze
func (s *Server) handleSectorAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAnalysisRequest(w, r)
	if !ok {
		return
	}
	if s.agents.Sector == nil {
		respondAgentError(w, unavailable(req.RequestID, types.RoleSector))
		return
	}

	resp, err := s.agents.Sector.AnalyzeSector(r.Context(), req)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).WithField("request_id", req.RequestID).Info("sector analysis returned an error")
		respondAgentError(w, models.NewErrorMessage(req.RequestID, "", err))
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// decodeAnalysisRequest answers malformed bodies with an invalid_data
// ErrorMessage so remote callers always get the analyzer contract.
func decodeAnalysisRequest(w http.ResponseWriter, r *http.Request) (models.AnalysisRequest, bool) {
	var req models.AnalysisRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondAgentError(w, &models.ErrorMessage{
			RequestID: req.RequestID,
			ErrorType: types.ErrorTypeInvalidData,
			Message:   "invalid request body: " + err.Error(),
		})
		return req, false
	}
	return req, true
}

func unavailable(requestID string, role types.AgentRole) *models.ErrorMessage {
	return &models.ErrorMessage{
		RequestID:        requestID,
		ErrorType:        types.ErrorTypeAgentUnavailable,
		Message:          role.DisplayName() + " is not served by this instance",
		RetryRecommended: false,
	}
}

func respondAgentError(w http.ResponseWriter, msg *models.ErrorMessage) {
	respondJSON(w, http.StatusUnprocessableEntity, msg)
}
