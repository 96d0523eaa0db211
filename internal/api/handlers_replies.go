package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/orchestrator"
	"github.com/portfolio-guardian/internal/types"
)

// ReplyReceiver accepts analyzer replies pushed after dispatch, including
// ones that arrive once the report has already been emitted
type ReplyReceiver interface {
	DeliverCorrelation(resp *models.CorrelationAnalysisResponse) error
	DeliverSector(resp *models.SectorAnalysisResponse) error
	DeliverError(role types.AgentRole, msg *models.ErrorMessage) error
	Responses(requestID string) (orchestrator.RequestSnapshot, bool)
}

const maxReplyBytes = 1 << 20

// handleDeliverReply handles POST /api/requests/{requestId}/replies/{role}.
// The body is either the role's response or an ErrorMessage.
func (s *Server) handleDeliverReply(w http.ResponseWriter, r *http.Request) {
	if s.agents.Replies == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Reply intake is not enabled", nil)
		return
	}

	vars := mux.Vars(r)
	requestID := vars["requestId"]
	role := types.AgentRole(vars["role"])
	if role != types.RoleCorrelation && role != types.RoleSector {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown analyzer role", map[string]interface{}{"role": vars["role"]})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxReplyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	var envelope struct {
		RequestID string `json:"request_id"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if envelope.RequestID != requestID {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "request_id does not match the path", map[string]interface{}{
			"path":    requestID,
			"payload": envelope.RequestID,
		})
		return
	}

	var deliver func() error
	switch {
	case envelope.ErrorType != "":
		var msg models.ErrorMessage
		err = decodeStrict(raw, &msg)
		deliver = func() error { return s.agents.Replies.DeliverError(role, &msg) }
	case role == types.RoleCorrelation:
		var resp models.CorrelationAnalysisResponse
		err = decodeStrict(raw, &resp)
		deliver = func() error { return s.agents.Replies.DeliverCorrelation(&resp) }
	default:
		var resp models.SectorAnalysisResponse
		err = decodeStrict(raw, &resp)
		deliver = func() error { return s.agents.Replies.DeliverSector(&resp) }
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid reply body", nil)
		return
	}
	if err := deliver(); err != nil {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"request_id": requestID,
			"role":       role,
		}).Info("reply rejected")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "request_id": requestID, "role": string(role)})
}

// handleGetReplies handles GET /api/requests/{requestId}/replies
func (s *Server) handleGetReplies(w http.ResponseWriter, r *http.Request) {
	if s.agents.Replies == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Reply intake is not enabled", nil)
		return
	}

	requestID := mux.Vars(r)["requestId"]
	snap, ok := s.agents.Replies.Responses(requestID)
	if !ok {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Request not found or no longer retained", map[string]interface{}{"requestId": requestID})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func decodeStrict(raw []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
