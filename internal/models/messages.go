package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/types"
)

// AnalysisRequest is fanned out to both analyzer roles
type AnalysisRequest struct {
	RequestID     string    `json:"request_id"`
	WalletAddress string    `json:"wallet_address"`
	PortfolioData Portfolio `json:"portfolio_data"`
	RequestedBy   string    `json:"requested_by"`
}

// Validate runs once at the boundary where a request enters an analyzer
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return apperrors.NewInvalidDataError("request_id", "empty")
	}
	if !strings.EqualFold(r.WalletAddress, r.PortfolioData.WalletAddress) {
		return apperrors.NewInvalidDataError("wallet_address", "does not match portfolio_data.wallet_address")
	}
	return r.PortfolioData.Validate()
}

// CorrelationAnalysisResponse is the correlation role's reply
type CorrelationAnalysisResponse struct {
	RequestID        string              `json:"request_id"`
	WalletAddress    string              `json:"wallet_address"`
	AnalysisData     CorrelationAnalysis `json:"analysis_data"`
	AgentAddress     string              `json:"agent_address"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// Validate checks the reply before the coordinator accepts it
func (r *CorrelationAnalysisResponse) Validate() error {
	if r.RequestID == "" {
		return apperrors.NewInvalidDataError("request_id", "empty")
	}
	return r.AnalysisData.Validate()
}

// SectorAnalysisResponse is the sector role's reply
type SectorAnalysisResponse struct {
	RequestID        string         `json:"request_id"`
	WalletAddress    string         `json:"wallet_address"`
	AnalysisData     SectorAnalysis `json:"analysis_data"`
	AgentAddress     string         `json:"agent_address"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// Validate checks the reply before the coordinator accepts it
func (r *SectorAnalysisResponse) Validate() error {
	if r.RequestID == "" {
		return apperrors.NewInvalidDataError("request_id", "empty")
	}
	return r.AnalysisData.Validate()
}

// ErrorMessage is what an analyzer sends instead of a result
type ErrorMessage struct {
	RequestID        string          `json:"request_id"`
	ErrorType        types.ErrorType `json:"error_type"`
	Message          string          `json:"error_message"`
	AgentAddress     string          `json:"agent_address"`
	RetryRecommended bool            `json:"retry_recommended"`
}

// NewErrorMessage maps any error onto the wire contract. Invalid and
// insufficient data are never flagged for retry.
func NewErrorMessage(requestID, agentAddress string, err error) *ErrorMessage {
	if em, ok := err.(*ErrorMessage); ok {
		return em
	}
	et := apperrors.ErrorTypeFor(err)
	msg := "unknown error"
	if ce := apperrors.Categorize(err); ce != nil {
		msg = ce.Message
	}
	return &ErrorMessage{
		RequestID:        requestID,
		ErrorType:        et,
		Message:          msg,
		AgentAddress:     agentAddress,
		RetryRecommended: et == types.ErrorTypeTimeout || et == types.ErrorTypeAgentUnavailable,
	}
}

// Error implements error so analyzers can return an ErrorMessage directly
func (e *ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// Validate checks the error type is one of the four wire values
func (e *ErrorMessage) Validate() error {
	if !e.ErrorType.Valid() {
		return apperrors.NewInvalidDataError("error_type", fmt.Sprintf("unknown value %q", e.ErrorType))
	}
	return nil
}

// GuardianAnalysisResponse is the combined report for one request
type GuardianAnalysisResponse struct {
	RequestID             string               `json:"request_id"`
	WalletAddress         string               `json:"wallet_address"`
	CorrelationAnalysis   *CorrelationAnalysis `json:"correlation_analysis,omitempty"`
	SectorAnalysis        *SectorAnalysis      `json:"sector_analysis,omitempty"`
	Synthesis             *GuardianSynthesis   `json:"synthesis,omitempty"`
	ResponseText          string               `json:"response_text"`
	AgentAddresses        map[string]string    `json:"agent_addresses"`
	TotalProcessingTimeMs int64                `json:"total_processing_time_ms"`
	CreatedAt             time.Time            `json:"created_at"`
}
