// Package types provides common type definitions for the portfolio guardian system.
package types

// Interpretation is the correlation strength tier
type Interpretation string

const (
	// InterpretationHigh means |r| above the high threshold
	InterpretationHigh Interpretation = "High"
	// InterpretationModerate means |r| between the moderate and high thresholds
	InterpretationModerate Interpretation = "Moderate"
	// InterpretationLow means |r| below the moderate threshold
	InterpretationLow Interpretation = "Low"
)

// DiversificationScore is derived from the count of concentrated sectors
type DiversificationScore string

const (
	ScoreWellDiversified       DiversificationScore = "Well-Diversified"
	ScoreModerateConcentration DiversificationScore = "Moderate Concentration"
	ScoreHighConcentration     DiversificationScore = "High Concentration"
)

// RiskLevel is the overall verdict of a synthesis
type RiskLevel string

const (
	RiskCritical RiskLevel = "Critical"
	RiskHigh     RiskLevel = "High"
	RiskModerate RiskLevel = "Moderate"
	RiskLow      RiskLevel = "Low"
)

// ErrorType is the wire value carried by an ErrorMessage
type ErrorType string

const (
	ErrorTypeInvalidData      ErrorType = "invalid_data"
	ErrorTypeInsufficientData ErrorType = "insufficient_data"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeAgentUnavailable ErrorType = "agent_unavailable"
)

// Valid reports whether t is one of the four wire values
func (t ErrorType) Valid() bool {
	switch t {
	case ErrorTypeInvalidData, ErrorTypeInsufficientData, ErrorTypeTimeout, ErrorTypeAgentUnavailable:
		return true
	}
	return false
}

// AgentRole identifies one of the two analyzer roles
type AgentRole string

const (
	RoleCorrelation AgentRole = "correlation"
	RoleSector      AgentRole = "sector"
)

// DisplayName is the human-facing analyzer name used in reports
func (r AgentRole) DisplayName() string {
	switch r {
	case RoleCorrelation:
		return "CorrelationAgent"
	case RoleSector:
		return "SectorAgent"
	}
	return string(r)
}

// UnknownSector buckets symbols missing from the sector map
const UnknownSector = "Unknown Sector"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
