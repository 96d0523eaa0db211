// Package agent hosts the two analyzer roles. Each turns an AnalysisRequest
// into its role response or an ErrorMessage, never both.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-guardian/internal/analysis"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
)

// NewIdentity returns a fresh analyzer identity
func NewIdentity() string {
	return "agent1q" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CorrelationAgent serves the correlation role in-process
type CorrelationAgent struct {
	engine   *analysis.CorrelationEngine
	params   analysis.CorrelationParams
	identity string
	logger   *logging.Logger
}

// NewCorrelationAgent creates the correlation role
func NewCorrelationAgent(engine *analysis.CorrelationEngine, params analysis.CorrelationParams, logger *logging.Logger) *CorrelationAgent {
	id := NewIdentity()
	return &CorrelationAgent{
		engine:   engine,
		params:   params,
		identity: id,
		logger:   logger.WithFields(map[string]interface{}{"role": types.RoleCorrelation, "agent": id}),
	}
}

// Identity is the address reported in responses
func (a *CorrelationAgent) Identity() string { return a.identity }

// AnalyzeCorrelation validates the request and runs the correlation engine.
// Failures come back as *models.ErrorMessage.
func (a *CorrelationAgent) AnalyzeCorrelation(ctx context.Context, req models.AnalysisRequest) (*models.CorrelationAnalysisResponse, error) {
	start := time.Now()
	log := a.logger.WithField("request_id", req.RequestID)

	if err := req.Validate(); err != nil {
		log.WithError(err).Warn("rejected invalid analysis request")
		return nil, models.NewErrorMessage(req.RequestID, a.identity, err)
	}

	result, err := a.engine.Analyze(ctx, &req.PortfolioData, a.params)
	if err == nil {
		if em := contextError(ctx, req.RequestID, a.identity); em != nil {
			err = em
		}
	}
	if err != nil {
		msg := models.NewErrorMessage(req.RequestID, a.identity, err)
		log.WithError(err).WithField("error_type", msg.ErrorType).Warn("correlation analysis failed")
		return nil, msg
	}

	return &models.CorrelationAnalysisResponse{
		RequestID:        req.RequestID,
		WalletAddress:    req.WalletAddress,
		AnalysisData:     *result,
		AgentAddress:     a.identity,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// SectorAgent serves the sector role in-process
type SectorAgent struct {
	classifier *analysis.SectorClassifier
	sectors    provider.SectorMapProvider
	threshold  float64
	identity   string
	logger     *logging.Logger
}

// NewSectorAgent creates the sector role
func NewSectorAgent(classifier *analysis.SectorClassifier, sectors provider.SectorMapProvider, threshold float64, logger *logging.Logger) *SectorAgent {
	if threshold <= 0 {
		threshold = analysis.DefaultConcentrationThreshold
	}
	id := NewIdentity()
	return &SectorAgent{
		classifier: classifier,
		sectors:    sectors,
		threshold:  threshold,
		identity:   id,
		logger:     logger.WithFields(map[string]interface{}{"role": types.RoleSector, "agent": id}),
	}
}

// Identity is the address reported in responses
func (a *SectorAgent) Identity() string { return a.identity }

// AnalyzeSector validates the request, loads the sector map and classifies.
// An unavailable sector map is reported as insufficient data with retry.
func (a *SectorAgent) AnalyzeSector(ctx context.Context, req models.AnalysisRequest) (*models.SectorAnalysisResponse, error) {
	start := time.Now()
	log := a.logger.WithField("request_id", req.RequestID)

	if err := req.Validate(); err != nil {
		log.WithError(err).Warn("rejected invalid analysis request")
		return nil, models.NewErrorMessage(req.RequestID, a.identity, err)
	}

	sectorMap, err := a.sectors.SectorMap(ctx)
	if err != nil {
		log.WithError(err).Error("sector mappings unavailable")
		return nil, &models.ErrorMessage{
			RequestID:        req.RequestID,
			ErrorType:        types.ErrorTypeInsufficientData,
			Message:          "sector mapping data unavailable",
			AgentAddress:     a.identity,
			RetryRecommended: true,
		}
	}

	result := a.classifier.Analyze(ctx, &req.PortfolioData, sectorMap, a.threshold)
	if em := contextError(ctx, req.RequestID, a.identity); em != nil {
		log.WithField("error_type", em.ErrorType).Warn("sector analysis abandoned")
		return nil, em
	}

	return &models.SectorAnalysisResponse{
		RequestID:        req.RequestID,
		WalletAddress:    req.WalletAddress,
		AnalysisData:     *result,
		AgentAddress:     a.identity,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// contextError maps an expired or cancelled request onto an error message
func contextError(ctx context.Context, requestID, identity string) *models.ErrorMessage {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	msg := &models.ErrorMessage{
		RequestID:        requestID,
		ErrorType:        types.ErrorTypeAgentUnavailable,
		Message:          "analysis request cancelled",
		AgentAddress:     identity,
		RetryRecommended: true,
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg.ErrorType = types.ErrorTypeTimeout
		msg.Message = "analysis exceeded its time budget"
	}
	return msg
}
