package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
)

// AgentClient reaches an analyzer role served by another process over HTTP.
// It satisfies orchestrator.CorrelationAnalyzer and orchestrator.SectorAnalyzer.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewAgentClient creates a client for the analyzer at baseURL. The per-call
// budget comes from the request context.
func NewAgentClient(baseURL string, logger *logging.Logger) *AgentClient {
	return &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.WithField("agent_url", baseURL),
	}
}

// AnalyzeCorrelation posts req to the remote correlation role
func (c *AgentClient) AnalyzeCorrelation(ctx context.Context, req models.AnalysisRequest) (*models.CorrelationAnalysisResponse, error) {
	var out models.CorrelationAnalysisResponse
	if err := c.post(ctx, types.RoleCorrelation, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeSector posts req to the remote sector role
func (c *AgentClient) AnalyzeSector(ctx context.Context, req models.AnalysisRequest) (*models.SectorAnalysisResponse, error) {
	var out models.SectorAnalysisResponse
	if err := c.post(ctx, types.RoleSector, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends req and decodes either the role response into out or the
// ErrorMessage the analyzer replied with.
func (c *AgentClient) post(ctx context.Context, role types.AgentRole, req models.AnalysisRequest, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode analysis request: %w", err)
	}

	url := fmt.Sprintf("%s/api/agents/%s/analyze", c.baseURL, role)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WithError(err).WithField("role", role).Warn("analyzer unreachable")
		return unavailable(req.RequestID, fmt.Sprintf("%s unreachable", role.DisplayName()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return unavailable(req.RequestID, fmt.Sprintf("failed to read %s reply", role.DisplayName()))
	}

	if resp.StatusCode != http.StatusOK {
		var em models.ErrorMessage
		if json.Unmarshal(raw, &em) == nil && em.ErrorType.Valid() {
			return &em
		}
		return unavailable(req.RequestID, fmt.Sprintf("%s replied with status %d", role.DisplayName(), resp.StatusCode))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return unavailable(req.RequestID, fmt.Sprintf("%s reply is not a valid response", role.DisplayName()))
	}
	return nil
}

func unavailable(requestID, message string) *models.ErrorMessage {
	return &models.ErrorMessage{
		RequestID:        requestID,
		ErrorType:        types.ErrorTypeAgentUnavailable,
		Message:          message,
		RetryRecommended: true,
	}
}
