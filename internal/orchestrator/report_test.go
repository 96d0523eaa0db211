package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestTruncateIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"agent1qw2e3r4t5y6u7i8o9p0a1s2d3f4g5h6j7k8l9z0", "agent1qw2e...9z0"},
		{"agent1qshort", "agent1qshort"},
		{"exactly15chars!", "exactly15chars!"},
		{"sixteen-chars-id", "sixteen-ch...-id"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateIdentity(tt.in))
	}
}

func reportInput() ReportInput {
	return ReportInput{
		RequestID:     "req-1",
		WalletAddress: testWallet,
		Correlation: &models.CorrelationAnalysisResponse{
			AgentAddress:     "agent1qcorrelationagent",
			ProcessingTimeMs: 120,
			AnalysisData:     models.CorrelationAnalysis{Narrative: "correlation narrative\nwith two lines"},
		},
		Sector: &models.SectorAnalysisResponse{
			AgentAddress:     "agent1qsectoragent000",
			ProcessingTimeMs: 80,
			AnalysisData:     models.SectorAnalysis{Narrative: "sector narrative"},
		},
		Synthesis: &models.GuardianSynthesis{
			OverallRiskLevel:        types.RiskCritical,
			CompoundingRiskDetected: true,
			SynthesisNarrative:      "synthesis narrative",
			RiskMultiplierEffect:    "acts like 3.2x leverage",
			Recommendations: []models.Recommendation{
				{Priority: 1, Action: "Reduce sector", Rationale: "because", ExpectedImpact: "better"},
			},
		},
		Timeout:        10 * time.Second,
		TotalMs:        2345,
	}
}

func TestFormatReport_Full(t *testing.T) {
	out := FormatReport(reportInput())

	assert.True(t, strings.HasPrefix(out, "🛡️ Guardian Portfolio Risk Analysis\nWallet: "+testWallet+"\nRequest ID: req-1\n"))
	assert.Contains(t, out, "🔗 CorrelationAgent Analysis (agent1qcor...ent):\n\ncorrelation narrative\nwith two lines\n")
	assert.Contains(t, out, "🏛️ SectorAgent Analysis (agent1qsec...000):\n\nsector narrative\n")
	assert.Contains(t, out, "(Processing: 120ms)")
	assert.Contains(t, out, "Compounding Risk Detected: Yes")
	assert.Contains(t, out, "1. Reduce sector\n   - **Why:** because\n   - **Expected Impact:** better\n")
	assert.Contains(t, out, "- CorrelationAgent (agent1qcorrelationagent) - 120ms\n")
	assert.Contains(t, out, "- SectorAgent (agent1qsectoragent000) - 80ms\n")
	assert.True(t, strings.HasSuffix(out, "⏱️ Total Analysis Time: 2.3 seconds\n"))
}

func TestFormatReport_IsPure(t *testing.T) {
	assert.Equal(t, FormatReport(reportInput()), FormatReport(reportInput()))
}

func TestFormatReport_MissingAnalyses(t *testing.T) {
	in := reportInput()
	in.Synthesis = nil
	in.Sector = nil
	out := FormatReport(in)
	assert.Contains(t, out, "⚠️ SectorAgent did not respond within 10 seconds (timeout). Proceeding with CorrelationAgent results only. Analysis may be incomplete.")
	assert.NotContains(t, out, "🔮")

	in = reportInput()
	in.Synthesis = nil
	in.Correlation = nil
	in.Failures = map[types.AgentRole]*models.ErrorMessage{
		types.RoleCorrelation: {ErrorType: types.ErrorTypeInsufficientData, Message: "not enough history"},
	}
	out = FormatReport(in)
	assert.Contains(t, out, "⚠️ CorrelationAgent could not complete the analysis (insufficient_data): not enough history. Proceeding with SectorAgent results only.")
	assert.NotContains(t, out, "- CorrelationAgent (")
}

func TestFormatReport_SynthesisUnavailable(t *testing.T) {
	in := reportInput()
	in.Synthesis = nil
	in.SynthesisFailed = true
	out := FormatReport(in)
	assert.Contains(t, out, "🔮 Guardian Synthesis:\n\n⚠️ Guardian synthesis is unavailable")
	assert.Contains(t, out, "correlation narrative")
	assert.Contains(t, out, "sector narrative")
}

func TestFormatReport_MissingReasons(t *testing.T) {
	tests := []struct {
		name      string
		timeout   time.Duration
		cancelled bool
		failure   *models.ErrorMessage
		want      string
	}{
		{"ceiling", 10 * time.Second, false, nil, "⚠️ SectorAgent did not respond within 10 seconds (timeout)."},
		{"one second", time.Second, false, nil, "⚠️ SectorAgent did not respond within 1 second (timeout)."},
		{"sub-second", 50 * time.Millisecond, false, nil, "⚠️ SectorAgent did not respond within 50ms (timeout)."},
		{"cancelled", 10 * time.Second, true, nil, "⚠️ SectorAgent had not responded when the request was cancelled after 2345ms."},
		{"timed out before cancel", 10 * time.Second, true, &models.ErrorMessage{ErrorType: types.ErrorTypeTimeout, Message: "late"},
			"⚠️ SectorAgent did not respond within 10 seconds (timeout)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := reportInput()
			in.Synthesis = nil
			in.Sector = nil
			in.Timeout = tt.timeout
			in.Cancelled = tt.cancelled
			if tt.failure != nil {
				in.Failures = map[types.AgentRole]*models.ErrorMessage{types.RoleSector: tt.failure}
			}
			out := FormatReport(in)
			assert.Contains(t, out, tt.want)
			if tt.cancelled && tt.failure == nil {
				assert.NotContains(t, out, "(timeout)")
			}
		})
	}
}
