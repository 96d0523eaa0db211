package orchestrator

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
)

// ReportInput is everything the transparency report is rendered from
type ReportInput struct {
	RequestID       string
	WalletAddress   string
	Correlation     *models.CorrelationAnalysisResponse
	Sector          *models.SectorAnalysisResponse
	Synthesis       *models.GuardianSynthesis
	SynthesisFailed bool
	Failures        map[types.AgentRole]*models.ErrorMessage
	Timeout         time.Duration
	// Cancelled is set when the caller gave up before both roles answered
	Cancelled bool
	TotalMs   int64
}

// TruncateIdentity shortens long producer identities to first10...last3
func TruncateIdentity(id string) string {
	if len(id) <= 15 {
		return id
	}
	return id[:10] + "..." + id[len(id)-3:]
}

// FormatReport renders the combined report. It depends only on its input.
func FormatReport(in ReportInput) string {
	var b strings.Builder
	b.WriteString("🛡️ Guardian Portfolio Risk Analysis\n")
	fmt.Fprintf(&b, "Wallet: %s\n", in.WalletAddress)
	fmt.Fprintf(&b, "Request ID: %s\n\n", in.RequestID)

	if in.Correlation != nil {
		fmt.Fprintf(&b, "🔗 CorrelationAgent Analysis (%s):\n\n", TruncateIdentity(in.Correlation.AgentAddress))
		fmt.Fprintf(&b, "%s\n", in.Correlation.AnalysisData.Narrative)
		fmt.Fprintf(&b, "\n(Processing: %dms)\n\n", in.Correlation.ProcessingTimeMs)
	} else {
		b.WriteString("🔗 CorrelationAgent Analysis:\n\n")
		b.WriteString(missingNotice(types.RoleCorrelation, types.RoleSector, in.Sector != nil, in))
	}
	b.WriteString("---\n\n")

	if in.Sector != nil {
		fmt.Fprintf(&b, "🏛️ SectorAgent Analysis (%s):\n\n", TruncateIdentity(in.Sector.AgentAddress))
		fmt.Fprintf(&b, "%s\n", in.Sector.AnalysisData.Narrative)
		fmt.Fprintf(&b, "\n(Processing: %dms)\n\n", in.Sector.ProcessingTimeMs)
	} else {
		b.WriteString("🏛️ SectorAgent Analysis:\n\n")
		b.WriteString(missingNotice(types.RoleSector, types.RoleCorrelation, in.Correlation != nil, in))
	}
	b.WriteString("---\n\n")

	switch {
	case in.Synthesis != nil:
		s := in.Synthesis
		b.WriteString("🔮 Guardian Synthesis:\n\n")
		fmt.Fprintf(&b, "Risk Level: %s\n", s.OverallRiskLevel)
		fmt.Fprintf(&b, "Compounding Risk Detected: %s\n\n", yesNo(s.CompoundingRiskDetected))
		fmt.Fprintf(&b, "%s\n\n", s.SynthesisNarrative)
		fmt.Fprintf(&b, "Risk Multiplier Effect:\n%s\n\n", s.RiskMultiplierEffect)
		if len(s.Recommendations) > 0 {
			b.WriteString("📋 Recommendations:\n\n")
			for i, rec := range s.Recommendations {
				fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Action)
				fmt.Fprintf(&b, "   - **Why:** %s\n", rec.Rationale)
				fmt.Fprintf(&b, "   - **Expected Impact:** %s\n\n", rec.ExpectedImpact)
			}
		}
		b.WriteString("---\n\n")
	case in.Correlation != nil && in.Sector != nil:
		b.WriteString("🔮 Guardian Synthesis:\n\n")
		b.WriteString("⚠️ Guardian synthesis is unavailable: combining the two analyses failed. " +
			"Both individual analyses are shown above.\n\n")
		b.WriteString("---\n\n")
	}

	b.WriteString("⚙️ Agents Consulted:\n")
	if in.Correlation != nil {
		fmt.Fprintf(&b, "- %s (%s) - %dms\n", types.RoleCorrelation.DisplayName(), in.Correlation.AgentAddress, in.Correlation.ProcessingTimeMs)
	}
	if in.Sector != nil {
		fmt.Fprintf(&b, "- %s (%s) - %dms\n", types.RoleSector.DisplayName(), in.Sector.AgentAddress, in.Sector.ProcessingTimeMs)
	}
	if in.Correlation == nil && in.Sector == nil {
		b.WriteString("- none responded\n")
	}

	fmt.Fprintf(&b, "\n⏱️ Total Analysis Time: %.1f seconds\n", float64(in.TotalMs)/1000)
	return b.String()
}

// missingNotice explains why one role's analysis is absent
func missingNotice(role, other types.AgentRole, otherPresent bool, in ReportInput) string {
	var b strings.Builder
	name := role.DisplayName()

	em := in.Failures[role]
	switch {
	case em != nil && em.ErrorType != types.ErrorTypeTimeout:
		fmt.Fprintf(&b, "⚠️ %s could not complete the analysis (%s): %s.", name, em.ErrorType, em.Message)
	case em == nil && in.Cancelled:
		fmt.Fprintf(&b, "⚠️ %s had not responded when the request was cancelled after %dms.", name, in.TotalMs)
	default:
		fmt.Fprintf(&b, "⚠️ %s did not respond within %s (timeout).", name, apperrors.HumanDuration(in.Timeout))
	}

	if otherPresent {
		fmt.Fprintf(&b, " Proceeding with %s results only.", other.DisplayName())
		if role == types.RoleCorrelation {
			b.WriteString(" Analysis may have reduced historical context.")
		} else {
			b.WriteString(" Analysis may be incomplete.")
		}
	} else {
		b.WriteString(" No analysis results are available for this request.")
	}
	b.WriteString("\n\n")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
