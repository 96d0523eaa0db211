package session

import (
	"regexp"
	"strings"
)

// FollowUpKind is what a follow-up question is about
type FollowUpKind string

const (
	FollowUpCorrelation    FollowUpKind = "correlation"
	FollowUpSector         FollowUpKind = "sector"
	FollowUpRecommendation FollowUpKind = "recommendation"
	FollowUpCrashContext   FollowUpKind = "crash-context"
	FollowUpUnclear        FollowUpKind = "unclear"
)

// Checked in order; the first match wins.
var followUpPatterns = []struct {
	kind    FollowUpKind
	pattern *regexp.Regexp
}{
	{FollowUpRecommendation, regexp.MustCompile(`\b(recommend\w*|suggest\w*|advice|advise|should i|what (can|do) i do|next steps?|how (do|can) i (fix|reduce|improve))\b`)},
	{FollowUpCrashContext, regexp.MustCompile(`\b(crash\w*|bear|history|historical\w*|recover\w*|20(18|20|21|22)|ftx|luna|drawdown|lost)\b`)},
	{FollowUpCorrelation, regexp.MustCompile(`\b(correlat\w*|eth|ethereum|move together|leverage|coefficient)\b`)},
	{FollowUpSector, regexp.MustCompile(`\b(sectors?|concentrat\w*|diversif\w*|defi|governance|layer[- ]?[12]s?|allocation)\b`)},
}

// ClassifyFollowUp maps a free-text question onto the part of the last
// analysis it asks about.
func ClassifyFollowUp(text string) FollowUpKind {
	t := strings.ToLower(text)
	for _, p := range followUpPatterns {
		if p.pattern.MatchString(t) {
			return p.kind
		}
	}
	return FollowUpUnclear
}

var walletPattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)

// ExtractWalletAddress returns the first wallet address in text, or "" if
// there is none. Longer hex runs are not addresses.
func ExtractWalletAddress(text string) string {
	for _, loc := range walletPattern.FindAllStringIndex(text, -1) {
		end := loc[1]
		if end < len(text) && isHex(text[end]) {
			continue
		}
		return text[loc[0]:end]
	}
	return ""
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
