package models

import "time"

// MaxExchangeHistory bounds the per-session exchange log
const MaxExchangeHistory = 10

// Exchange is one user message and the system reply to it
type Exchange struct {
	UserText   string    `json:"user_text"`
	SystemText string    `json:"system_text"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationState is everything remembered about one session
type ConversationState struct {
	SessionID     string               `json:"session_id"`
	WalletAddress string               `json:"wallet_address,omitempty"`
	Portfolio     *Portfolio           `json:"portfolio,omitempty"`
	Correlation   *CorrelationAnalysis `json:"correlation,omitempty"`
	Sector        *SectorAnalysis      `json:"sector,omitempty"`
	Synthesis     *GuardianSynthesis   `json:"synthesis,omitempty"`
	History       []Exchange           `json:"history"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// AppendExchange pushes an exchange and drops the oldest beyond the limit
func (s *ConversationState) AppendExchange(userText, systemText string, at time.Time) {
	s.History = append(s.History, Exchange{UserText: userText, SystemText: systemText, Timestamp: at})
	if over := len(s.History) - MaxExchangeHistory; over > 0 {
		s.History = append([]Exchange(nil), s.History[over:]...)
	}
	s.UpdatedAt = at
}

// HasAnalysis reports whether a previous run left results to answer from
func (s *ConversationState) HasAnalysis() bool {
	return s != nil && (s.Correlation != nil || s.Sector != nil)
}
