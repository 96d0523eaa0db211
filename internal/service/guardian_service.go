// Package service holds the guardian chat flow: wallet extraction, analysis
// dispatch, session persistence and follow-up answers.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-guardian/internal/analysis"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/session"
)

// Reply kinds returned by HandleMessage
const (
	ReplyAnalysis       = "analysis"
	ReplyFollowUp       = "follow_up"
	ReplyWalletNotFound = "wallet_not_found"
	ReplyHelp           = "help"
)

const helpText = "Sorry, I couldn't find a valid Ethereum wallet address in your message. " +
	"Please provide a wallet address in the format: 0x... (40 hex characters)"

// Analyzer runs one combined analysis
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.GuardianAnalysisResponse, error)
}

// RecoveryWinnerSource lists the tokens that led a crash recovery
type RecoveryWinnerSource interface {
	RecoveryWinners(ctx context.Context, scenarioID string) []string
}

// Config holds service settings
type Config struct {
	// RequestedBy is stamped on every analysis request
	RequestedBy string
	// CrashScenario is the scenario used to answer recovery questions
	CrashScenario string
}

// GuardianService turns chat messages into analyses and answers
type GuardianService struct {
	analyzer Analyzer
	wallets  provider.PortfolioSource
	sessions session.Store
	winners  RecoveryWinnerSource
	cfg      Config
	logger   *logging.Logger
	now      func() time.Time
}

// NewGuardianService creates the service. winners may be nil.
func NewGuardianService(
	analyzer Analyzer,
	wallets provider.PortfolioSource,
	sessions session.Store,
	winners RecoveryWinnerSource,
	cfg Config,
	logger *logging.Logger,
) *GuardianService {
	if cfg.RequestedBy == "" {
		cfg.RequestedBy = "guardian"
	}
	if cfg.CrashScenario == "" {
		cfg.CrashScenario = analysis.DefaultSectorCrashScenario
	}
	return &GuardianService{
		analyzer: analyzer,
		wallets:  wallets,
		sessions: sessions,
		winners:  winners,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ChatReply is the answer to one chat message
type ChatReply struct {
	SessionID string                           `json:"session_id"`
	Kind      string                           `json:"kind"`
	Text      string                           `json:"text"`
	FollowUp  session.FollowUpKind             `json:"follow_up,omitempty"`
	Analysis  *models.GuardianAnalysisResponse `json:"analysis,omitempty"`
}

// AnalyzeInput selects what to analyze. Portfolio wins over WalletAddress.
type AnalyzeInput struct {
	WalletAddress string            `json:"wallet_address,omitempty"`
	Portfolio     *models.Portfolio `json:"portfolio,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
}

// Analyze runs a combined analysis for a wallet or an explicit portfolio.
// When SessionID is set the results become that session's context.
func (s *GuardianService) Analyze(ctx context.Context, in AnalyzeInput) (*models.GuardianAnalysisResponse, error) {
	portfolio := in.Portfolio
	if portfolio == nil {
		if in.WalletAddress == "" {
			return nil, apperrors.NewInvalidDataError("wallet_address", "either wallet_address or portfolio is required")
		}
		p, err := s.wallets.LoadPortfolio(ctx, in.WalletAddress)
		if err != nil {
			return nil, err
		}
		portfolio = p
	} else if err := portfolio.Validate(); err != nil {
		return nil, err
	}

	resp, err := s.analyze(ctx, portfolio)
	if err != nil {
		return nil, err
	}

	if in.SessionID != "" {
		prior := s.loadState(ctx, in.SessionID)
		state := stateFromAnalysis(in.SessionID, portfolio, resp, prior)
		state.UpdatedAt = s.now()
		s.saveState(ctx, state)
	}
	return resp, nil
}

// HandleMessage runs the chat flow for one message. A wallet address starts
// a new analysis; otherwise questions are answered from the session's last
// analysis, and sessions without one get the address format help.
func (s *GuardianService) HandleMessage(ctx context.Context, sessionID, text string) (*ChatReply, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.NewInvalidDataError("session_id", "empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidDataError("text", "empty")
	}

	log := s.logger.WithField("session_id", sessionID)
	state := s.loadState(ctx, sessionID)

	if wallet := session.ExtractWalletAddress(text); wallet != "" {
		log.WithField("wallet", wallet).Info("wallet address found in message")
		return s.handleWallet(ctx, sessionID, wallet, text, state)
	}

	if state.HasAnalysis() {
		kind := session.ClassifyFollowUp(text)
		reply := &ChatReply{
			SessionID: sessionID,
			Kind:      ReplyFollowUp,
			FollowUp:  kind,
			Text:      s.answerFollowUp(ctx, state, kind),
		}
		s.recordExchange(ctx, state, sessionID, text, reply.Text)
		return reply, nil
	}

	reply := &ChatReply{SessionID: sessionID, Kind: ReplyHelp, Text: helpText}
	s.recordExchange(ctx, state, sessionID, text, reply.Text)
	return reply, nil
}

func (s *GuardianService) handleWallet(ctx context.Context, sessionID, wallet, text string, state *models.ConversationState) (*ChatReply, error) {
	portfolio, err := s.wallets.LoadPortfolio(ctx, wallet)
	if apperrors.Is(err, apperrors.CategoryNotFound) {
		reply := &ChatReply{
			SessionID: sessionID,
			Kind:      ReplyWalletNotFound,
			Text:      s.walletNotFoundText(wallet, err),
		}
		s.recordExchange(ctx, state, sessionID, text, reply.Text)
		return reply, nil
	}
	if err != nil {
		return nil, err
	}

	resp, err := s.analyze(ctx, portfolio)
	if err != nil {
		return nil, err
	}

	next := stateFromAnalysis(sessionID, portfolio, resp, state)
	next.AppendExchange(text, resp.ResponseText, s.now())
	s.saveState(ctx, next)

	return &ChatReply{
		SessionID: sessionID,
		Kind:      ReplyAnalysis,
		Text:      resp.ResponseText,
		Analysis:  resp,
	}, nil
}

func (s *GuardianService) analyze(ctx context.Context, portfolio *models.Portfolio) (*models.GuardianAnalysisResponse, error) {
	req := models.AnalysisRequest{
		RequestID:     uuid.NewString(),
		WalletAddress: portfolio.WalletAddress,
		PortfolioData: *portfolio,
		RequestedBy:   s.cfg.RequestedBy,
	}
	return s.analyzer.Analyze(ctx, req)
}

func (s *GuardianService) walletNotFoundText(wallet string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I couldn't find wallet %s in the demo data.", wallet)
	var ce *apperrors.CategorizedError
	if errors.As(err, &ce) {
		if available, ok := ce.Details["available"].(string); ok && available != "" {
			fmt.Fprintf(&b, " Available demo wallets: %s", available)
		}
	}
	return b.String()
}

// State returns the stored conversation for sessionID
func (s *GuardianService) State(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	state, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, apperrors.NewNotFoundError("session", sessionID)
	}
	return state, err
}

// ClearSession forgets everything about sessionID
func (s *GuardianService) ClearSession(ctx context.Context, sessionID string) error {
	return s.sessions.Clear(ctx, sessionID)
}

// loadState returns nil when the session is new. Store failures are logged
// and treated as a new session so analysis keeps working without the store.
func (s *GuardianService) loadState(ctx context.Context, sessionID string) *models.ConversationState {
	state, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			s.logger.WithField("session_id", sessionID).WithError(err).Warn("failed to load session")
		}
		return nil
	}
	return state
}

func (s *GuardianService) saveState(ctx context.Context, state *models.ConversationState) {
	if err := s.sessions.Put(ctx, state); err != nil {
		s.logger.WithField("session_id", state.SessionID).WithError(err).Warn("failed to save session")
	}
}

func (s *GuardianService) recordExchange(ctx context.Context, state *models.ConversationState, sessionID, userText, systemText string) {
	if state != nil {
		if err := s.sessions.AppendExchange(ctx, sessionID, userText, systemText); err != nil {
			s.logger.WithField("session_id", sessionID).WithError(err).Warn("failed to record exchange")
		}
		return
	}
	fresh := &models.ConversationState{SessionID: sessionID}
	fresh.AppendExchange(userText, systemText, s.now())
	s.saveState(ctx, fresh)
}

func stateFromAnalysis(sessionID string, portfolio *models.Portfolio, resp *models.GuardianAnalysisResponse, prior *models.ConversationState) *models.ConversationState {
	state := &models.ConversationState{
		SessionID:     sessionID,
		WalletAddress: portfolio.WalletAddress,
		Portfolio:     portfolio,
		Correlation:   resp.CorrelationAnalysis,
		Sector:        resp.SectorAnalysis,
		Synthesis:     resp.Synthesis,
	}
	if prior != nil {
		state.History = prior.History
	}
	return state
}
