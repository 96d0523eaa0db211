package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/session"
	"github.com/portfolio-guardian/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoWallet = "0x9aabD891ab1FaA750FAE5aba9b55623c7F69fD58"

type fakeAnalyzer struct {
	mu   sync.Mutex
	reqs []models.AnalysisRequest
	err  error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.GuardianAnalysisResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.GuardianAnalysisResponse{
		RequestID:     req.RequestID,
		WalletAddress: req.WalletAddress,
		CorrelationAnalysis: &models.CorrelationAnalysis{
			ReferenceSymbol: "ETH",
			Coefficient:     0.95,
			Percentage:      95,
			Interpretation:  types.InterpretationHigh,
			HistoricalContext: []models.CrashPerformance{{
				CrashName: "2022 Bear Market", Period: "Nov 2021 - Jun 2022", CorrelationBracket: ">90%",
				PortfolioLossPct: -73, ReferenceLossPct: -75,
			}},
		},
		SectorAnalysis: &models.SectorAnalysis{
			SectorBreakdown: map[string]models.SectorHolding{
				"DeFi Governance": {SectorName: "DeFi Governance", Percentage: 70, TokenSymbols: []string{"UNI", "AAVE"}},
				"Layer-2":         {SectorName: "Layer-2", Percentage: 30, TokenSymbols: []string{"OP"}},
			},
			ConcentratedSectors:  []string{"DeFi Governance"},
			DiversificationScore: types.ScoreModerateConcentration,
		},
		Synthesis: &models.GuardianSynthesis{
			OverallRiskLevel: types.RiskCritical,
			Recommendations: []models.Recommendation{
				{Priority: 1, Action: "Reduce ETH correlation", Rationale: "95% correlation amplifies losses"},
			},
		},
		ResponseText: "full report",
	}, nil
}

type fakeWallets struct{}

func (fakeWallets) LoadPortfolio(ctx context.Context, wallet string) (*models.Portfolio, error) {
	if wallet != demoWallet {
		e := apperrors.NewNotFoundError("wallet", wallet)
		e.Details["available"] = demoWallet
		return nil, e
	}
	return models.NewPortfolio(demoWallet, []models.TokenHolding{
		{Symbol: "UNI", Amount: 10, PriceUSD: 7, ValueUSD: 70},
		{Symbol: "OP", Amount: 10, PriceUSD: 3, ValueUSD: 30},
	}, 100)
}

type fixedWinners []string

func (w fixedWinners) RecoveryWinners(ctx context.Context, scenarioID string) []string { return w }

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, id string) (*models.ConversationState, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Put(ctx context.Context, s *models.ConversationState) error {
	return errors.New("store down")
}
func (brokenStore) AppendExchange(ctx context.Context, id, u, s string) error {
	return errors.New("store down")
}
func (brokenStore) Clear(ctx context.Context, id string) error { return errors.New("store down") }

func newTestService(t *testing.T) (*GuardianService, *fakeAnalyzer, *session.MemoryStore) {
	t.Helper()
	analyzer := &fakeAnalyzer{}
	store := session.NewMemoryStore()
	svc := NewGuardianService(analyzer, fakeWallets{}, store, fixedWinners{"SOL", "AVAX"}, Config{}, logging.NewNopLogger())
	return svc, analyzer, store
}

func TestHandleMessage_Help(t *testing.T) {
	svc, analyzer, store := newTestService(t)
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, "s1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, ReplyHelp, reply.Kind)
	assert.Contains(t, reply.Text, "0x... (40 hex characters)")
	assert.Empty(t, analyzer.reqs)

	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, state.History, 1)
	assert.False(t, state.HasAnalysis())
}

func TestHandleMessage_AnalysisThenFollowUps(t *testing.T) {
	svc, analyzer, store := newTestService(t)
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, "s1", "please check "+demoWallet+" for me")
	require.NoError(t, err)
	assert.Equal(t, ReplyAnalysis, reply.Kind)
	assert.Equal(t, "full report", reply.Text)
	require.Len(t, analyzer.reqs, 1)
	assert.Equal(t, demoWallet, analyzer.reqs[0].WalletAddress)
	assert.Equal(t, "guardian", analyzer.reqs[0].RequestedBy)
	assert.NotEmpty(t, analyzer.reqs[0].RequestID)

	tests := []struct {
		text     string
		kind     session.FollowUpKind
		contains string
	}{
		{"why is my correlation so high?", session.FollowUpCorrelation, "95% correlated with ETH"},
		{"which sector am I concentrated in?", session.FollowUpSector, "DeFi Governance: 70.0% (UNI, AAVE)"},
		{"what should I do?", session.FollowUpRecommendation, "1. Reduce ETH correlation"},
		{"how did this do in past crashes?", session.FollowUpCrashContext, "Tokens that led the recovery: SOL, AVAX"},
		{"tell me a joke", session.FollowUpUnclear, demoWallet},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			reply, err := svc.HandleMessage(ctx, "s1", tt.text)
			require.NoError(t, err)
			assert.Equal(t, ReplyFollowUp, reply.Kind)
			assert.Equal(t, tt.kind, reply.FollowUp)
			assert.Contains(t, reply.Text, tt.contains)
		})
	}

	assert.Len(t, analyzer.reqs, 1, "follow-ups never re-run the analysis")
	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, state.History, 1+len(tests))
	assert.Equal(t, demoWallet, state.WalletAddress)
}

func TestHandleMessage_NewWalletReplacesContext(t *testing.T) {
	svc, analyzer, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.HandleMessage(ctx, "s1", demoWallet)
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, "s1", "again: "+demoWallet)
	require.NoError(t, err)

	assert.Len(t, analyzer.reqs, 2)
	assert.NotEqual(t, analyzer.reqs[0].RequestID, analyzer.reqs[1].RequestID)
	state, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, state.History, 2, "history survives a new analysis")
}

func TestHandleMessage_UnknownWallet(t *testing.T) {
	svc, analyzer, _ := newTestService(t)

	reply, err := svc.HandleMessage(context.Background(), "s1", "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, ReplyWalletNotFound, reply.Kind)
	assert.Contains(t, reply.Text, "Available demo wallets: "+demoWallet)
	assert.Empty(t, analyzer.reqs)
}

func TestHandleMessage_InvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.HandleMessage(context.Background(), "", "hi")
	assert.True(t, apperrors.Is(err, apperrors.CategoryInvalidData))
	_, err = svc.HandleMessage(context.Background(), "s1", "   ")
	assert.True(t, apperrors.Is(err, apperrors.CategoryInvalidData))
}

func TestHandleMessage_AnalyzerError(t *testing.T) {
	svc, analyzer, _ := newTestService(t)
	analyzer.err = apperrors.NewConflictError("busy")

	_, err := svc.HandleMessage(context.Background(), "s1", demoWallet)
	assert.True(t, apperrors.Is(err, apperrors.CategoryConflict))
}

func TestHandleMessage_StoreUnavailable(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	svc := NewGuardianService(analyzer, fakeWallets{}, brokenStore{}, nil, Config{}, logging.NewNopLogger())

	reply, err := svc.HandleMessage(context.Background(), "s1", demoWallet)
	require.NoError(t, err, "analysis still answers without the session store")
	assert.Equal(t, ReplyAnalysis, reply.Kind)
}

func TestAnalyze(t *testing.T) {
	svc, analyzer, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeInput{})
	assert.True(t, apperrors.Is(err, apperrors.CategoryInvalidData))

	resp, err := svc.Analyze(ctx, AnalyzeInput{WalletAddress: demoWallet, SessionID: "api"})
	require.NoError(t, err)
	assert.Equal(t, demoWallet, resp.WalletAddress)

	state, err := svc.State(ctx, "api")
	require.NoError(t, err)
	assert.True(t, state.HasAnalysis())

	custom, err := models.NewPortfolio("0x1111111111111111111111111111111111111111",
		[]models.TokenHolding{{Symbol: "ETH", Amount: 1, PriceUSD: 100, ValueUSD: 100}}, 100)
	require.NoError(t, err)
	_, err = svc.Analyze(ctx, AnalyzeInput{Portfolio: custom, WalletAddress: demoWallet})
	require.NoError(t, err)
	assert.Equal(t, custom.WalletAddress, analyzer.reqs[len(analyzer.reqs)-1].WalletAddress)

	require.NoError(t, svc.ClearSession(ctx, "api"))
	_, err = svc.State(ctx, "api")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
	_, err = store.Get(ctx, "api")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestFollowUp_UsesStoredReferenceAndLossMagnitudes(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	state := &models.ConversationState{
		SessionID:     "s1",
		WalletAddress: demoWallet,
		Correlation: &models.CorrelationAnalysis{
			ReferenceSymbol: "BTC",
			Percentage:      88,
			Interpretation:  types.InterpretationHigh,
			HistoricalContext: []models.CrashPerformance{
				{CrashName: "2022 Bear Market", Period: "Nov 2021 - Jun 2022", CorrelationBracket: "80-90%", PortfolioLossPct: 68, ReferenceLossPct: -65},
			},
		},
		Sector: &models.SectorAnalysis{
			SectorRisks: []models.SectorRisk{
				{SectorName: "DeFi Governance", CrashScenario: "2022 Bear Market", SectorLossPct: -80, MarketAvgLossPct: 55},
			},
		},
	}

	crash := svc.answerFollowUp(ctx, state, session.FollowUpCrashContext)
	assert.Contains(t, crash, "lost 68% while BTC fell 65%")
	assert.Contains(t, crash, "DeFi Governance fell 80% in 2022 Bear Market (market average 55%)")
	assert.NotContains(t, crash, "fell -")
	assert.NotContains(t, crash, "lost -")
	assert.NotContains(t, crash, "ETH")

	unclear := svc.answerFollowUp(ctx, state, session.FollowUpUnclear)
	assert.Contains(t, unclear, "its correlation with BTC")

	state.Correlation = nil
	assert.Contains(t, svc.answerFollowUp(ctx, state, session.FollowUpUnclear), "its correlation with ETH")
}
