// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/orchestrator"
	"github.com/portfolio-guardian/internal/service"
)

// Service interfaces for dependency injection and testing

// GuardianServiceInterface defines the chat and analysis operations
type GuardianServiceInterface interface {
	Analyze(ctx context.Context, in service.AnalyzeInput) (*models.GuardianAnalysisResponse, error)
	HandleMessage(ctx context.Context, sessionID, text string) (*service.ChatReply, error)
	State(ctx context.Context, sessionID string) (*models.ConversationState, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// AnalysisHistoryInterface defines read access to stored reports
type AnalysisHistoryInterface interface {
	GetByRequestID(ctx context.Context, requestID string) (*models.GuardianAnalysisResponse, error)
	ListByWallet(ctx context.Context, wallet string, limit int) ([]*models.GuardianAnalysisResponse, error)
}

// Agents are the analyzer roles this process serves over HTTP. Either may be
// nil, in which case its route answers agent_unavailable. Replies, when set,
// takes replies that remote analyzers push back for in-flight requests.
type Agents struct {
	Correlation orchestrator.CorrelationAnalyzer
	Sector      orchestrator.SectorAnalyzer
	Replies     ReplyReceiver
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	guardian   GuardianServiceInterface
	history    AnalysisHistoryInterface
	agents     Agents
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per client, 0 disables rate limiting
	Burst             int
}

// NewServer creates a new API server instance. history may be nil when no
// database is configured.
func NewServer(
	config *ServerConfig,
	guardian GuardianServiceInterface,
	history AnalysisHistoryInterface,
	agents Agents,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		guardian: guardian,
		history:  history,
		agents:   agents,
		config:   config,
		logger:   logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerMinute > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Analysis endpoints
	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/analyses/{requestId}", s.handleGetAnalysis).Methods("GET")
	api.HandleFunc("/wallets/{address}/analyses", s.handleListWalletAnalyses).Methods("GET")

	// Analyzer role endpoints
	api.HandleFunc("/agents/correlation/analyze", s.handleCorrelationAgent).Methods("POST")
	api.HandleFunc("/agents/sector/analyze", s.handleSectorAgent).Methods("POST")
	api.HandleFunc("/requests/{requestId}/replies/{role}", s.handleDeliverReply).Methods("POST")
	api.HandleFunc("/requests/{requestId}/replies", s.handleGetReplies).Methods("GET")

	// Chat session endpoints
	api.HandleFunc("/sessions/{id}/messages", s.handleSessionMessage).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-guardian",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
