// Package orchestrator fans one analysis request out to both analyzer roles,
// joins their replies under a bounded timeout and emits exactly one combined
// report per request id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
)

// Defaults applied when the coordinator config leaves a field zero
const (
	DefaultAgentTimeout      = 10 * time.Second
	DefaultLateResponseGrace = time.Minute
)

// CorrelationAnalyzer is the correlation role, local or remote
type CorrelationAnalyzer interface {
	AnalyzeCorrelation(ctx context.Context, req models.AnalysisRequest) (*models.CorrelationAnalysisResponse, error)
}

// SectorAnalyzer is the sector role, local or remote
type SectorAnalyzer interface {
	AnalyzeSector(ctx context.Context, req models.AnalysisRequest) (*models.SectorAnalysisResponse, error)
}

// Synthesizer combines both analyses
type Synthesizer interface {
	Synthesize(ctx context.Context, corr *models.CorrelationAnalysis, sector *models.SectorAnalysis) (*models.GuardianSynthesis, error)
}

// ReportSink receives every emitted report
type ReportSink interface {
	SaveAnalysis(ctx context.Context, resp *models.GuardianAnalysisResponse) error
}

// Config holds the coordinator timing
type Config struct {
	AgentTimeout      time.Duration
	LateResponseGrace time.Duration
}

// Coordinator runs the Dispatched -> AwaitingBoth -> BothArrived|TimedOut ->
// Synthesized -> Reported state machine for each request
type Coordinator struct {
	correlation CorrelationAnalyzer
	sector      SectorAnalyzer
	synth       Synthesizer
	sink        ReportSink
	timeout     time.Duration
	grace       time.Duration
	logger      *logging.Logger

	inflight sync.Map // request id -> *requestRecord
}

// NewCoordinator creates a coordinator. sink may be nil.
func NewCoordinator(correlation CorrelationAnalyzer, sector SectorAnalyzer, synth Synthesizer, sink ReportSink, cfg Config, logger *logging.Logger) *Coordinator {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultAgentTimeout
	}
	if cfg.LateResponseGrace <= 0 {
		cfg.LateResponseGrace = DefaultLateResponseGrace
	}
	return &Coordinator{
		correlation: correlation,
		sector:      sector,
		synth:       synth,
		sink:        sink,
		timeout:     cfg.AgentTimeout,
		grace:       cfg.LateResponseGrace,
		logger:      logger,
	}
}

// requestRecord is the per-request join state. Only the coordinator goroutine
// that created it emits; analyzers only deposit results.
type requestRecord struct {
	id        string
	startedAt time.Time
	sent      atomic.Bool
	notify    chan struct{}

	mu          sync.Mutex
	correlation *models.CorrelationAnalysisResponse
	sector      *models.SectorAnalysisResponse
	failures    map[types.AgentRole]*models.ErrorMessage
	late        []types.AgentRole
}

func newRequestRecord(id string) *requestRecord {
	return &requestRecord{
		id:        id,
		startedAt: time.Now(),
		notify:    make(chan struct{}, 4),
		failures:  make(map[types.AgentRole]*models.ErrorMessage),
	}
}

func (r *requestRecord) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *requestRecord) answered(role types.AgentRole) bool {
	if r.failures[role] != nil {
		return true
	}
	if role == types.RoleCorrelation {
		return r.correlation != nil
	}
	return r.sector != nil
}

func (r *requestRecord) complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answered(types.RoleCorrelation) && r.answered(types.RoleSector)
}

// store records a result or failure for role. It reports whether the report
// had already been emitted, making this a late arrival.
func (r *requestRecord) store(role types.AgentRole, corr *models.CorrelationAnalysisResponse, sector *models.SectorAnalysisResponse, failure *models.ErrorMessage) bool {
	r.mu.Lock()
	switch {
	case corr != nil:
		r.correlation = corr
		delete(r.failures, role)
	case sector != nil:
		r.sector = sector
		delete(r.failures, role)
	case failure != nil && !r.answered(role):
		r.failures[role] = failure
	}
	late := r.sent.Load()
	if late {
		r.late = append(r.late, role)
	}
	r.mu.Unlock()

	r.signal()
	return late
}

// RequestSnapshot is a copy of what a request record holds
type RequestSnapshot struct {
	RequestID    string                                   `json:"request_id"`
	Correlation  *models.CorrelationAnalysisResponse      `json:"correlation,omitempty"`
	Sector       *models.SectorAnalysisResponse           `json:"sector,omitempty"`
	Failures     map[types.AgentRole]*models.ErrorMessage `json:"failures"`
	Emitted      bool                                     `json:"emitted"`
	LateArrivals []types.AgentRole                        `json:"late_arrivals"`
}

func (r *requestRecord) snapshot() RequestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// markSent flips the sent marker and captures the state in one critical
// section, so every later store is counted as late. ok is false when the
// report was already emitted.
func (r *requestRecord) markSent() (RequestSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sent.CompareAndSwap(false, true) {
		return RequestSnapshot{}, false
	}
	return r.snapshotLocked(), true
}

func (r *requestRecord) snapshotLocked() RequestSnapshot {
	failures := make(map[types.AgentRole]*models.ErrorMessage, len(r.failures))
	for k, v := range r.failures {
		failures[k] = v
	}
	return RequestSnapshot{
		RequestID:    r.id,
		Correlation:  r.correlation,
		Sector:       r.sector,
		Failures:     failures,
		Emitted:      r.sent.Load(),
		LateArrivals: append([]types.AgentRole(nil), r.late...),
	}
}

// Responses returns the retained state of a request, including responses
// that arrived after its report was emitted
func (c *Coordinator) Responses(requestID string) (RequestSnapshot, bool) {
	v, ok := c.inflight.Load(requestID)
	if !ok {
		return RequestSnapshot{}, false
	}
	return v.(*requestRecord).snapshot(), true
}

// DeliverCorrelation accepts a correlation reply for a known request
func (c *Coordinator) DeliverCorrelation(resp *models.CorrelationAnalysisResponse) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	return c.deliver(resp.RequestID, types.RoleCorrelation, resp, nil, nil)
}

// DeliverSector accepts a sector reply for a known request
func (c *Coordinator) DeliverSector(resp *models.SectorAnalysisResponse) error {
	if err := resp.Validate(); err != nil {
		return err
	}
	return c.deliver(resp.RequestID, types.RoleSector, nil, resp, nil)
}

// DeliverError accepts an analyzer error for a known request
func (c *Coordinator) DeliverError(role types.AgentRole, msg *models.ErrorMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.deliver(msg.RequestID, role, nil, nil, msg)
}

func (c *Coordinator) deliver(requestID string, role types.AgentRole, corr *models.CorrelationAnalysisResponse, sector *models.SectorAnalysisResponse, failure *models.ErrorMessage) error {
	v, ok := c.inflight.Load(requestID)
	if !ok {
		c.logger.WithFields(map[string]interface{}{"request_id": requestID, "role": role}).Warn("reply for unknown request dropped")
		return apperrors.NewNotFoundError("request", requestID)
	}
	if late := v.(*requestRecord).store(role, corr, sector, failure); late {
		c.logger.WithFields(map[string]interface{}{"request_id": requestID, "role": role}).
			Warn("late reply stored, report already emitted")
	}
	return nil
}

// Analyze dispatches req to both roles concurrently, waits for both or the
// joint ceiling of twice the per-agent timeout, then synthesizes and reports.
// Only invalid input or a duplicate in-flight request id returns an error;
// analyzer failures and timeouts produce a degraded report instead.
func (c *Coordinator) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.GuardianAnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rec := newRequestRecord(req.RequestID)
	if _, loaded := c.inflight.LoadOrStore(req.RequestID, rec); loaded {
		return nil, apperrors.NewConflictError(fmt.Sprintf("request %s is already in flight", req.RequestID))
	}
	log := c.logger.WithFields(map[string]interface{}{
		"request_id": req.RequestID,
		"wallet":     req.WalletAddress,
	})
	log.Info("dispatching analysis request")

	go c.dispatch(ctx, rec, req, types.RoleCorrelation)
	go c.dispatch(ctx, rec, req, types.RoleSector)

	outcome := c.await(ctx, rec)
	resp := c.emit(ctx, rec, req, outcome, log)
	time.AfterFunc(c.grace, func() { c.inflight.CompareAndDelete(req.RequestID, rec) })
	return resp, nil
}

// waitOutcome records why Analyze stopped waiting for the roles
type waitOutcome int

const (
	outcomeComplete waitOutcome = iota
	outcomeCeiling
	outcomeCancelled
)

func (o waitOutcome) String() string {
	switch o {
	case outcomeCeiling:
		return "ceiling"
	case outcomeCancelled:
		return "cancelled"
	default:
		return "complete"
	}
}

// await blocks until both roles answered, the joint ceiling of twice the
// per-agent timeout expired, or the caller cancelled.
func (c *Coordinator) await(ctx context.Context, rec *requestRecord) waitOutcome {
	ceiling := time.NewTimer(2 * c.timeout)
	defer ceiling.Stop()

	for !rec.complete() {
		select {
		case <-rec.notify:
		case <-ceiling.C:
			return outcomeCeiling
		case <-ctx.Done():
			return outcomeCancelled
		}
	}
	return outcomeComplete
}

func (c *Coordinator) dispatch(ctx context.Context, rec *requestRecord, req models.AnalysisRequest, role types.AgentRole) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			c.logger.WithFields(map[string]interface{}{"request_id": rec.id, "role": role, "panic": p}).Error("analyzer panicked")
			rec.store(role, nil, nil, &models.ErrorMessage{
				RequestID:        rec.id,
				ErrorType:        types.ErrorTypeAgentUnavailable,
				Message:          fmt.Sprintf("%s failed unexpectedly", role.DisplayName()),
				RetryRecommended: true,
			})
		}
	}()

	var err error
	switch role {
	case types.RoleCorrelation:
		var resp *models.CorrelationAnalysisResponse
		if resp, err = c.correlation.AnalyzeCorrelation(actx, req); err == nil {
			if err = resp.Validate(); err == nil {
				rec.store(role, resp, nil, nil)
				return
			}
		}
	case types.RoleSector:
		var resp *models.SectorAnalysisResponse
		if resp, err = c.sector.AnalyzeSector(actx, req); err == nil {
			if err = resp.Validate(); err == nil {
				rec.store(role, nil, resp, nil)
				return
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = apperrors.NewTimeoutError(role.DisplayName(), c.timeout)
	}
	msg := models.NewErrorMessage(rec.id, "", err)
	c.logger.WithFields(map[string]interface{}{
		"request_id": rec.id,
		"role":       role,
		"error_type": msg.ErrorType,
	}).WithError(err).Warn("analyzer returned an error")
	rec.store(role, nil, nil, msg)
}

// emit builds and hands out the single report for rec. The sent marker makes
// any second attempt a no-op. Reports for cancelled requests are returned
// but not persisted.
func (c *Coordinator) emit(ctx context.Context, rec *requestRecord, req models.AnalysisRequest, outcome waitOutcome, log *logging.Logger) *models.GuardianAnalysisResponse {
	snap, ok := rec.markSent()
	if !ok {
		return nil
	}

	var corr *models.CorrelationAnalysis
	var sector *models.SectorAnalysis
	agents := make(map[string]string, 2)
	if snap.Correlation != nil {
		corr = &snap.Correlation.AnalysisData
		agents[string(types.RoleCorrelation)] = snap.Correlation.AgentAddress
	}
	if snap.Sector != nil {
		sector = &snap.Sector.AnalysisData
		agents[string(types.RoleSector)] = snap.Sector.AgentAddress
	}

	var synthesis *models.GuardianSynthesis
	synthesisFailed := false
	if corr != nil && sector != nil {
		s, err := c.safeSynthesize(ctx, corr, sector)
		if err != nil {
			synthesisFailed = true
			log.WithError(err).Error("synthesis unavailable, reporting individual analyses")
		}
		synthesis = s
	}

	elapsed := time.Since(rec.startedAt).Milliseconds()
	resp := &models.GuardianAnalysisResponse{
		RequestID:           req.RequestID,
		WalletAddress:       req.WalletAddress,
		CorrelationAnalysis: corr,
		SectorAnalysis:      sector,
		Synthesis:           synthesis,
		ResponseText: FormatReport(ReportInput{
			RequestID:       req.RequestID,
			WalletAddress:   req.WalletAddress,
			Correlation:     snap.Correlation,
			Sector:          snap.Sector,
			Synthesis:       synthesis,
			SynthesisFailed: synthesisFailed,
			Failures:        snap.Failures,
			Timeout:         c.timeout,
			Cancelled:       outcome == outcomeCancelled,
			TotalMs:         elapsed,
		}),
		AgentAddresses:        agents,
		TotalProcessingTimeMs: elapsed,
		CreatedAt:             time.Now().UTC(),
	}

	log.WithFields(map[string]interface{}{
		"outcome":       outcome.String(),
		"has_corr":      corr != nil,
		"has_sector":    sector != nil,
		"has_synthesis": synthesis != nil,
		"elapsed_ms":    elapsed,
	}).Info("analysis report emitted")

	if outcome == outcomeCancelled {
		log.Info("request cancelled by caller, report not persisted")
		return resp
	}
	if c.sink != nil {
		if err := c.sink.SaveAnalysis(context.WithoutCancel(ctx), resp); err != nil {
			log.WithError(err).Warn("failed to persist analysis report")
		}
	}
	return resp
}

// safeSynthesize turns synthesis errors and panics into SynthesisUnavailable
func (c *Coordinator) safeSynthesize(ctx context.Context, corr *models.CorrelationAnalysis, sector *models.SectorAnalysis) (s *models.GuardianSynthesis, err error) {
	defer func() {
		if p := recover(); p != nil {
			s = nil
			err = apperrors.NewSynthesisUnavailableError(fmt.Errorf("panic: %v", p))
		}
	}()
	if c.synth == nil {
		return nil, apperrors.NewSynthesisUnavailableError(errors.New("no synthesizer configured"))
	}
	s, err = c.synth.Synthesize(ctx, corr, sector)
	if err != nil {
		return nil, apperrors.NewSynthesisUnavailableError(err)
	}
	return s, nil
}
