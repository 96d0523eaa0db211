package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/models"
)

// DefaultHistoryLimit caps ListByWallet when the caller passes no limit
const DefaultHistoryLimit = 20

// AnalysisRepository persists every emitted report. It is the coordinator's
// report sink.
type AnalysisRepository struct {
	db *PostgresDB
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *PostgresDB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// SaveAnalysis stores resp. A request id is written once; repeats are ignored.
func (r *AnalysisRepository) SaveAnalysis(ctx context.Context, resp *models.GuardianAnalysisResponse) error {
	report, err := json.Marshal(resp)
	if err != nil {
		return apperrors.NewInternalError("encode analysis report", err)
	}

	var riskLevel *string
	compounding := false
	if resp.Synthesis != nil {
		lvl := string(resp.Synthesis.OverallRiskLevel)
		riskLevel = &lvl
		compounding = resp.Synthesis.CompoundingRiskDetected
	}
	var correlationPct *int
	if resp.CorrelationAnalysis != nil {
		correlationPct = &resp.CorrelationAnalysis.Percentage
	}

	query := `
		INSERT INTO guardian_analyses (
			request_id, wallet_address, risk_level, compounding_risk, correlation_pct,
			total_processing_ms, report, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING
	`
	_, err = r.db.Pool().Exec(ctx, query,
		resp.RequestID,
		strings.ToLower(resp.WalletAddress),
		riskLevel,
		compounding,
		correlationPct,
		resp.TotalProcessingTimeMs,
		report,
		resp.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("save analysis", err)
	}
	return nil
}

// GetByRequestID returns the stored report for requestID
func (r *AnalysisRepository) GetByRequestID(ctx context.Context, requestID string) (*models.GuardianAnalysisResponse, error) {
	var report []byte
	err := r.db.Pool().QueryRow(ctx,
		`SELECT report FROM guardian_analyses WHERE request_id = $1`, requestID,
	).Scan(&report)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("analysis", requestID)
		}
		return nil, apperrors.NewDatabaseError("get analysis", err)
	}
	return decodeReport(report)
}

// ListByWallet returns the newest reports for wallet first
func (r *AnalysisRepository) ListByWallet(ctx context.Context, wallet string, limit int) ([]*models.GuardianAnalysisResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `
		SELECT report
		FROM guardian_analyses
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(wallet), limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list analyses", err)
	}
	defer rows.Close()

	var out []*models.GuardianAnalysisResponse
	for rows.Next() {
		var report []byte
		if err := rows.Scan(&report); err != nil {
			return nil, apperrors.NewDatabaseError("scan analysis", err)
		}
		resp, err := decodeReport(report)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate analyses", err)
	}
	return out, nil
}

func decodeReport(raw []byte) (*models.GuardianAnalysisResponse, error) {
	var resp models.GuardianAnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.NewInternalError("decode analysis report", err)
	}
	return &resp, nil
}
