package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// ResolutionRepository handles resolution data access. Every transition
// is a guarded UPDATE carrying the expected source status, which keeps
// the execution state machine consistent under concurrent workers.
type ResolutionRepository struct {
	db *pgxpool.Pool
}

// NewResolutionRepository creates a new resolution repository
func NewResolutionRepository(db *pgxpool.Pool) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

const resolutionColumns = `id, issue_id, action_id, action_type, action_details, status,
		confidence_score, impact_analysis, requires_approval, recommendation_only,
		approval_id, approval_status, attempt_count, metadata,
		executed_at, execution_result, created_at, updated_at`

// Create inserts a new resolution.
func (r *ResolutionRepository) Create(ctx context.Context, res *domain.Resolution) error {
	query := `
		INSERT INTO resolutions (
			id, issue_id, action_id, action_type, action_details, status,
			confidence_score, impact_analysis, requires_approval, recommendation_only,
			approval_id, approval_status, attempt_count, metadata,
			executed_at, execution_result, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.Exec(ctx, query,
		res.ID,
		res.IssueID,
		res.ActionID,
		res.ActionType,
		res.ActionDetails,
		res.Status,
		res.ConfidenceScore,
		res.Impact,
		res.RequiresApproval,
		res.RecommendationOnly,
		res.ApprovalID,
		res.ApprovalStatus,
		res.AttemptCount,
		res.Metadata,
		res.ExecutedAt,
		res.ExecutionResult,
		res.CreatedAt,
		res.UpdatedAt,
	)
	return err
}

// Get retrieves a resolution by ID.
func (r *ResolutionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Resolution, error) {
	var res domain.Resolution
	query := fmt.Sprintf(`SELECT %s FROM resolutions WHERE id = $1`, resolutionColumns)
	if err := pgxscan.Get(ctx, r.db, &res, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// GetByApproval retrieves the resolution waiting on the given approval
// request.
func (r *ResolutionRepository) GetByApproval(ctx context.Context, approvalID uuid.UUID) (*domain.Resolution, error) {
	var res domain.Resolution
	query := fmt.Sprintf(`SELECT %s FROM resolutions WHERE approval_id = $1`, resolutionColumns)
	if err := pgxscan.Get(ctx, r.db, &res, query, approvalID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListByStatus returns resolutions in the given status, newest first.
func (r *ResolutionRepository) ListByStatus(ctx context.Context, status domain.ResolutionStatus, limit int) ([]*domain.Resolution, error) {
	if limit <= 0 {
		limit = 50
	}
	var resolutions []*domain.Resolution
	query := fmt.Sprintf(`
		SELECT %s
		FROM resolutions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, resolutionColumns)
	if err := pgxscan.Select(ctx, r.db, &resolutions, query, status, limit); err != nil {
		return nil, err
	}
	return resolutions, nil
}

// ListByIssue returns every resolution recorded for one issue, newest
// first.
func (r *ResolutionRepository) ListByIssue(ctx context.Context, issueID string) ([]*domain.Resolution, error) {
	var resolutions []*domain.Resolution
	query := fmt.Sprintf(`
		SELECT %s
		FROM resolutions
		WHERE issue_id = $1
		ORDER BY created_at DESC
	`, resolutionColumns)
	if err := pgxscan.Select(ctx, r.db, &resolutions, query, issueID); err != nil {
		return nil, err
	}
	return resolutions, nil
}

// BeginAttempt moves pending to in_progress and increments the attempt
// counter.
func (r *ResolutionRepository) BeginAttempt(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE resolutions
		SET status = 'in_progress', attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	return r.guarded(ctx, id, query, id, at)
}

// Complete moves in_progress to success with the execution result.
func (r *ResolutionRepository) Complete(ctx context.Context, id uuid.UUID, result map[string]interface{}, at time.Time) (bool, error) {
	query := `
		UPDATE resolutions
		SET status = 'success', execution_result = $2, executed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'in_progress'
	`
	return r.guarded(ctx, id, query, id, result, at)
}

// Fail moves in_progress back to pending for another attempt, or to
// failed when the attempt budget is spent.
func (r *ResolutionRepository) Fail(ctx context.Context, id uuid.UUID, result map[string]interface{}, terminal bool, at time.Time) (bool, error) {
	to := domain.ResolutionStatusPending
	if terminal {
		to = domain.ResolutionStatusFailed
	}
	query := `
		UPDATE resolutions
		SET status = $2, execution_result = $3, updated_at = $4
		WHERE id = $1 AND status = 'in_progress'
	`
	return r.guarded(ctx, id, query, id, to, result, at)
}

// ResolveApproval moves approval_required to the given status and records
// the approval outcome.
func (r *ResolutionRepository) ResolveApproval(ctx context.Context, id uuid.UUID, approval domain.ApprovalStatus, to domain.ResolutionStatus, at time.Time) (bool, error) {
	query := `
		UPDATE resolutions
		SET status = $2, approval_status = $3, updated_at = $4
		WHERE id = $1 AND status = 'approval_required'
	`
	return r.guarded(ctx, id, query, id, to, approval, at)
}

func (r *ResolutionRepository) guarded(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resolutions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}
