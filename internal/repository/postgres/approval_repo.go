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

// ApprovalRepository handles approval request data access. Decide and
// MarkExpired are guarded on the pending status so concurrent deciders
// cannot double-decide one request.
type ApprovalRepository struct {
	db *pgxpool.Pool
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *pgxpool.Pool) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, action_id, action_type, issue_id, issue_description, action_details,
		confidence_score, impact_score, impact_level, status, requester, approver,
		rejection_reason, context, created_at, updated_at, expires_at`

// Create inserts a new approval request.
func (r *ApprovalRepository) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			id, action_id, action_type, issue_id, issue_description, action_details,
			confidence_score, impact_score, impact_level, status, requester, approver,
			rejection_reason, context, created_at, updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.Exec(ctx, query,
		req.ID,
		req.ActionID,
		req.ActionType,
		req.IssueID,
		req.IssueDescription,
		req.ActionDetails,
		req.ConfidenceScore,
		req.ImpactScore,
		req.ImpactLevel,
		req.Status,
		req.Requester,
		req.Approver,
		req.RejectionReason,
		req.Context,
		req.CreatedAt,
		req.UpdatedAt,
		req.ExpiresAt,
	)
	return err
}

// Get retrieves an approval request by ID.
func (r *ApprovalRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	query := fmt.Sprintf(`SELECT %s FROM approval_requests WHERE id = $1`, approvalColumns)
	if err := pgxscan.Get(ctx, r.db, &req, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ListByStatus returns requests in the given status, oldest first so the
// longest-waiting request surfaces at the top of the queue.
func (r *ApprovalRepository) ListByStatus(ctx context.Context, status domain.ApprovalStatus, limit int) ([]*domain.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var requests []*domain.ApprovalRequest
	query := fmt.Sprintf(`
		SELECT %s
		FROM approval_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, approvalColumns)
	if err := pgxscan.Select(ctx, r.db, &requests, query, status, limit); err != nil {
		return nil, err
	}
	return requests, nil
}

// Decide moves a pending, unexpired request to the given terminal status.
func (r *ApprovalRepository) Decide(ctx context.Context, id uuid.UUID, to domain.ApprovalStatus, approver, reason *string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = $2, approver = $3, rejection_reason = $4, updated_at = $5
		WHERE id = $1 AND status = 'pending' AND expires_at > $5
	`
	return r.guarded(ctx, id, query, id, to, approver, reason, at)
}

// MarkExpired moves a pending request to expired.
func (r *ApprovalRepository) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	return r.guarded(ctx, id, query, id, at)
}

// ExpireBatch expires every pending request whose TTL elapsed at now and
// returns how many were expired.
func (r *ApprovalRepository) ExpireBatch(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE approval_requests
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at <= $1
	`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *ApprovalRepository) guarded(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}
