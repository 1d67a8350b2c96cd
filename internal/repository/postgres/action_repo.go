package postgres

import (
	"context"
	"errors"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// ActionRepository handles the healing action catalog and the executed
// outcome history the confidence scorer feeds on.
type ActionRepository struct {
	db *pgxpool.Pool
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *pgxpool.Pool) *ActionRepository {
	return &ActionRepository{db: db}
}

// Create registers a new healing action.
func (r *ActionRepository) Create(ctx context.Context, action *domain.HealingAction) error {
	query := `
		INSERT INTO healing_actions (id, action_type, name, description, parameters, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		action.ID,
		action.ActionType,
		action.Name,
		action.Description,
		action.Parameters,
		action.Enabled,
		action.CreatedAt,
		action.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrDuplicateEntry
	}
	return err
}

// Update replaces a catalog entry.
func (r *ActionRepository) Update(ctx context.Context, action *domain.HealingAction) error {
	query := `
		UPDATE healing_actions
		SET action_type = $2, name = $3, description = $4, parameters = $5, enabled = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		action.ID,
		action.ActionType,
		action.Name,
		action.Description,
		action.Parameters,
		action.Enabled,
		action.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a healing action by ID.
func (r *ActionRepository) Get(ctx context.Context, id string) (*domain.HealingAction, error) {
	var action domain.HealingAction
	query := `
		SELECT id, action_type, name, description, parameters, enabled, created_at, updated_at
		FROM healing_actions
		WHERE id = $1
	`
	if err := pgxscan.Get(ctx, r.db, &action, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &action, nil
}

// List returns the whole catalog in stable ID order.
func (r *ActionRepository) List(ctx context.Context) ([]*domain.HealingAction, error) {
	var actions []*domain.HealingAction
	query := `
		SELECT id, action_type, name, description, parameters, enabled, created_at, updated_at
		FROM healing_actions
		ORDER BY id ASC
	`
	if err := pgxscan.Select(ctx, r.db, &actions, query); err != nil {
		return nil, err
	}
	return actions, nil
}

// ListByType returns the catalog entries registered for one action type.
func (r *ActionRepository) ListByType(ctx context.Context, actionType string) ([]*domain.HealingAction, error) {
	var actions []*domain.HealingAction
	query := `
		SELECT id, action_type, name, description, parameters, enabled, created_at, updated_at
		FROM healing_actions
		WHERE action_type = $1
		ORDER BY id ASC
	`
	if err := pgxscan.Select(ctx, r.db, &actions, query, actionType); err != nil {
		return nil, err
	}
	return actions, nil
}

// RecordOutcome appends one executed-attempt outcome to the history.
func (r *ActionRepository) RecordOutcome(ctx context.Context, outcome *domain.ActionOutcome) error {
	query := `
		INSERT INTO action_history (id, action_type, action_id, issue_id, parameters, success, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		outcome.ID,
		outcome.ActionType,
		outcome.ActionID,
		outcome.IssueID,
		outcome.Parameters,
		outcome.Success,
		outcome.ExecutedAt,
	)
	return err
}

// RecentOutcomes returns the newest outcomes for one action type, most
// recent first.
func (r *ActionRepository) RecentOutcomes(ctx context.Context, actionType string, limit int) ([]domain.ActionOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	var outcomes []domain.ActionOutcome
	query := `
		SELECT id, action_type, action_id, issue_id, parameters, success, executed_at
		FROM action_history
		WHERE action_type = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	if err := pgxscan.Select(ctx, r.db, &outcomes, query, actionType, limit); err != nil {
		return nil, err
	}
	return outcomes, nil
}
