package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// AlertRepository handles alert data access. Status transitions are
// guarded UPDATEs: the WHERE clause carries the expected source status,
// so a lost race surfaces as (false, nil) rather than a bad write.
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, alert_type, description, severity, status, component, execution_id,
		context, related_alerts, acknowledgment_details, resolution_details,
		created_at, updated_at, acknowledged_at, resolved_at`

// Create inserts a new alert. Delivery attempts are recorded separately
// through AddNotification.
func (r *AlertRepository) Create(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, alert_type, description, severity, status, component, execution_id,
			context, related_alerts, acknowledgment_details, resolution_details,
			created_at, updated_at, acknowledged_at, resolved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.Exec(ctx, query,
		alert.ID,
		alert.AlertType,
		alert.Description,
		alert.Severity,
		alert.Status,
		alert.Component,
		alert.ExecutionID,
		alert.Context,
		alert.RelatedAlerts,
		alert.AcknowledgmentDetails,
		alert.ResolutionDetails,
		alert.CreatedAt,
		alert.UpdatedAt,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
	)
	return err
}

// Get retrieves an alert by ID, including its delivery attempts.
func (r *AlertRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	var alert domain.Alert
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)
	if err := pgxscan.Get(ctx, r.db, &alert, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	notifications, err := r.loadNotifications(ctx, id)
	if err != nil {
		return nil, err
	}
	alert.Notifications = notifications
	return &alert, nil
}

// List returns alerts matching the filter, newest first. Delivery
// attempts are not loaded for listings.
func (r *AlertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIndex))
		args = append(args, *filter.Severity)
		argIndex++
	}
	if filter.AlertType != "" {
		conditions = append(conditions, fmt.Sprintf("alert_type = $%d", argIndex))
		args = append(args, filter.AlertType)
		argIndex++
	}
	if filter.Component != "" {
		conditions = append(conditions, fmt.Sprintf("component = $%d", argIndex))
		args = append(args, filter.Component)
		argIndex++
	}
	if filter.ExecutionID != "" {
		conditions = append(conditions, fmt.Sprintf("execution_id = $%d", argIndex))
		args = append(args, filter.ExecutionID)
		argIndex++
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.Until)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereClause, argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	var alerts []*domain.Alert
	if err := pgxscan.Select(ctx, r.db, &alerts, query, args...); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListActive returns all alerts still in the new status, oldest first,
// for the escalation monitor.
func (r *AlertRepository) ListActive(ctx context.Context) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE status = 'new'
		ORDER BY created_at ASC
	`, alertColumns)
	if err := pgxscan.Select(ctx, r.db, &alerts, query); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Acknowledge moves a new alert to acknowledged.
func (r *AlertRepository) Acknowledge(ctx context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET status = 'acknowledged', acknowledgment_details = $2, acknowledged_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'new'
	`
	return r.transition(ctx, id, query, id, details, at)
}

// Resolve moves a new or acknowledged alert to resolved.
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, details map[string]interface{}, at time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET status = 'resolved', resolution_details = $2, resolved_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('new', 'acknowledged')
	`
	return r.transition(ctx, id, query, id, details, at)
}

// Suppress moves a new alert to suppressed and records the reason in the
// alert context.
func (r *AlertRepository) Suppress(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET status = 'suppressed',
			context = jsonb_set(COALESCE(context, '{}'::jsonb), '{suppression}', jsonb_build_object('reason', $2::text)),
			updated_at = $3
		WHERE id = $1 AND status = 'new'
	`
	return r.transition(ctx, id, query, id, reason, at)
}

// AddNotification appends one delivery attempt to the alert's history.
func (r *AlertRepository) AddNotification(ctx context.Context, id uuid.UUID, attempt domain.NotificationAttempt) error {
	query := `
		INSERT INTO alert_notifications (alert_id, channel, recipient, success, details, timestamp)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM alerts WHERE id = $1)
	`
	tag, err := r.db.Exec(ctx, query,
		id,
		attempt.Channel,
		attempt.Recipient,
		attempt.Success,
		attempt.Details,
		attempt.Timestamp,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendRelated links a correlated alert to the primary.
func (r *AlertRepository) AppendRelated(ctx context.Context, id uuid.UUID, related uuid.UUID) error {
	query := `
		UPDATE alerts
		SET related_alerts = CASE
				WHEN $2 = ANY(related_alerts) THEN related_alerts
				ELSE array_append(related_alerts, $2)
			END
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, related)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AlertRepository) loadNotifications(ctx context.Context, id uuid.UUID) ([]domain.NotificationAttempt, error) {
	var notifications []domain.NotificationAttempt
	query := `
		SELECT channel, recipient, success, details, timestamp
		FROM alert_notifications
		WHERE alert_id = $1
		ORDER BY id ASC
	`
	if err := pgxscan.Select(ctx, r.db, &notifications, query, id); err != nil {
		return nil, err
	}
	return notifications, nil
}

// transition runs a guarded status update. A zero row count is resolved
// to ErrNotFound when the alert is missing and a plain false when the
// status guard rejected the change.
func (r *AlertRepository) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}
