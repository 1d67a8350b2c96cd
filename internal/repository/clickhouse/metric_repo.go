package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// MetricRepository serves historical pipeline metric series out of
// ClickHouse for the rule engine and the anomaly detector.
type MetricRepository struct {
	conn driver.Conn
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(conn driver.Conn) *MetricRepository {
	return &MetricRepository{conn: conn}
}

// Series returns up to limit samples of one metric in chronological
// order, oldest first, so trend and anomaly evaluation can treat the
// last element as the most recent observation.
func (r *MetricRepository) Series(ctx context.Context, metricPath string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT value
		FROM pipeline_metrics
		WHERE metric = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := r.conn.Query(ctx, query, metricPath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the index scan; reverse into time order.
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}

// ComponentSeries returns samples of one metric restricted to a single
// component, oldest first.
func (r *MetricRepository) ComponentSeries(ctx context.Context, metricPath, component string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT value
		FROM pipeline_metrics
		WHERE metric = ? AND component = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := r.conn.Query(ctx, query, metricPath, component, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}

// PruneBefore drops samples older than the cutoff. Retention is normally
// handled by the table TTL; this exists for operator-driven cleanup.
func (r *MetricRepository) PruneBefore(ctx context.Context, cutoff time.Time) error {
	query := `ALTER TABLE pipeline_metrics DELETE WHERE ts < ?`
	return r.conn.Exec(ctx, query, cutoff)
}
