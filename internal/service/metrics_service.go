package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// MetricQueryService serves historical pipeline metric aggregates out of
// ClickHouse for dashboards and alert triage.
type MetricQueryService struct {
	clickhouse driver.Conn
	logger     *zap.Logger
}

// NewMetricQueryService creates a new metric query service
func NewMetricQueryService(clickhouse driver.Conn, logger *zap.Logger) *MetricQueryService {
	return &MetricQueryService{
		clickhouse: clickhouse,
		logger:     logger,
	}
}

// MetricFilter defines filtering options for metric queries
type MetricFilter struct {
	Metric    string
	Component string
	StartTime time.Time
	EndTime   time.Time
}

// MetricSummary represents aggregate statistics for one metric over a window
type MetricSummary struct {
	Metric      string  `json:"metric"`
	SampleCount int64   `json:"sampleCount"`
	AvgValue    float64 `json:"avgValue"`
	MinValue    float64 `json:"minValue"`
	MaxValue    float64 `json:"maxValue"`
	P50Value    float64 `json:"p50Value"`
	P95Value    float64 `json:"p95Value"`
	P99Value    float64 `json:"p99Value"`
}

// TimeSeriesPoint represents a single point in a time series
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Count     int64     `json:"count,omitempty"`
}

// TimeSeriesData represents a complete time series
type TimeSeriesData struct {
	Metric string             `json:"metric"`
	Points []*TimeSeriesPoint `json:"points"`
}

// MetricInfo describes one known metric path
type MetricInfo struct {
	Metric      string    `json:"metric"`
	SampleCount int64     `json:"sampleCount"`
	LastSeen    time.Time `json:"lastSeen"`
}

// ComponentMetrics represents one metric broken down by pipeline component
type ComponentMetrics struct {
	Component   string  `json:"component"`
	SampleCount int64   `json:"sampleCount"`
	AvgValue    float64 `json:"avgValue"`
	MinValue    float64 `json:"minValue"`
	MaxValue    float64 `json:"maxValue"`
}

// Summary retrieves aggregate statistics for one metric over a window
func (s *MetricQueryService) Summary(ctx context.Context, filter *MetricFilter) (*MetricSummary, error) {
	query := `
		SELECT
			count() as sample_count,
			avg(value) as avg_value,
			min(value) as min_value,
			max(value) as max_value,
			quantile(0.5)(value) as p50_value,
			quantile(0.95)(value) as p95_value,
			quantile(0.99)(value) as p99_value
		FROM pipeline_metrics
		WHERE metric = ?
		  AND ts >= ?
		  AND ts <= ?
	`
	args := []interface{}{filter.Metric, filter.StartTime, filter.EndTime}

	if filter.Component != "" {
		query += " AND component = ?"
		args = append(args, filter.Component)
	}

	row := s.clickhouse.QueryRow(ctx, query, args...)

	summary := MetricSummary{Metric: filter.Metric}
	err := row.Scan(
		&summary.SampleCount,
		&summary.AvgValue,
		&summary.MinValue,
		&summary.MaxValue,
		&summary.P50Value,
		&summary.P95Value,
		&summary.P99Value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric summary: %w", err)
	}
	return &summary, nil
}

// TimeSeries retrieves bucketed averages of one metric. interval is one of
// minute, hour, day or week.
func (s *MetricQueryService) TimeSeries(ctx context.Context, filter *MetricFilter, interval string) (*TimeSeriesData, error) {
	var timeFunc string
	switch interval {
	case "minute":
		timeFunc = "toStartOfMinute(ts)"
	case "hour":
		timeFunc = "toStartOfHour(ts)"
	case "day":
		timeFunc = "toStartOfDay(ts)"
	case "week":
		timeFunc = "toStartOfWeek(ts)"
	default:
		timeFunc = "toStartOfHour(ts)"
	}

	query := fmt.Sprintf(`
		SELECT
			%s as bucket,
			avg(value) as value,
			count() as count
		FROM pipeline_metrics
		WHERE metric = ?
		  AND ts >= ?
		  AND ts <= ?
	`, timeFunc)

	args := []interface{}{filter.Metric, filter.StartTime, filter.EndTime}

	if filter.Component != "" {
		query += " AND component = ?"
		args = append(args, filter.Component)
	}

	query += " GROUP BY bucket ORDER BY bucket"

	rows, err := s.clickhouse.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time series: %w", err)
	}
	defer rows.Close()

	var points []*TimeSeriesPoint
	for rows.Next() {
		var point TimeSeriesPoint
		if err := rows.Scan(&point.Timestamp, &point.Value, &point.Count); err != nil {
			return nil, fmt.Errorf("failed to scan time series point: %w", err)
		}
		points = append(points, &point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &TimeSeriesData{
		Metric: filter.Metric,
		Points: points,
	}, nil
}

// ListMetrics retrieves the distinct metric paths seen inside a window,
// most active first.
func (s *MetricQueryService) ListMetrics(ctx context.Context, start, end time.Time, limit int) ([]*MetricInfo, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT
			metric,
			count() as sample_count,
			max(ts) as last_seen
		FROM pipeline_metrics
		WHERE ts >= ?
		  AND ts <= ?
		GROUP BY metric
		ORDER BY sample_count DESC
		LIMIT %d
	`, limit)

	rows, err := s.clickhouse.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric names: %w", err)
	}
	defer rows.Close()

	var results []*MetricInfo
	for rows.Next() {
		var info MetricInfo
		if err := rows.Scan(&info.Metric, &info.SampleCount, &info.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan metric info: %w", err)
		}
		results = append(results, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ComponentBreakdown retrieves one metric broken down by pipeline component
func (s *MetricQueryService) ComponentBreakdown(ctx context.Context, filter *MetricFilter) ([]*ComponentMetrics, error) {
	query := `
		SELECT
			component,
			count() as sample_count,
			avg(value) as avg_value,
			min(value) as min_value,
			max(value) as max_value
		FROM pipeline_metrics
		WHERE metric = ?
		  AND ts >= ?
		  AND ts <= ?
		  AND component != ''
		GROUP BY component
		ORDER BY sample_count DESC
	`

	rows, err := s.clickhouse.Query(ctx, query, filter.Metric, filter.StartTime, filter.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query component breakdown: %w", err)
	}
	defer rows.Close()

	var results []*ComponentMetrics
	for rows.Next() {
		var m ComponentMetrics
		if err := rows.Scan(
			&m.Component,
			&m.SampleCount,
			&m.AvgValue,
			&m.MinValue,
			&m.MaxValue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan component metrics: %w", err)
		}
		results = append(results, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
