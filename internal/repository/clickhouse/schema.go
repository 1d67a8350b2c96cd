package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// pipeline_metrics is written by the ingest batch writer and read by
// the rule engine, the anomaly detector, and the metric query service.
// ORDER BY (metric, component, ts) matches the dominant access path:
// latest N samples of one metric, optionally per component.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_metrics (
		ts DateTime64(3) CODEC(Delta, ZSTD),
		metric LowCardinality(String),
		component LowCardinality(String),
		execution_id String,
		value Float64 CODEC(Gorilla, ZSTD),
		attrs Map(String, String)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(ts)
	ORDER BY (metric, component, ts)
	TTL toDateTime(ts) + INTERVAL 30 DAY`,
}

// EnsureSchema creates the ClickHouse tables this package expects.
// Statements are idempotent and run on every startup.
func EnsureSchema(ctx context.Context, conn driver.Conn, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply clickhouse schema: %w", err)
		}
	}
	if logger != nil {
		logger.Info("clickhouse schema ready", zap.Int("statements", len(schemaStatements)))
	}
	return nil
}
