package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	mrand "math/rand"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/pipeguard/pipeguard/internal/service"
)

// Sample data
var (
	components = []string{"orders-etl", "clickstream-ingest", "warehouse-sync", "billing-rollup"}
	metrics    = []string{
		"pipeline.runtime_seconds",
		"pipeline.records_per_second",
		"pipeline.queue_depth",
		"quality.error_rate",
	}
	actionIDs = map[string]string{
		"pipeline_retry":   "retry-failed-run",
		"data_quality_fix": "quarantine-bad-records",
		"resource_scaling": "scale-up-workers",
	}
)

func main() {
	log.Println("PipeGuard Database Seeder")
	log.Println("=========================")

	// Environment variables with defaults
	pgHost := getEnv("PIPEGUARD_POSTGRES_HOST", "localhost")
	pgPort := getEnv("PIPEGUARD_POSTGRES_PORT", "5432")
	pgUser := getEnv("PIPEGUARD_POSTGRES_USER", "pipeguard")
	pgPass := getEnv("PIPEGUARD_POSTGRES_PASSWORD", "pipeguard")
	pgDB := getEnv("PIPEGUARD_POSTGRES_DB", "pipeguard")

	chHost := getEnv("PIPEGUARD_CLICKHOUSE_HOST", "localhost")
	chPort := getEnv("PIPEGUARD_CLICKHOUSE_PORT", "9000")
	chDB := getEnv("PIPEGUARD_CLICKHOUSE_DB", "pipeguard")

	apiKeySalt := getEnv("PIPEGUARD_API_KEY_SALT", "dev-salt")

	// Connect to PostgreSQL
	pgDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPass, pgDB)

	pgConfig, err := pgxpool.ParseConfig(pgDSN)
	if err != nil {
		log.Fatalf("Failed to parse PostgreSQL config: %v", err)
	}

	pgConn, err := pgxpool.NewWithConfig(context.Background(), pgConfig)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgConn.Close()
	log.Println("✓ Connected to PostgreSQL")

	// Connect to ClickHouse
	chConn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", chHost, chPort)},
		Auth: clickhouse.Auth{
			Database: chDB,
		},
	})
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer chConn.Close()
	log.Println("✓ Connected to ClickHouse")

	ctx := context.Background()

	rawKey := seedAPIKey(ctx, pgConn, apiKeySalt)
	seedActionHistory(ctx, pgConn)
	seedAlerts(ctx, pgConn)
	seedMetrics(ctx, chConn)

	operatorPassword := getEnv("PIPEGUARD_SEED_OPERATOR_PASSWORD", "pipeguard")
	hash, err := bcrypt.GenerateFromPassword([]byte(operatorPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash operator password: %v", err)
	}

	log.Println("\nSeeding complete. Dev credentials:")
	log.Printf("  ingest API key:                   %s", rawKey)
	log.Printf("  PIPEGUARD_OPERATOR_PASSWORD_HASH: %s", string(hash))
	log.Printf("  operator password:                %s", operatorPassword)
}

// seedAPIKey inserts one ingest credential and returns the raw key, which
// is never recoverable afterwards.
func seedAPIKey(ctx context.Context, db *pgxpool.Pool, salt string) string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("Failed to generate key material: %v", err)
	}
	rawKey := "pg_" + hex.EncodeToString(raw)

	_, err := db.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO NOTHING`,
		uuid.New(), "dev-ingest", service.HashAPIKey(rawKey, salt), rawKey[:11], []string{"ingest"},
	)
	if err != nil {
		log.Fatalf("Failed to seed api key: %v", err)
	}
	log.Println("✓ Seeded ingest API key")
	return rawKey
}

// seedActionHistory backfills executed-attempt history so the confidence
// scorer has samples to work with on a fresh database.
func seedActionHistory(ctx context.Context, db *pgxpool.Pool) {
	now := time.Now()
	count := 0
	for actionType, actionID := range actionIDs {
		for i := 0; i < 12; i++ {
			// Retries mostly work, scaling is mixed
			success := mrand.Float64() < 0.8
			if actionType == "resource_scaling" {
				success = mrand.Float64() < 0.6
			}
			_, err := db.Exec(ctx, `
				INSERT INTO action_history (id, action_type, action_id, issue_id, parameters, success, executed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.New(), actionType, actionID,
				fmt.Sprintf("seed-issue-%d", i),
				map[string]interface{}{"seeded": true},
				success,
				now.Add(-time.Duration(i*7)*time.Hour),
			)
			if err != nil {
				log.Fatalf("Failed to seed action history: %v", err)
			}
			count++
		}
	}
	log.Printf("✓ Seeded %d action history records", count)
}

// seedAlerts inserts a handful of alerts in assorted lifecycle states.
func seedAlerts(ctx context.Context, db *pgxpool.Pool) {
	now := time.Now()
	rows := []struct {
		alertType   string
		description string
		severity    string
		status      string
		component   string
		age         time.Duration
	}{
		{"rule_threshold", `rule "Pipeline error rate above 20%" triggered`, "critical", "new", "orders-etl", 10 * time.Minute},
		{"pipeline_failure", "run failed with exit code 137", "high", "acknowledged", "clickstream-ingest", 2 * time.Hour},
		{"rule_trend", `rule "Run time climbing across recent executions" triggered`, "medium", "new", "warehouse-sync", 45 * time.Minute},
		{"sla_breach", "daily billing rollup missed its 06:00 deadline", "high", "resolved", "billing-rollup", 26 * time.Hour},
	}

	for _, r := range rows {
		createdAt := now.Add(-r.age)
		var acknowledgedAt, resolvedAt *time.Time
		if r.status == "acknowledged" || r.status == "resolved" {
			t := createdAt.Add(15 * time.Minute)
			acknowledgedAt = &t
		}
		if r.status == "resolved" {
			t := createdAt.Add(90 * time.Minute)
			resolvedAt = &t
		}
		_, err := db.Exec(ctx, `
			INSERT INTO alerts (id, alert_type, description, severity, status, component, execution_id, context, created_at, updated_at, acknowledged_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $11)`,
			uuid.New(), r.alertType, r.description, r.severity, r.status, r.component,
			uuid.New().String(),
			map[string]interface{}{"seeded": true},
			createdAt, acknowledgedAt, resolvedAt,
		)
		if err != nil {
			log.Fatalf("Failed to seed alerts: %v", err)
		}
	}
	log.Printf("✓ Seeded %d alerts", len(rows))
}

// seedMetrics writes a day of five-minute samples per component and metric
// so trend and anomaly rules have history immediately.
func seedMetrics(ctx context.Context, conn clickhouse.Conn) {
	batch, err := conn.PrepareBatch(ctx, `
		INSERT INTO pipeline_metrics (ts, metric, component, execution_id, value, attrs)
	`)
	if err != nil {
		log.Fatalf("Failed to prepare metric batch: %v", err)
	}

	now := time.Now()
	count := 0
	for _, component := range components {
		executionID := uuid.New().String()
		for _, metric := range metrics {
			for i := 0; i < 288; i++ {
				ts := now.Add(-time.Duration(i) * 5 * time.Minute)
				err := batch.Append(
					ts,
					metric,
					component,
					executionID,
					sampleValue(metric),
					map[string]string{"seeded": "true"},
				)
				if err != nil {
					log.Fatalf("Failed to append metric point: %v", err)
				}
				count++
			}
		}
	}

	if err := batch.Send(); err != nil {
		log.Fatalf("Failed to send metric batch: %v", err)
	}
	log.Printf("✓ Seeded %d metric points", count)
}

func sampleValue(metric string) float64 {
	switch metric {
	case "pipeline.runtime_seconds":
		return 300 + mrand.Float64()*120
	case "pipeline.records_per_second":
		return 800 + mrand.Float64()*400
	case "pipeline.queue_depth":
		return mrand.Float64() * 2000
	case "quality.error_rate":
		return mrand.Float64() * 0.02
	default:
		return mrand.Float64()
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
