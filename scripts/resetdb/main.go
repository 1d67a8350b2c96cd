package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5"
)

func main() {
	log.Println("WARNING: This will delete ALL data in Postgres and ClickHouse databases.")
	log.Println("Waiting 5 seconds before proceeding... Press Ctrl+C to cancel.")
	time.Sleep(5 * time.Second)

	// Reset Postgres
	if err := resetPostgres(); err != nil {
		log.Printf("Failed to reset Postgres: %v", err)
	} else {
		log.Println("Postgres reset successfully")
	}

	// Reset ClickHouse
	if err := resetClickHouse(); err != nil {
		log.Printf("Failed to reset ClickHouse: %v", err)
	} else {
		log.Println("ClickHouse reset successfully")
	}

	log.Println("Databases reset. Restart the server to re-run migrations.")
}

func resetPostgres() error {
	log.Println("Resetting Postgres...")
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PIPEGUARD_POSTGRES_HOST", "localhost"),
		getEnv("PIPEGUARD_POSTGRES_PORT", "5432"),
		getEnv("PIPEGUARD_POSTGRES_USER", "pipeguard"),
		getEnv("PIPEGUARD_POSTGRES_PASSWORD", "pipeguard"),
		getEnv("PIPEGUARD_POSTGRES_DB", "pipeguard"),
	)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	// Brute force but effective for dev
	if _, err := conn.Exec(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public;"); err != nil {
		return fmt.Errorf("failed to drop/create schema: %w", err)
	}

	return nil
}

func resetClickHouse() error {
	log.Println("Resetting ClickHouse...")
	ctx := context.Background()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s",
			getEnv("PIPEGUARD_CLICKHOUSE_HOST", "localhost"),
			getEnv("PIPEGUARD_CLICKHOUSE_PORT", "9000"),
		)},
		Auth: clickhouse.Auth{
			Database: getEnv("PIPEGUARD_CLICKHOUSE_DB", "pipeguard"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	defer conn.Close()

	if err := conn.Exec(ctx, "DROP TABLE IF EXISTS pipeline_metrics"); err != nil {
		return fmt.Errorf("failed to drop pipeline_metrics: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
