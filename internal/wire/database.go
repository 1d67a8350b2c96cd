package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pipeguard/pipeguard/internal/config"
)

// PostgresDB wraps the connection pool with its cleanup function.
type PostgresDB struct {
	Pool    *pgxpool.Pool
	Cleanup func()
}

// ClickHouseDB wraps the ClickHouse connection with its cleanup function.
type ClickHouseDB struct {
	Conn    driver.Conn
	Cleanup func()
}

// RedisDB wraps the Redis client with its cleanup function.
type RedisDB struct {
	Client  *goredis.Client
	Cleanup func()
}

// DatabaseSet provides database connections.
var DatabaseSet = wire.NewSet(
	ProvidePostgresDB,
	ProvideClickHouseConn,
	ProvideRedisClient,
	wire.FieldsOf(new(*PostgresDB), "Pool"),
	wire.FieldsOf(new(*ClickHouseDB), "Conn"),
	wire.FieldsOf(new(*RedisDB), "Client"),
)

// connectBackoff bounds startup connection retries. Under compose the
// databases routinely become reachable a few seconds after the service.
func connectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// ProvidePostgresDB creates a PostgreSQL connection pool.
func ProvidePostgresDB(cfg *config.Config) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	ping := func() error { return pool.Ping(context.Background()) }
	if err := backoff.Retry(ping, connectBackoff()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresDB{
		Pool: pool,
		Cleanup: func() {
			pool.Close()
		},
	}, nil
}

// ProvideClickHouseConn creates a ClickHouse database connection.
func ProvideClickHouseConn(cfg *config.Config) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
		DialTimeout: cfg.ClickHouse.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		MaxOpenConns: cfg.ClickHouse.MaxOpenConn,
		MaxIdleConns: cfg.ClickHouse.MaxIdleConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ping := func() error { return conn.Ping(context.Background()) }
	if err := backoff.Retry(ping, connectBackoff()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &ClickHouseDB{
		Conn: conn,
		Cleanup: func() {
			conn.Close()
		},
	}, nil
}

// ProvideRedisClient creates the Redis client backing notification dedup.
func ProvideRedisClient(cfg *config.Config) (*RedisDB, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ping := func() error { return client.Ping(context.Background()).Err() }
	if err := backoff.Retry(ping, connectBackoff()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisDB{
		Client: client,
		Cleanup: func() {
			client.Close()
		},
	}, nil
}
