package wire

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	chrepo "github.com/pipeguard/pipeguard/internal/repository/clickhouse"
	pgrepo "github.com/pipeguard/pipeguard/internal/repository/postgres"
	redisrepo "github.com/pipeguard/pipeguard/internal/repository/redis"
)

// RepositorySet provides all repository instances.
var RepositorySet = wire.NewSet(
	// PostgreSQL repositories
	ProvideAlertRepository,
	ProvideActionRepository,
	ProvideApprovalRepository,
	ProvideResolutionRepository,
	ProvideAPIKeyRepository,
	// ClickHouse repositories
	ProvideMetricRepository,
	// Redis stores
	ProvideDedupStore,
)

// PostgreSQL Repositories

// ProvideAlertRepository creates a new AlertRepository.
func ProvideAlertRepository(db *pgxpool.Pool) *pgrepo.AlertRepository {
	return pgrepo.NewAlertRepository(db)
}

// ProvideActionRepository creates a new ActionRepository.
func ProvideActionRepository(db *pgxpool.Pool) *pgrepo.ActionRepository {
	return pgrepo.NewActionRepository(db)
}

// ProvideApprovalRepository creates a new ApprovalRepository.
func ProvideApprovalRepository(db *pgxpool.Pool) *pgrepo.ApprovalRepository {
	return pgrepo.NewApprovalRepository(db)
}

// ProvideResolutionRepository creates a new ResolutionRepository.
func ProvideResolutionRepository(db *pgxpool.Pool) *pgrepo.ResolutionRepository {
	return pgrepo.NewResolutionRepository(db)
}

// ProvideAPIKeyRepository creates a new APIKeyRepository.
func ProvideAPIKeyRepository(db *pgxpool.Pool) *pgrepo.APIKeyRepository {
	return pgrepo.NewAPIKeyRepository(db)
}

// ClickHouse Repositories

// ProvideMetricRepository creates a new MetricRepository.
func ProvideMetricRepository(conn driver.Conn) *chrepo.MetricRepository {
	return chrepo.NewMetricRepository(conn)
}

// Redis Stores

// ProvideDedupStore creates the notification dedup store.
func ProvideDedupStore(client *goredis.Client, logger *zap.Logger) *redisrepo.DedupStore {
	return redisrepo.NewDedupStore(client, logger)
}
