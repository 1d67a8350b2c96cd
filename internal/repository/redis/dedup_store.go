package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// DedupStore suppresses duplicate notification deliveries across
// instances. The first MarkDelivered for an (id, channel) pair inside
// the TTL wins; replays inside the TTL report false.
type DedupStore struct {
	client *goredis.Client
	logger *zap.Logger
}

// NewDedupStore creates a new dedup store
func NewDedupStore(client *goredis.Client, logger *zap.Logger) *DedupStore {
	return &DedupStore{client: client, logger: logger}
}

func dedupKey(notificationID string, channel domain.NotificationChannel) string {
	return fmt.Sprintf("pipeguard:dedup:%s:%s", notificationID, channel)
}

// MarkDelivered records the delivery and reports whether this call was
// the first for the pair inside the TTL.
func (s *DedupStore) MarkDelivered(ctx context.Context, notificationID string, channel domain.NotificationChannel, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	first, err := s.client.SetNX(ctx, dedupKey(notificationID, channel), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking delivery: %w", err)
	}
	return first, nil
}

// WasDelivered reports whether the pair is currently marked as delivered.
func (s *DedupStore) WasDelivered(ctx context.Context, notificationID string, channel domain.NotificationChannel) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKey(notificationID, channel)).Result()
	if err != nil {
		return false, fmt.Errorf("checking delivery: %w", err)
	}
	return n > 0, nil
}
