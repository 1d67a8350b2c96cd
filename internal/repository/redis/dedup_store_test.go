package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

func newTestStore(t *testing.T) (*DedupStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDedupStore(client, zap.NewNop()), mr
}

func TestMarkDeliveredFirstWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.MarkDelivered(ctx, "n-1", domain.ChannelTeams, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkDelivered(ctx, "n-1", domain.ChannelTeams, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMarkDeliveredChannelsAreIndependent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.MarkDelivered(ctx, "n-1", domain.ChannelTeams, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	slack, err := store.MarkDelivered(ctx, "n-1", domain.ChannelSlack, time.Minute)
	require.NoError(t, err)
	assert.True(t, slack)
}

func TestMarkDeliveredExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	first, err := store.MarkDelivered(ctx, "n-1", domain.ChannelEmail, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	mr.FastForward(2 * time.Minute)

	afterExpiry, err := store.MarkDelivered(ctx, "n-1", domain.ChannelEmail, time.Minute)
	require.NoError(t, err)
	assert.True(t, afterExpiry)
}

func TestWasDelivered(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	delivered, err := store.WasDelivered(ctx, "n-1", domain.ChannelTeams)
	require.NoError(t, err)
	assert.False(t, delivered)

	_, err = store.MarkDelivered(ctx, "n-1", domain.ChannelTeams, time.Minute)
	require.NoError(t, err)

	delivered, err = store.WasDelivered(ctx, "n-1", domain.ChannelTeams)
	require.NoError(t, err)
	assert.True(t, delivered)
}
