package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

func TestRemediationWorkerDispatchesPending(t *testing.T) {
	exec := &scriptedExecutor{}
	f := newHealingFixture(healingConfig{
		opts:     HealingOptions{Mode: domain.HealingAutomatic},
		actions:  []*domain.HealingAction{retryCandidate("retry-a")},
		executor: exec,
	})

	res, err := f.svc.SelectResolution(context.Background(), retryIssue(), nil)
	require.NoError(t, err)
	require.Equal(t, domain.ResolutionStatusPending, res.Status)

	w := NewRemediationWorker(zap.NewNop(), f.svc, RemediationWorkerOptions{})
	w.Sweep(context.Background())

	got, err := f.svc.Resolution(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionStatusSuccess, got.Status)
	assert.Equal(t, 1, exec.callCount())
}

func TestRemediationWorkerIdleOutsideAutomaticMode(t *testing.T) {
	exec := &scriptedExecutor{}
	f := newHealingFixture(healingConfig{
		opts:     HealingOptions{Mode: domain.HealingSemiAutomatic},
		actions:  []*domain.HealingAction{retryCandidate("retry-a")},
		executor: exec,
	})

	res, err := f.svc.SelectResolution(context.Background(), retryIssue(), nil)
	require.NoError(t, err)

	w := NewRemediationWorker(zap.NewNop(), f.svc, RemediationWorkerOptions{})
	w.Sweep(context.Background())

	got, err := f.svc.Resolution(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionStatusPending, got.Status)
	assert.Equal(t, 0, exec.callCount())
}

func TestRemediationWorkerSkipsRecommendations(t *testing.T) {
	// A recommendation persisted before the mode flipped to automatic
	// must never execute.
	exec := &scriptedExecutor{}
	f := newHealingFixture(healingConfig{
		opts:     HealingOptions{Mode: domain.HealingRecommendationOnly},
		actions:  []*domain.HealingAction{retryCandidate("retry-a")},
		executor: exec,
	})

	res, err := f.svc.SelectResolution(context.Background(), retryIssue(), nil)
	require.NoError(t, err)
	require.True(t, res.RecommendationOnly)

	require.NoError(t, f.svc.SetMode(domain.HealingAutomatic))

	w := NewRemediationWorker(zap.NewNop(), f.svc, RemediationWorkerOptions{})
	w.Sweep(context.Background())

	got, err := f.svc.Resolution(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionStatusPending, got.Status)
	assert.Equal(t, 0, exec.callCount())
}

func TestRemediationWorkerRetriesUntilTerminal(t *testing.T) {
	// Two sweeps burn through a three-attempt budget the executor never
	// satisfies; the second failure inside one sweep is a fresh listing.
	exec := &scriptedExecutor{failures: 5}
	f := newHealingFixture(healingConfig{
		opts:     HealingOptions{Mode: domain.HealingAutomatic, MaxAttempts: 2},
		actions:  []*domain.HealingAction{retryCandidate("retry-a")},
		executor: exec,
	})

	res, err := f.svc.SelectResolution(context.Background(), retryIssue(), nil)
	require.NoError(t, err)

	w := NewRemediationWorker(zap.NewNop(), f.svc, RemediationWorkerOptions{})
	w.Sweep(context.Background())
	w.Sweep(context.Background())

	got, err := f.svc.Resolution(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionStatusFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 2, exec.callCount())

	// Terminal resolutions never re-dispatch.
	w.Sweep(context.Background())
	assert.Equal(t, 2, exec.callCount())
}

func TestRemediationWorkerStartStop(t *testing.T) {
	f := newHealingFixture(healingConfig{
		opts: HealingOptions{Mode: domain.HealingAutomatic},
	})

	w := NewRemediationWorker(zap.NewNop(), f.svc, RemediationWorkerOptions{})
	assert.False(t, w.Running())

	w.Start()
	w.Start() // idempotent
	assert.True(t, w.Running())

	w.Stop()
	w.Stop() // idempotent
	assert.False(t, w.Running())
}
