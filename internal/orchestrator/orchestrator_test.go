package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/orchestrator"
	"github.com/arc-self/muncher/internal/statestore"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return orchestrator.New(orchestrator.Config{
		DIDs: nil, // no publishers: exercises lifecycle without needing a live subscribeLabels endpoint
		Store: store,
		ChangeFeedURL: "ws://127.0.0.1:1/subscribe",
		Logger: zap.NewNop(),
	})
}

func TestStartTwiceReturnsError(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	require.Error(t, orch.Start(ctx))

	cancel()
	require.NoError(t, orch.Stop())
}

func TestStatusEmptyWithNoPublishers(t *testing.T) {
	orch := newTestOrchestrator(t)
	require.Empty(t, orch.Status())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, orch.Start(ctx))
	require.Empty(t, orch.Status())

	cancel()
	require.NoError(t, orch.Stop())
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	orch := newTestOrchestrator(t)
	require.NoError(t, orch.Stop())
}

func TestStopIsIdempotentAfterStart(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, orch.Start(ctx))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, orch.Stop())
	require.NoError(t, orch.Stop())
}
