package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	batch int
	err   error
}

func (r *countingRunner) RunOnce(_ context.Context, batch int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.batch = batch
	return 1, r.err
}

func TestDLQSchedulerRejectsInvalidSchedule(t *testing.T) {
	_, err := NewDLQScheduler(context.Background(), &countingRunner{}, "every now and then", 10, zerolog.Nop())
	require.ErrorContains(t, err, "invalid dlq schedule")
}

func TestDLQSchedulerRunPassesBatchSize(t *testing.T) {
	runner := &countingRunner{}
	s, err := NewDLQScheduler(context.Background(), runner, "@every 30s", 0, zerolog.Nop())
	require.NoError(t, err)

	s.run(context.Background())
	require.Equal(t, 1, runner.calls)
	require.Equal(t, 50, runner.batch)

	runner.err = errors.New("db down")
	s.run(context.Background())
	require.Equal(t, 2, runner.calls)
}

func TestDLQSchedulerSkipsAfterCancel(t *testing.T) {
	runner := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewDLQScheduler(ctx, runner, "@every 30s", 5, zerolog.Nop())
	require.NoError(t, err)

	cancel()
	s.run(ctx)
	require.Zero(t, runner.calls)

	s.Start()
	s.Stop()
}
