package outbox

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type dlqRunner interface {
	RunOnce(context.Context, int) (int, error)
}

// DLQScheduler runs DLQManager.RunOnce on a cron schedule. Overlapping runs are skipped.
type DLQScheduler struct {
	cron      *cron.Cron
	runner    dlqRunner
	batchSize int
	logger    zerolog.Logger
}

// NewDLQScheduler parses schedule ("@every 30s", "*/1 * * * *") and registers the replay job.
func NewDLQScheduler(ctx context.Context, runner dlqRunner, schedule string, batchSize int, logger zerolog.Logger) (*DLQScheduler, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	s := &DLQScheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner:    runner,
		batchSize: batchSize,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return nil, errors.Wrapf(err, "invalid dlq schedule %q", schedule)
	}
	return s, nil
}

// Start begins firing the job in the background.
func (s *DLQScheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("batch_size", s.batchSize).Msg("dlq scheduler started")
}

// Stop waits for a running job to finish.
func (s *DLQScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("dlq scheduler stopped")
}

func (s *DLQScheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	processed, err := s.runner.RunOnce(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("dlq manager error")
		return
	}
	if processed > 0 {
		s.logger.Info().Int("processed", processed).Msg("dlq manager processed entries")
	}
}
