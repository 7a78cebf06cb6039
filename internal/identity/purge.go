package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fanfare-hq/fanfare/internal/jobs"
	"github.com/fanfare-hq/fanfare/jobs"
)

// PurgeExpired deletes session bindings whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpiredSessionBindings(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("identity: purge bindings: %w", err)
	}
	return n, nil
}

// PurgeJob runs PurgeExpired from the worker scheduler.
type PurgeJob struct {
	service *Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewPurgeJob builds the job. metrics may be nil.
func NewPurgeJob(service *Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeJob{service: service, logger: logger, metrics: metrics}
}

// Registration exposes the job to jobs.NewWorker.
func (j *PurgeJob) Registration() jobs.TaskHandler {
	return jobs.TaskHandler{Type: jobs.TaskSessionPurge, Handler: j.Handle}
}

// Handle processes jobs.TaskSessionPurge tasks.
func (j *PurgeJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	tracker := j.metrics.Track(jobs.TaskSessionPurge)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := j.service.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("purge session bindings", slog.Any("error", err))
		return err
	}
	if n > 0 {
		j.logger.Info("purged session bindings", slog.Int64("count", n))
	}
	return nil
}
