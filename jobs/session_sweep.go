package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aula-web/aula/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper drops expired session entries and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SessionSweepJob prunes the per-user session indexes.
type SessionSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Trigger == "" {
		payload.Trigger = "manual"
	}

	tracker := j.metrics().Track(TaskSessionSweep)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	removed, err := j.Sweeper.Sweep(ctx)
	j.metrics().AddItems(TaskSessionSweep, removed)
	if err != nil {
		logger.Error("sweep sessions", slog.Int("removed", removed), slog.Any("error", err))
		return err
	}
	logger.Info("swept sessions", slog.Int("removed", removed))
	return nil
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionSweep))
	}
	return slog.Default().With(slog.String("job", TaskSessionSweep))
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
