package worker

import (
	"context"
	"fmt"

	"github.com/readgate/readgate/internal/logger"
	"github.com/readgate/readgate/internal/models"
	"github.com/readgate/readgate/internal/repository"
	"github.com/readgate/readgate/internal/telemetry"
)

// WriteAttemptJob persists one gate-attempt audit record off the request
// path. The repository insert is write-once, so a re-enqueued job is safe.
type WriteAttemptJob struct {
	Repo    repository.AttemptRepository
	Attempt models.GateAttempt
}

func (j *WriteAttemptJob) Name() string {
	return fmt.Sprintf("write-attempt-%s", j.Attempt.ID)
}

func (j *WriteAttemptJob) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	if err := j.Repo.Insert(ctx, j.Attempt); err != nil {
		log.Error("failed to persist gate attempt %s: %v", j.Attempt.ID, err)
		return err
	}
	return nil
}

// TelemetryFlushJob drains buffered telemetry events into a delivery sink.
type TelemetryFlushJob struct {
	Source  *telemetry.ChanSink
	Deliver telemetry.Sink
}

func (j *TelemetryFlushJob) Name() string {
	return "telemetry-flush"
}

func (j *TelemetryFlushJob) Run(ctx context.Context) error {
	if j.Source == nil || j.Deliver == nil {
		return nil
	}
	flushed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-j.Source.C:
			j.Deliver.Emit(e)
			flushed++
		default:
			logger.FromContext(ctx).Debug("flushed %d telemetry events", flushed)
			return nil
		}
	}
}
