package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrJobGone means the queued id has no row. Redelivering will not help.
var ErrJobGone = errors.New("job not found")

type JobRunner struct {
	Relay *relay.Orchestrator
	Repo  *chat.Repo
	Log   *zap.SugaredLogger
}

func NewJobRunner(orch *relay.Orchestrator, log *zap.SugaredLogger) *JobRunner {
	return &JobRunner{Relay: orch, Repo: orch.Chats.Repo(), Log: log}
}

// Handle drives one queued relay to a terminal message. A returned error
// other than ErrJobGone is worth retrying; relay failures are recorded on
// the job and are not errors here.
func (r *JobRunner) Handle(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	j, err := r.Repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobGone
		}
		return err
	}
	if j.Status == chat.JobSucceeded || j.Status == chat.JobFailed {
		r.Log.Infow("job already finished, skipping", "job_id", jobID, "status", j.Status)
		return nil
	}
	if err := r.Repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		return err
	}

	turn, err := r.Relay.Resume(ctx, j)
	if err != nil {
		r.Relay.Abandon(ctx, j.ChatID, j.MessageID, err)
		r.markFailed(ctx, jobID, err)
		return nil
	}

	res := r.Relay.Run(ctx, turn, io.Discard)
	if res.Status != chat.StatusComplete {
		r.markFailed(ctx, jobID, res.Err)
		return nil
	}
	if err := r.Repo.MarkJobSucceeded(context.WithoutCancel(ctx), jobID); err != nil {
		r.Log.Errorw("mark job succeeded failed", "job_id", jobID, "error", err)
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		r.Log.Infow("job_timing", "job_id", jobID, "deltas", res.Deltas, "total", total)
	}
	return nil
}

// GiveUp fails a job that will not be retried, and its message with it, so
// neither stays in flight.
func (r *JobRunner) GiveUp(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	j, err := r.Repo.GetJobByID(ctx, jobID)
	if err != nil {
		r.Log.Errorw("give up: load job failed", "job_id", jobID, "error", err)
		return
	}
	if j.Status == chat.JobSucceeded || j.Status == chat.JobFailed {
		return
	}
	r.Relay.Abandon(ctx, j.ChatID, j.MessageID, cause)
	r.markFailed(ctx, jobID, cause)
}

func (r *JobRunner) markFailed(ctx context.Context, jobID string, cause error) {
	r.Log.Warnw("job failed", "job_id", jobID, "error", cause)
	// upstream detail stays in the log
	if err := r.Repo.MarkJobFailed(context.WithoutCancel(ctx), jobID, relay.FailureMessage); err != nil {
		r.Log.Errorw("mark job failed failed", "job_id", jobID, "error", err)
	}
}
