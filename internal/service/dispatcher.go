package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
)

// Executor performs one delivery through the tenant's automation session.
type Executor interface {
	Deliver(ctx context.Context, d model.Delivery) (remoteMessageID string, err error)
}

type Outcome int

const (
	// OutcomeAbsent means the job was deleted after its timer was armed.
	OutcomeAbsent Outcome = iota
	OutcomeInactive
	OutcomeDelivered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAbsent:
		return "absent"
	case OutcomeInactive:
		return "inactive"
	case OutcomeDelivered:
		return "delivered"
	default:
		return "failed"
	}
}

// Dispatcher turns a fired timer into a delivery. It always re-reads the job,
// so edits and deletions made after scheduling are honored.
type Dispatcher struct {
	jobs     repo.JobRepository
	exec     Executor
	sessions *session.Namespace
	locks    *session.Locks
	limiter  *rate.Limiter
	log      *zap.Logger
	now      func() time.Time

	onDelivered func(ctx context.Context, jobID, remoteMessageID string, at time.Time) error
	onFailed    func(ctx context.Context, jobID, reason string) error
}

func NewDispatcher(jobs repo.JobRepository, exec Executor, sessions *session.Namespace, locks *session.Locks, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:     jobs,
		exec:     exec,
		sessions: sessions,
		locks:    locks,
		log:      log.Named("dispatcher"),
		now:      time.Now,
	}
}

// WithLimiter paces executor calls across all sessions.
func (d *Dispatcher) WithLimiter(l *rate.Limiter) *Dispatcher {
	d.limiter = l
	return d
}

func (d *Dispatcher) WithHooks(
	onDelivered func(ctx context.Context, jobID, remoteMessageID string, at time.Time) error,
	onFailed func(ctx context.Context, jobID, reason string) error,
) *Dispatcher {
	d.onDelivered = onDelivered
	d.onFailed = onFailed
	return d
}

// Fire has the shape the scheduler calls.
func (d *Dispatcher) Fire(ctx context.Context, handle string) {
	d.Dispatch(ctx, handle)
}

// Dispatch delivers the job behind handle. The job is read once to find its
// session and read again after the session lock and the delivery slot are
// held, so a delete or edit made while waiting is what gets honored.
func (d *Dispatcher) Dispatch(ctx context.Context, handle string) Outcome {
	log := d.log.With(zap.String("job_id", handle))

	job, outcome, ok := d.load(ctx, log, handle)
	if !ok {
		return outcome
	}

	ref := d.sessions.Resolve(job.OwnerID)
	log = log.With(zap.Int64("tenant_id", job.OwnerID), zap.String("session", ref.Name))

	release, err := d.locks.Acquire(ctx, ref.Name)
	if err != nil {
		return d.fail(ctx, log, job, errors.Wrap(err, "acquire session"))
	}
	defer release()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.fail(ctx, log, job, errors.Wrap(err, "wait for delivery slot"))
		}
	}

	job, outcome, ok = d.load(ctx, log, handle)
	if !ok {
		return outcome
	}

	remoteID, err := d.exec.Deliver(ctx, model.Delivery{
		JobID:          job.ID,
		Address:        job.Recipient,
		Message:        job.Message,
		AttachmentPath: job.AttachmentPath,
		Session:        ref.Name,
		ProfileDir:     ref.ProfileDir,
	})
	if err != nil {
		return d.fail(ctx, log, job, err)
	}

	firedAt := d.now()
	d.record(ctx, log, job.ID, firedAt, "")
	if d.onDelivered != nil {
		if err := d.onDelivered(ctx, job.ID, remoteID, firedAt); err != nil {
			log.Warn("delivered hook failed", zap.Error(err))
		}
	}

	log.Info("message delivered",
		zap.String("recipient", job.Recipient),
		zap.String("remote_message_id", remoteID),
	)
	return OutcomeDelivered
}

// load reads the job and reports whether it should still be delivered.
func (d *Dispatcher) load(ctx context.Context, log *zap.Logger, handle string) (*model.Job, Outcome, bool) {
	job, err := d.jobs.Get(ctx, handle)
	if errors.Is(err, repo.ErrNotFound) {
		log.Info("job no longer exists, skipping")
		return nil, OutcomeAbsent, false
	}
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		return nil, OutcomeFailed, false
	}
	if !job.Active {
		log.Info("job inactive, skipping")
		return nil, OutcomeInactive, false
	}
	return job, OutcomeDelivered, true
}

// fail records the error on the job. There is no retry: a recurring job
// simply fires again at its next instant.
func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, job *model.Job, cause error) Outcome {
	reason := cause.Error()
	log.Error("delivery failed", zap.String("recipient", job.Recipient), zap.Error(cause))

	d.record(ctx, log, job.ID, d.now(), reason)
	if d.onFailed != nil {
		if err := d.onFailed(ctx, job.ID, reason); err != nil {
			log.Warn("failed hook failed", zap.Error(err))
		}
	}
	return OutcomeFailed
}

func (d *Dispatcher) record(ctx context.Context, log *zap.Logger, id string, firedAt time.Time, reason string) {
	err := d.jobs.Update(ctx, id, model.JobMutation{LastFiredAt: &firedAt, LastError: &reason})
	switch {
	case errors.Is(err, repo.ErrNotFound):
		log.Info("job deleted during delivery")
	case err != nil:
		log.Warn("record fire failed", zap.Error(err))
	}
}
