package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/planner"
	"github.com/Jorge-Gabriel97/Timesend/internal/recipients"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
	"github.com/Jorge-Gabriel97/Timesend/internal/scheduler"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrMessageTooLong = errors.New("message too long")
)

// JobScheduler arms and disarms the timer of a job handle.
type JobScheduler interface {
	Schedule(handle string, t model.Trigger) error
	Cancel(handle string) bool
}

// Submission is one request to message a set of recipients.
type Submission struct {
	ContactIDs     []int64
	FreeText       string
	Message        string
	TimeOfDay      string
	Recurrence     string
	AttachmentPath string
}

type JobsConfig struct {
	MessageMax int
	// MissedGrace is how late a one-off job missed during downtime may still
	// be sent on startup. Zero disables catch-up.
	MissedGrace time.Duration
	Location    *time.Location
}

type ReplayReport struct {
	Recurring int `json:"recurring"`
	Once      int `json:"once"`
	CaughtUp  int `json:"caughtUp"`
	Missed    int `json:"missed"`
	Failed    int `json:"failed"`
}

type Jobs struct {
	store    repo.JobRepository
	resolver *recipients.Resolver
	sched    JobScheduler
	cfg      JobsConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewJobs(store repo.JobRepository, resolver *recipients.Resolver, sched JobScheduler, cfg JobsConfig, log *zap.Logger) *Jobs {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Jobs{
		store:    store,
		resolver: resolver,
		sched:    sched,
		cfg:      cfg,
		log:      log.Named("jobs"),
		now:      time.Now,
	}
}

// Submit validates the whole submission before touching the store, then
// creates and arms one job per destination. It returns the created handles.
// The batch is all or nothing: when any destination fails, every job already
// created by this call is deleted and disarmed again.
func (j *Jobs) Submit(ctx context.Context, actor model.Actor, sub Submission) ([]string, error) {
	tod, err := model.ParseTimeOfDay(sub.TimeOfDay)
	if err != nil {
		return nil, err
	}
	rec, err := model.ParseRecurrence(sub.Recurrence)
	if err != nil {
		return nil, err
	}
	if err := j.checkMessage(sub.Message); err != nil {
		return nil, err
	}
	dests, err := j.resolver.Resolve(ctx, sub.ContactIDs, sub.FreeText)
	if err != nil {
		return nil, err
	}

	triggers := planner.PlanBatch(j.now().In(j.cfg.Location), tod, rec, len(dests))

	ids := make([]string, 0, len(dests))
	for i, dest := range dests {
		tr := triggers[i]
		job := &model.Job{
			OwnerID:        actor.TenantID,
			Recipient:      dest,
			Message:        sub.Message,
			AttachmentPath: sub.AttachmentPath,
			TimeOfDay:      tod,
			Recurrence:     rec,
			Active:         true,
			FireTime:       tr.Fire,
		}
		if rec == model.Once {
			at := tr.At
			job.FireAt = &at
		}

		id, err := j.store.Create(ctx, job)
		if err != nil {
			j.rollback(ctx, ids)
			return nil, errors.Wrapf(err, "create job for %s", dest)
		}
		ids = append(ids, id)

		armed, err := j.arm(ctx, id, tr)
		if err != nil {
			j.rollback(ctx, ids)
			return nil, errors.Wrapf(err, "arm job %s", id)
		}

		j.log.Info("job scheduled",
			zap.String("job_id", id),
			zap.Int64("tenant_id", actor.TenantID),
			zap.String("recipient", dest),
			zap.Stringer("trigger", armed),
		)
	}
	return ids, nil
}

// rollback removes the jobs of a failed batch. It runs detached from the
// request context so a cancelled client cannot leave half a batch behind.
func (j *Jobs) rollback(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		j.sched.Cancel(id)
		if err := j.store.Delete(ctx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
			j.log.Warn("rollback of batch job failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// arm schedules the trigger and returns the one actually armed. A one-off
// instant that slipped into the past while the batch was being stored is
// moved OnceDelay ahead, and the new instant is written back to the record.
func (j *Jobs) arm(ctx context.Context, id string, tr model.Trigger) (model.Trigger, error) {
	err := j.sched.Schedule(id, tr)
	if tr.Recurrence != model.Once || !errors.Is(err, scheduler.ErrInstantPassed) {
		return tr, err
	}

	moved := model.OnceAt(j.now().Add(planner.OnceDelay))
	at, fire := moved.At, moved.Fire
	if err := j.store.Update(ctx, id, model.JobMutation{FireTime: &fire, FireAt: &at}); err != nil {
		return tr, errors.Wrap(err, "store moved instant")
	}
	if err := j.sched.Schedule(id, moved); err != nil {
		return tr, err
	}
	return moved, nil
}

func (j *Jobs) checkMessage(msg string) error {
	if j.cfg.MessageMax > 0 && utf8.RuneCountInString(msg) > j.cfg.MessageMax {
		return errors.Wrapf(ErrMessageTooLong, "exceeds %d chars", j.cfg.MessageMax)
	}
	return nil
}

// List returns every job for admins and the caller's own jobs otherwise.
func (j *Jobs) List(ctx context.Context, actor model.Actor) ([]model.Job, error) {
	if actor.IsAdmin {
		return j.store.ListAll(ctx)
	}
	return j.store.ListByOwner(ctx, actor.TenantID)
}

func (j *Jobs) Get(ctx context.Context, actor model.Actor, id string) (*model.Job, error) {
	job, err := j.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(job.OwnerID) {
		return nil, ErrForbidden
	}
	return job, nil
}

// EditMessage changes the text of a job. The armed timer is left alone; the
// dispatcher reads the new text when it fires.
func (j *Jobs) EditMessage(ctx context.Context, actor model.Actor, id, message string) error {
	if _, err := j.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := j.checkMessage(message); err != nil {
		return err
	}
	if err := j.store.Update(ctx, id, model.JobMutation{Message: &message}); err != nil {
		return err
	}
	j.log.Info("job message edited", zap.String("job_id", id), zap.Int64("tenant_id", actor.TenantID))
	return nil
}

// Cancel deletes the job and disarms its timer. A fire already in progress
// is not interrupted.
func (j *Jobs) Cancel(ctx context.Context, actor model.Actor, id string) error {
	if _, err := j.Get(ctx, actor, id); err != nil {
		return err
	}
	if err := j.store.Delete(ctx, id); err != nil {
		return err
	}
	j.sched.Cancel(id)
	j.log.Info("job cancelled", zap.String("job_id", id), zap.Int64("tenant_id", actor.TenantID))
	return nil
}

// OwnerHandles lists the job handles of a tenant.
func (j *Jobs) OwnerHandles(ctx context.Context, ownerID int64) ([]string, error) {
	jobs, err := j.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// Disarm cancels the timers of the given handles and reports how many were
// armed. The records are left alone.
func (j *Jobs) Disarm(handles []string) int {
	n := 0
	for _, id := range handles {
		if j.sched.Cancel(id) {
			n++
		}
	}
	return n
}

// Replay re-arms timers from the store after a restart. Recurring jobs are
// always re-armed. One-off jobs are re-armed while their instant is ahead;
// ones that were due while the process was down are sent now if they are
// within MissedGrace and reported as missed otherwise.
func (j *Jobs) Replay(ctx context.Context) (ReplayReport, error) {
	var rep ReplayReport

	jobs, err := j.store.ListActive(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "list active jobs")
	}

	now := j.now()
	for i := range jobs {
		job := &jobs[i]
		log := j.log.With(zap.String("job_id", job.ID))

		tr := job.Trigger()
		switch {
		case job.Recurrence.Recurring():
			rep.Recurring++
		case job.LastFiredAt != nil || job.FireAt == nil:
			continue
		case job.FireAt.After(now):
			rep.Once++
		case j.cfg.MissedGrace > 0 && now.Sub(*job.FireAt) <= j.cfg.MissedGrace:
			tr = model.OnceAt(now.Add(planner.OnceDelay))
			rep.CaughtUp++
		default:
			rep.Missed++
			log.Warn("one-off job missed while offline", zap.Time("fire_at", *job.FireAt))
			continue
		}

		if err := j.sched.Schedule(job.ID, tr); err != nil {
			rep.Failed++
			log.Error("re-arm failed", zap.Error(err))
		}
	}

	j.log.Info("timers replayed",
		zap.Int("recurring", rep.Recurring),
		zap.Int("once", rep.Once),
		zap.Int("caught_up", rep.CaughtUp),
		zap.Int("missed", rep.Missed),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}
