// Package scheduler keeps one in-process timer per job handle and calls a
// dispatch function when a timer fires. Only the handle crosses this
// boundary; the job itself is re-read by the dispatcher.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

var ErrInstantPassed = errors.New("one-off instant is not in the future")

type DispatchFunc func(ctx context.Context, handle string)

type armed struct {
	id       cron.EntryID
	schedule cron.Schedule
	trigger  model.Trigger
}

type Scheduler struct {
	cron     *cron.Cron
	dispatch DispatchFunc
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time

	running atomic.Bool
	runMu   sync.Mutex

	mu      sync.Mutex
	entries map[string]*armed
}

func New(dispatch DispatchFunc, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	if dispatch == nil {
		return nil, errors.New("dispatch must not be nil")
	}
	if loc == nil {
		loc = time.Local
	}
	log = log.Named("scheduler")

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{log: log}),
		),
		dispatch: dispatch,
		loc:      loc,
		log:      log,
		now:      time.Now,
		entries:  make(map[string]*armed),
	}, nil
}

// Schedule arms the timer of handle, replacing any timer it already had.
func (s *Scheduler) Schedule(handle string, t model.Trigger) error {
	if handle == "" {
		return errors.New("handle must not be empty")
	}

	var sched cron.Schedule
	switch {
	case t.Recurrence == model.Once:
		if !t.At.After(s.now()) {
			return errors.Wrapf(ErrInstantPassed, "handle %s at %s", handle, t.At.Format(time.RFC3339))
		}
		sched = onceSchedule{at: t.At}
	case t.Recurrence.Recurring():
		parsed, err := cron.ParseStandard(t.CronSpec())
		if err != nil {
			return errors.Wrapf(err, "handle %s", handle)
		}
		sched = parsed
	default:
		return errors.Wrapf(model.ErrInvalidRecurrence, "handle %s: %q", handle, t.Recurrence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[handle]; ok {
		s.cron.Remove(prev.id)
	}
	e := &armed{schedule: sched, trigger: t}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(handle, e) }))
	s.entries[handle] = e

	s.log.Debug("timer armed", zap.String("job_id", handle), zap.Stringer("trigger", t))
	return nil
}

// Cancel disarms the timer of handle. It reports whether one was armed.
func (s *Scheduler) Cancel(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok {
		return false
	}
	delete(s.entries, handle)
	s.cron.Remove(e.id)

	s.log.Debug("timer cancelled", zap.String("job_id", handle))
	return true
}

func (s *Scheduler) Armed(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[handle]
	return ok
}

// Next returns the next instant the timer of handle fires.
func (s *Scheduler) Next(handle string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[handle]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	next := e.schedule.Next(s.now().In(s.loc))
	return next, !next.IsZero()
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running.Load() {
		return false
	}
	s.cron.Start()
	s.running.Store(true)

	s.log.Info("scheduler started", zap.Int("timers", s.Len()), zap.String("location", s.loc.String()))
	return true
}

// Stop halts the timers and waits for in-flight dispatches to return.
// Armed timers are kept and resume on the next Start.
func (s *Scheduler) Stop() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running.Load() {
		return false
	}
	<-s.cron.Stop().Done()
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) fire(handle string, e *armed) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch panic recovered", zap.String("job_id", handle), zap.Any("panic", r))
		}
		if e.trigger.Recurrence == model.Once {
			s.discard(handle, e)
		}
	}()

	start := time.Now()
	s.dispatch(context.Background(), handle)
	s.log.Debug("dispatch completed",
		zap.String("job_id", handle),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

// discard forgets a fired one-off timer unless the handle was re-armed
// while the dispatch ran.
func (s *Scheduler) discard(handle string, e *armed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[handle]; ok && cur == e {
		delete(s.entries, handle)
		s.cron.Remove(e.id)
	}
}

// onceSchedule fires a single time at a fixed instant. A zero Next tells
// cron the entry is exhausted.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), zap.Error(err))...)
}

func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
