// Package planner turns a submitted time of day and recurrence into the
// concrete trigger of each job in a submission batch.
package planner

import (
	"time"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

const (
	// Stagger separates consecutive recipients of one submission.
	Stagger = 2 * time.Minute
	// OnceDelay spaces one-off jobs whose requested instant already passed.
	OnceDelay = 10 * time.Second
)

// Plan computes the trigger for the i-th recipient of a batch.
//
// The candidate instant is today's date at tod plus i staggers. A one-off
// candidate that is not in the future is replaced by now + (i+1)*OnceDelay.
// Recurring triggers keep only the candidate's hour and minute, so the stagger
// rolls the hour (and wraps past midnight) instead of overflowing the minute.
func Plan(now time.Time, tod model.TimeOfDay, rec model.Recurrence, i int) model.Trigger {
	candidate := tod.On(now).Add(time.Duration(i) * Stagger)

	if rec == model.Once {
		if !candidate.After(now) {
			candidate = now.Add(OnceDelay + time.Duration(i)*OnceDelay)
		}
		return model.OnceAt(candidate)
	}
	return model.Recurring(rec, model.TimeOfDayOf(candidate))
}

// PlanBatch plans n triggers. One-off instants are strictly increasing across
// the batch: when staggered candidates straddle now, an instant that would not
// come after its predecessor is pushed to predecessor + OnceDelay.
func PlanBatch(now time.Time, tod model.TimeOfDay, rec model.Recurrence, n int) []model.Trigger {
	if n <= 0 {
		return nil
	}
	out := make([]model.Trigger, 0, n)
	for i := 0; i < n; i++ {
		t := Plan(now, tod, rec, i)
		if rec == model.Once && i > 0 {
			prev := out[i-1].At
			if !t.At.After(prev) {
				t = model.OnceAt(prev.Add(OnceDelay))
			}
		}
		out = append(out, t)
	}
	return out
}
