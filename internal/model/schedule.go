package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
)

type Recurrence string

const (
	Once     Recurrence = "once"
	Daily    Recurrence = "daily"
	Weekdays Recurrence = "weekdays"
)

// Form values accepted for backwards compatibility with the old web form.
var recurrenceAliases = map[string]Recurrence{
	"once":     Once,
	"unica":    Once,
	"daily":    Daily,
	"diaria":   Daily,
	"weekdays": Weekdays,
	"seg-sex":  Weekdays,
}

func ParseRecurrence(raw string) (Recurrence, error) {
	r, ok := recurrenceAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", errors.Wrapf(ErrInvalidRecurrence, "%q", raw)
	}
	return r, nil
}

func (r Recurrence) Valid() bool {
	return r == Once || r == Daily || r == Weekdays
}

func (r Recurrence) Recurring() bool {
	return r == Daily || r == Weekdays
}

// TimeOfDay is a wall-clock time on a 24h clock with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return TimeOfDay{}, errors.Wrapf(ErrInvalidTimeOfDay, "%q: want HH:MM", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, errors.Wrapf(ErrInvalidTimeOfDay, "%q: hour out of range", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, errors.Wrapf(ErrInvalidTimeOfDay, "%q: minute out of range", raw)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at this time of day on the calendar date of day,
// in day's location, with zero seconds.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Trigger describes when a job's timer fires. One-off triggers carry an
// absolute instant in At; recurring triggers fire at Fire on the days
// selected by Recurrence.
type Trigger struct {
	Recurrence Recurrence
	At         time.Time
	Fire       TimeOfDay
}

func OnceAt(at time.Time) Trigger {
	return Trigger{Recurrence: Once, At: at, Fire: TimeOfDayOf(at)}
}

func Recurring(r Recurrence, fire TimeOfDay) Trigger {
	return Trigger{Recurrence: r, Fire: fire}
}

// CronSpec renders the recurring trigger as a five-field cron expression.
// It returns an empty string for one-off triggers.
func (t Trigger) CronSpec() string {
	switch t.Recurrence {
	case Daily:
		return fmt.Sprintf("%d %d * * *", t.Fire.Minute, t.Fire.Hour)
	case Weekdays:
		return fmt.Sprintf("%d %d * * 1-5", t.Fire.Minute, t.Fire.Hour)
	default:
		return ""
	}
}

func (t Trigger) String() string {
	if t.Recurrence == Once {
		return "once@" + t.At.Format(time.RFC3339)
	}
	return string(t.Recurrence) + "@" + t.Fire.String()
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
