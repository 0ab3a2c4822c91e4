package model

import "time"

type Job struct {
	ID             string     `json:"id"`
	OwnerID        int64      `json:"ownerId"`
	Recipient      string     `json:"recipient"`
	Message        string     `json:"message"`
	AttachmentPath string     `json:"attachmentPath,omitempty"`
	TimeOfDay      TimeOfDay  `json:"timeOfDay"`
	Recurrence     Recurrence `json:"recurrence"`
	Active         bool       `json:"active"`

	// Scheduling metadata, written only by the scheduling core.
	FireTime    TimeOfDay  `json:"fireTime"`
	FireAt      *time.Time `json:"fireAt,omitempty"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Trigger rebuilds the timer trigger from the persisted scheduling metadata.
func (j *Job) Trigger() Trigger {
	if j.Recurrence == Once {
		var at time.Time
		if j.FireAt != nil {
			at = *j.FireAt
		}
		return OnceAt(at)
	}
	return Recurring(j.Recurrence, j.FireTime)
}

// JobMutation lists the fields an update may change. Nil fields are left alone.
type JobMutation struct {
	Message     *string
	Active      *bool
	LastFiredAt *time.Time
	LastError   *string
	FireTime    *TimeOfDay
	FireAt      *time.Time
}

func (m JobMutation) Empty() bool {
	return m.Message == nil && m.Active == nil && m.LastFiredAt == nil && m.LastError == nil &&
		m.FireTime == nil && m.FireAt == nil
}

// Delivery is one message handed to the delivery executor.
type Delivery struct {
	JobID          string `json:"jobId"`
	Address        string `json:"address"`
	Message        string `json:"message"`
	AttachmentPath string `json:"attachmentPath,omitempty"`
	Session        string `json:"session"`
	ProfileDir     string `json:"profileDir"`
}
