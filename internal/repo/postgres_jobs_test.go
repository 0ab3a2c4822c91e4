package repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

const testJobID = "7b0f8a52-3c1e-4d7a-9a63-4f1f2b9f3e10"

var fixedNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

var jobCols = []string{
	"id", "owner_id", "recipient", "message", "attachment_path", "time_of_day", "recurrence", "active",
	"fire_time", "fire_at", "last_fired_at", "last_error", "created_at", "updated_at",
}

func newJobRepo(t *testing.T) (*PostgresJobRepo, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := NewPostgresJobRepo(db)
	r.now = func() time.Time { return fixedNow }
	r.newID = func() string { return testJobID }
	return r, mock
}

func TestPostgresJobRepo_Create(t *testing.T) {
	r, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs (id, owner_id, recipient")).
		WithArgs(testJobID, int64(7), "5511999990000", "bom dia", nil, "09:00", "daily", true, "09:02", nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &model.Job{
		OwnerID:    7,
		Recipient:  "5511999990000",
		Message:    "bom dia",
		TimeOfDay:  model.TimeOfDay{Hour: 9},
		Recurrence: model.Daily,
		Active:     true,
		FireTime:   model.TimeOfDay{Hour: 9, Minute: 2},
	}
	id, err := r.Create(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, testJobID, id)
	assert.Equal(t, testJobID, job.ID)
	assert.Equal(t, fixedNow, job.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Create_OnceStoresInstant(t *testing.T) {
	r, mock := newJobRepo(t)

	at := fixedNow.Add(10 * time.Second)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(testJobID, int64(1), "Group", "", "/tmp/a.png", "08:00", "once", true, "08:30", at, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := r.Create(context.Background(), &model.Job{
		OwnerID:        1,
		Recipient:      "Group",
		AttachmentPath: "/tmp/a.png",
		TimeOfDay:      model.TimeOfDay{Hour: 8},
		Recurrence:     model.Once,
		Active:         true,
		FireTime:       model.TimeOfDayOf(at),
		FireAt:         &at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Create_RejectsEmptyRecipient(t *testing.T) {
	r, mock := newJobRepo(t)

	_, err := r.Create(context.Background(), &model.Job{Recurrence: model.Daily})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Get(t *testing.T) {
	r, mock := newJobRepo(t)

	fired := fixedNow.Add(-time.Hour)
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs(testJobID).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			testJobID, int64(7), "5511999990000", "oi", nil, "09:00", "weekdays", true,
			"09:04", nil, fired, "boom", fixedNow, fixedNow,
		))

	j, err := r.Get(context.Background(), testJobID)
	require.NoError(t, err)
	assert.Equal(t, model.Weekdays, j.Recurrence)
	assert.Equal(t, model.TimeOfDay{Hour: 9, Minute: 4}, j.FireTime)
	assert.Empty(t, j.AttachmentPath)
	assert.Nil(t, j.FireAt)
	require.NotNil(t, j.LastFiredAt)
	assert.True(t, j.LastFiredAt.Equal(fired))
	assert.Equal(t, "boom", j.LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Get_NotFound(t *testing.T) {
	r, mock := newJobRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs(testJobID).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := r.Get(context.Background(), testJobID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.Get(context.Background(), "not-a-uuid")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Update(t *testing.T) {
	r, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET message = $2, active = $3, updated_at = $4 WHERE id = $1")).
		WithArgs(testJobID, "edited", false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := "edited"
	active := false
	err := r.Update(context.Background(), testJobID, model.JobMutation{Message: &msg, Active: &active})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Update_FireBookkeeping(t *testing.T) {
	r, mock := newJobRepo(t)

	fired := fixedNow
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET last_fired_at = $2, last_error = $3, updated_at = $4 WHERE id = $1")).
		WithArgs(testJobID, fired, nil, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	empty := ""
	err := r.Update(context.Background(), testJobID, model.JobMutation{LastFiredAt: &fired, LastError: &empty})
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Update_MovedInstant(t *testing.T) {
	r, mock := newJobRepo(t)

	at := fixedNow.Add(10 * time.Second)
	fire := model.TimeOfDayOf(at)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET fire_time = $2, fire_at = $3, updated_at = $4 WHERE id = $1")).
		WithArgs(testJobID, fire.String(), at, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.Update(context.Background(), testJobID, model.JobMutation{FireTime: &fire, FireAt: &at})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Update_EmptyMutationIsNoop(t *testing.T) {
	r, mock := newJobRepo(t)

	require.NoError(t, r.Update(context.Background(), testJobID, model.JobMutation{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_Delete(t *testing.T) {
	r, mock := newJobRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
		WithArgs(testJobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
		WithArgs(testJobID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.Delete(context.Background(), testJobID))
	assert.True(t, errors.Is(r.Delete(context.Background(), testJobID), ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_ListActive(t *testing.T) {
	r, mock := newJobRepo(t)

	at := fixedNow.Add(time.Minute)
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE active ORDER BY created_at, id`).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(testJobID, int64(1), "a", "m1", nil, "09:00", "daily", true, "09:00", nil, nil, nil, fixedNow, fixedNow).
			AddRow("0d6cc1e7-2f51-4e41-8a3b-5a2b8f0b6a11", int64(2), "b", "m2", "/x.pdf", "08:31", "once", true, "08:31", at, nil, nil, fixedNow, fixedNow))

	jobs, err := r.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, model.Daily, jobs[0].Recurrence)
	assert.Equal(t, "/x.pdf", jobs[1].AttachmentPath)
	require.NotNil(t, jobs[1].FireAt)
	assert.True(t, jobs[1].FireAt.Equal(at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobRepo_ListByOwner(t *testing.T) {
	r, mock := newJobRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE owner_id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(jobCols))

	jobs, err := r.ListByOwner(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}
