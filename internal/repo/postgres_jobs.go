package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

const jobColumns = `id, owner_id, recipient, message, attachment_path, time_of_day, recurrence, active,
	fire_time, fire_at, last_fired_at, last_error, created_at, updated_at`

type PostgresJobRepo struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

var _ JobRepository = (*PostgresJobRepo)(nil)

func (r *PostgresJobRepo) Create(ctx context.Context, job *model.Job) (string, error) {
	if strings.TrimSpace(job.Recipient) == "" {
		return "", errors.New("job recipient must not be empty")
	}
	if !job.Recurrence.Valid() {
		return "", errors.Wrapf(model.ErrInvalidRecurrence, "%q", job.Recurrence)
	}

	id := r.newID()
	now := r.now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, recipient, message, attachment_path, time_of_day, recurrence, active,
			fire_time, fire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`,
		id,
		job.OwnerID,
		job.Recipient,
		job.Message,
		nullString(job.AttachmentPath),
		job.TimeOfDay.String(),
		string(job.Recurrence),
		job.Active,
		job.FireTime.String(),
		nullTime(job.FireAt),
		now,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert job")
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return id, nil
}

func (r *PostgresJobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	return j, nil
}

func (r *PostgresJobRepo) Update(ctx context.Context, id string, m model.JobMutation) error {
	if m.Empty() {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if m.Message != nil {
		set("message", *m.Message)
	}
	if m.Active != nil {
		set("active", *m.Active)
	}
	if m.LastFiredAt != nil {
		set("last_fired_at", *m.LastFiredAt)
	}
	if m.LastError != nil {
		set("last_error", nullString(*m.LastError))
	}
	if m.FireTime != nil {
		set("fire_time", m.FireTime.String())
	}
	if m.FireAt != nil {
		set("fire_at", *m.FireAt)
	}
	set("updated_at", r.now())

	res, err := r.db.ExecContext(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	return expectOne(res)
}

func (r *PostgresJobRepo) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete job %s", id)
	}
	return expectOne(res)
}

func (r *PostgresJobRepo) ListByOwner(ctx context.Context, ownerID int64) ([]model.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (r *PostgresJobRepo) ListAll(ctx context.Context) ([]model.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
}

func (r *PostgresJobRepo) ListActive(ctx context.Context) ([]model.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE active ORDER BY created_at, id`)
}

func (r *PostgresJobRepo) list(ctx context.Context, query string, args ...any) ([]model.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(s rowScanner) (*model.Job, error) {
	var (
		j          model.Job
		attachment sql.NullString
		tod        string
		recurrence string
		fireTime   string
		fireAt     sql.NullTime
		lastFired  sql.NullTime
		lastErr    sql.NullString
	)
	if err := s.Scan(
		&j.ID,
		&j.OwnerID,
		&j.Recipient,
		&j.Message,
		&attachment,
		&tod,
		&recurrence,
		&j.Active,
		&fireTime,
		&fireAt,
		&lastFired,
		&lastErr,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if j.TimeOfDay, err = model.ParseTimeOfDay(tod); err != nil {
		return nil, errors.Wrapf(err, "job %s", j.ID)
	}
	if j.FireTime, err = model.ParseTimeOfDay(fireTime); err != nil {
		return nil, errors.Wrapf(err, "job %s", j.ID)
	}
	if j.Recurrence, err = model.ParseRecurrence(recurrence); err != nil {
		return nil, errors.Wrapf(err, "job %s", j.ID)
	}
	j.AttachmentPath = attachment.String
	j.FireAt = timePtr(fireAt)
	j.LastFiredAt = timePtr(lastFired)
	j.LastError = lastErr.String
	return &j, nil
}
