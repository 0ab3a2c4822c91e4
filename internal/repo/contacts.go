package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

type ContactRepository interface {
	Create(ctx context.Context, c *model.Contact) (int64, error)
	Get(ctx context.Context, id int64) (*model.Contact, error)
	List(ctx context.Context) ([]model.Contact, error)
}

type PostgresContactRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ ContactRepository = (*PostgresContactRepo)(nil)

// Create inserts the contact and returns ErrDuplicate when the phone number
// is already registered.
func (r *PostgresContactRepo) Create(ctx context.Context, c *model.Contact) (int64, error) {
	now := r.now()
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (name, phone, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO NOTHING
		RETURNING id
	`, c.Name, c.Phone, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(ErrDuplicate, "contact %s", c.Phone)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert contact")
	}
	c.ID = id
	c.CreatedAt = now
	return id, nil
}

func (r *PostgresContactRepo) Get(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at FROM contacts WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get contact %d", id)
	}
	return &c, nil
}

func (r *PostgresContactRepo) List(ctx context.Context) ([]model.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at FROM contacts ORDER BY name, id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
