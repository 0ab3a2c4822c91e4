package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
)

type TenantRepository interface {
	Create(ctx context.Context, t *model.Tenant) (int64, error)
	Get(ctx context.Context, id int64) (*model.Tenant, error)
	GetByUsername(ctx context.Context, username string) (*model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	Delete(ctx context.Context, id int64) error
}

const tenantColumns = `id, username, password_hash, is_admin, is_blocked, created_at`

type PostgresTenantRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ TenantRepository = (*PostgresTenantRepo)(nil)

func (r *PostgresTenantRepo) Create(ctx context.Context, t *model.Tenant) (int64, error) {
	now := r.now()
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tenants (username, password_hash, is_admin, is_blocked, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
		RETURNING id
	`, t.Username, t.PasswordHash, t.IsAdmin, t.IsBlocked, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(ErrDuplicate, "tenant %s", t.Username)
	}
	if err != nil {
		return 0, errors.Wrap(err, "insert tenant")
	}
	t.ID = id
	t.CreatedAt = now
	return id, nil
}

func (r *PostgresTenantRepo) Get(ctx context.Context, id int64) (*model.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (r *PostgresTenantRepo) GetByUsername(ctx context.Context, username string) (*model.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE username = $1`, username)
}

func (r *PostgresTenantRepo) getOne(ctx context.Context, query string, arg any) (*model.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get tenant")
	}
	return t, nil
}

func (r *PostgresTenantRepo) List(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list tenants")
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresTenantRepo) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tenants SET is_blocked = $2 WHERE id = $1`, id, blocked)
	if err != nil {
		return errors.Wrapf(err, "block tenant %d", id)
	}
	return expectOne(res)
}

// Delete removes the tenant. Its jobs are removed by the foreign key cascade.
func (r *PostgresTenantRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete tenant %d", id)
	}
	return expectOne(res)
}

func scanTenant(s rowScanner) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.Scan(&t.ID, &t.Username, &t.PasswordHash, &t.IsAdmin, &t.IsBlocked, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
