package service

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBlocked            = errors.New("account blocked")
	ErrSelfAction         = errors.New("cannot apply to own account")
	ErrInvalidTenant      = errors.New("invalid tenant")
)

// OwnerTimers finds and disarms the timers of a tenant's jobs.
type OwnerTimers interface {
	OwnerHandles(ctx context.Context, ownerID int64) ([]string, error)
	Disarm(handles []string) int
}

type Tenants struct {
	repo   repo.TenantRepository
	timers OwnerTimers
	cost   int
	log    *zap.Logger
}

// NewTenants builds the tenant service. timers may be nil for command-line
// use where no scheduler runs.
func NewTenants(r repo.TenantRepository, timers OwnerTimers, log *zap.Logger) *Tenants {
	return &Tenants{repo: r, timers: timers, cost: bcrypt.DefaultCost, log: log.Named("tenants")}
}

// Bootstrap creates an administrator without an acting caller. It is meant
// for first-time setup from the command line.
func (t *Tenants) Bootstrap(ctx context.Context, username, password string) (*model.Tenant, error) {
	return t.create(ctx, username, password, true)
}

func (t *Tenants) Create(ctx context.Context, actor model.Actor, username, password string, isAdmin bool) (*model.Tenant, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return t.create(ctx, username, password, isAdmin)
}

func (t *Tenants) create(ctx context.Context, username, password string, isAdmin bool) (*model.Tenant, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.Wrap(ErrInvalidTenant, "username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), t.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	tn := &model.Tenant{Username: username, PasswordHash: string(hash), IsAdmin: isAdmin}
	if _, err := t.repo.Create(ctx, tn); err != nil {
		return nil, err
	}
	t.log.Info("tenant created", zap.Int64("tenant_id", tn.ID), zap.Bool("admin", isAdmin))
	return tn, nil
}

// Authenticate checks the password and refuses blocked tenants.
func (t *Tenants) Authenticate(ctx context.Context, username, password string) (*model.Tenant, error) {
	tn, err := t.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(tn.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if tn.IsBlocked {
		return nil, ErrBlocked
	}
	return tn, nil
}

func (t *Tenants) List(ctx context.Context, actor model.Actor) ([]model.Tenant, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return t.repo.List(ctx)
}

// ToggleBlock flips the blocked flag of another tenant.
func (t *Tenants) ToggleBlock(ctx context.Context, actor model.Actor, id int64) (*model.Tenant, error) {
	if err := t.checkAdminOnOther(actor, id); err != nil {
		return nil, err
	}
	tn, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.repo.SetBlocked(ctx, id, !tn.IsBlocked); err != nil {
		return nil, err
	}
	tn.IsBlocked = !tn.IsBlocked
	t.log.Info("tenant block toggled", zap.Int64("tenant_id", id), zap.Bool("blocked", tn.IsBlocked))
	return tn, nil
}

// Delete removes another tenant together with its jobs. The job handles are
// collected first because the records go with the tenant; the timers are only
// disarmed once the delete has succeeded.
func (t *Tenants) Delete(ctx context.Context, actor model.Actor, id int64) error {
	if err := t.checkAdminOnOther(actor, id); err != nil {
		return err
	}
	if _, err := t.repo.Get(ctx, id); err != nil {
		return err
	}
	var handles []string
	if t.timers != nil {
		var err error
		if handles, err = t.timers.OwnerHandles(ctx, id); err != nil {
			return errors.Wrapf(err, "list jobs of tenant %d", id)
		}
	}
	if err := t.repo.Delete(ctx, id); err != nil {
		return err
	}
	var n int
	if t.timers != nil {
		n = t.timers.Disarm(handles)
	}
	t.log.Info("tenant deleted", zap.Int64("tenant_id", id), zap.Int("timers_cancelled", n))
	return nil
}

func (t *Tenants) checkAdminOnOther(actor model.Actor, id int64) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	if actor.TenantID == id {
		return ErrSelfAction
	}
	return nil
}
