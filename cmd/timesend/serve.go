package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Jorge-Gabriel97/Timesend/internal/api"
	"github.com/Jorge-Gabriel97/Timesend/internal/auth"
	"github.com/Jorge-Gabriel97/Timesend/internal/cache"
	"github.com/Jorge-Gabriel97/Timesend/internal/client"
	"github.com/Jorge-Gabriel97/Timesend/internal/recipients"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
	"github.com/Jorge-Gabriel97/Timesend/internal/scheduler"
	"github.com/Jorge-Gabriel97/Timesend/internal/service"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
	"github.com/Jorge-Gabriel97/Timesend/internal/upload"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := repo.Open(ctx, a.cfg.Database.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx, db, a.log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) deliveryCache(ctx context.Context) (cache.DeliveryCache, func(), error) {
	rc := a.cfg.Redis
	if !rc.Enabled {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrapf(err, "ping redis %s", rc.Address)
	}
	return cache.NewRedisCache(rdb, rc.TTL), func() { _ = rdb.Close() }, nil
}

// stopBackground cancels pairing tasks before draining the scheduler. A fire
// may be waiting on a session lock held by a pairing task, and Stop waits for
// running fires.
func stopBackground(pairing interface{ Close() }, sched interface{ Stop() bool }) {
	pairing.Close()
	sched.Stop()
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	deliveries, closeCache, err := a.deliveryCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	jobStore := repo.NewPostgresJobRepo(db)
	contactStore := repo.NewPostgresContactRepo(db)
	tenantStore := repo.NewPostgresTenantRepo(db)

	automation := client.NewAutomationClient(cfg.Automation.URL, cfg.Automation.Timeout)
	namespace := session.NewNamespace(cfg.Session.BaseDir)
	locks := session.NewLocks()

	dispatcher := service.NewDispatcher(jobStore, automation, namespace, locks, log)
	if n := cfg.Automation.RatePerMinute; n > 0 {
		dispatcher.WithLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1))
	}
	if deliveries != nil {
		dispatcher.WithHooks(deliveries.StoreDelivered, nil)
	}

	sched, err := scheduler.New(dispatcher.Fire, cfg.Scheduler.Location, log)
	if err != nil {
		return err
	}

	jobs := service.NewJobs(jobStore, recipients.NewResolver(contactStore), sched, service.JobsConfig{
		MessageMax:  cfg.Automation.MessageMax,
		MissedGrace: cfg.Scheduler.MissedGrace,
		Location:    cfg.Scheduler.Location,
	}, log)

	if _, err := jobs.Replay(ctx); err != nil {
		return errors.Wrap(err, "replay jobs")
	}

	pairing, err := session.NewPairing(automation, namespace, locks, session.PairingConfig{
		Attempts: cfg.Session.PairingAttempts,
		Interval: cfg.Session.PairingInterval,
		QRDir:    cfg.Session.PairingDir,
	}, log)
	if err != nil {
		return err
	}

	sched.Start()
	defer stopBackground(pairing, sched)

	handler := api.NewHandler(api.Deps{
		Jobs:       jobs,
		Contacts:   service.NewContacts(contactStore, log),
		Tenants:    service.NewTenants(tenantStore, jobs, log),
		Scheduler:  sched,
		Pairing:    pairing,
		Uploads:    upload.NewStore(cfg.Upload.Dir, cfg.Upload.MaxBytes),
		Deliveries: deliveries,
		Tokens:     auth.NewJWT(cfg.Server.JWTSecret, cfg.Server.TokenTTL),
		Log:        log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.Server.Address),
			zap.Bool("redis", cfg.Redis.Enabled),
			zap.String("timezone", cfg.Scheduler.Location.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}
