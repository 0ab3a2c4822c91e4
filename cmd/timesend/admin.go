package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
	"github.com/Jorge-Gabriel97/Timesend/internal/service"
	"github.com/Jorge-Gabriel97/Timesend/internal/session"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var username, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("a password is required (--password or ADMIN_PASSWORD)")
			}

			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			tenants := service.NewTenants(repo.NewPostgresTenantRepo(db), nil, a.log)
			t, err := tenants.Bootstrap(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			cmd.Printf("administrator %q created (id %d)\n", t.Username, t.ID)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "administrator username")
	create.Flags().StringVar(&password, "password", "", "administrator password (defaults to $ADMIN_PASSWORD)")
	_ = create.MarkFlagRequired("username")

	cmd.AddCommand(create)
	return cmd
}

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage tenant automation sessions",
	}

	var tenant int64
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Wipe a tenant's session profile so it has to pair again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant <= 0 {
				return errors.New("--tenant must be a positive tenant id")
			}
			ref, err := session.NewNamespace(a.cfg.Session.BaseDir).Reset(tenant)
			if err != nil {
				return err
			}
			a.log.Info("session reset", zap.Int64("tenant_id", tenant), zap.String("session", ref.Name))
			cmd.Printf("session %s reset, pair it again before the next delivery\n", ref.Name)
			return nil
		},
	}
	reset.Flags().Int64Var(&tenant, "tenant", 0, "tenant id")
	_ = reset.MarkFlagRequired("tenant")

	cmd.AddCommand(reset)
	return cmd
}

func newContactsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the shared contact book",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import contacts from a CSV file with a name,phone header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()

			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			rep, err := service.NewContacts(repo.NewPostgresContactRepo(db), a.log).Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d contacts, skipped %d\n", rep.Imported, rep.Skipped)
			return nil
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}
