package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/config"
	"github.com/Jorge-Gabriel97/Timesend/internal/logger"
)

// app carries what every command needs once the root pre-run has loaded it.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "timesend",
		Short: "Timesend - scheduled message delivery for multiple tenants",
		Long: `Timesend schedules one-off and recurring messages per tenant and hands
them to a browser automation runner at the planned instant.

Examples:
  timesend migrate                      # Apply database migrations
  timesend admin create --username root # Create the first administrator
  timesend serve                        # Run the HTTP API and the scheduler
  timesend session reset --tenant 3     # Force tenant 3 to pair again`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadAll()
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
			if err != nil {
				return errors.Wrap(err, "init logger")
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newAdminCmd(a),
		newSessionCmd(a),
		newContactsCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
