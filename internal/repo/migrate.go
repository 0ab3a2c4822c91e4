package repo

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every embedded migration in file-name order, each in its
// own transaction. Migrations are written to be re-runnable.
func Migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return errors.Wrapf(err, "read migration %s", e.Name())
		}
		if err := applyMigration(ctx, db, string(body)); err != nil {
			return errors.Wrapf(err, "apply migration %s", e.Name())
		}
		log.Info("migration applied", zap.String("file", e.Name()))
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	return tx.Commit()
}
