package migrate

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/db"
)

//go:embed *.sql
var fs embed.FS

func files() ([]string, error) {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Pending lists the embedded migrations not yet recorded in
// schema_migrations, in apply order.
func Pending(ctx context.Context, d *db.DB) ([]string, error) {
	if err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now());`); err != nil {
		return nil, err
	}
	all, err := files()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range all {
		var applied bool
		if err := d.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, f).Scan(&applied); err != nil {
			return nil, err
		}
		if !applied {
			out = append(out, f)
		}
	}
	return out, nil
}

// Up applies pending migrations, each in its own transaction.
func Up(ctx context.Context, d *db.DB, log *zap.Logger) error {
	pending, err := Pending(ctx, d)
	if err != nil {
		return err
	}
	for _, f := range pending {
		b, err := fs.ReadFile(f)
		if err != nil {
			return err
		}
		err = d.InTx(ctx, func(tx db.Tx) error {
			if err := tx.Exec(ctx, string(b)); err != nil {
				return err
			}
			return tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, f)
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
		log.Info("migration applied", zap.String("version", f))
	}
	return nil
}
