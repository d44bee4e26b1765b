package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Execer es lo mínimo que necesita Migrate
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Migrate ejecuta las migraciones embebidas en orden de nombre
func Migrate(ctx context.Context, db Execer, log logrus.FieldLogger) error {
	return runMigrations(ctx, db, migrations, log)
}

func runMigrations(ctx context.Context, db Execer, fsys fs.FS, log logrus.FieldLogger) error {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("error leyendo migraciones: %w", err)
	}
	sort.Strings(files)

	for _, filename := range files {
		log.WithField("file", filename).Info("Ejecutando migración")
		content, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("error leyendo archivo %s: %w", filename, err)
		}

		for _, q := range strings.Split(string(content), ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, q); err != nil {
				if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "Duplicate column") {
					continue
				}
				return fmt.Errorf("error ejecutando query en %s: %w", filename, err)
			}
		}
	}
	return nil
}
