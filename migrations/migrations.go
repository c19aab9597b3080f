// Package migrations embeds the schema so the runner and the integration
// tests apply exactly the same files.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

type Migration struct {
	Name string
	SQL  string
}

// Load returns the migrations for direction ("up" or "down") in the order
// they must be applied.
func Load(direction string) ([]Migration, error) {
	if direction != "up" && direction != "down" {
		return nil, fmt.Errorf("direction must be 'up' or 'down', got %q", direction)
	}

	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fmt.Sprintf(".%s.sql", direction)) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	if direction == "down" {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Name: name, SQL: string(content)})
	}

	return migrations, nil
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply runs every migration for direction against db, stopping at the
// first failure. It returns the names that were applied.
func Apply(ctx context.Context, db Execer, direction string) ([]string, error) {
	migrations, err := Load(direction)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(migrations))
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return applied, fmt.Errorf("execute migration %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}

	return applied, nil
}
