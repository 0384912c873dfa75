package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// migrationLockID keys the advisory lock that serializes migrations when
// several instances start at once.
const migrationLockID = 0x7963636861 // "ycchat"

type Migrator struct {
	db *sql.DB
	fs fs.FS
}

func NewMigrator(db *sql.DB, migrations fs.FS) *Migrator {
	return &Migrator{db: db, fs: migrations}
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Up applies every migrations/*.sql file not yet recorded in
// schema_migrations, in file name order.
func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("db is required")
	}

	files, err := fs.Glob(m.fs, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if err := ensureTable(ctx, conn); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	for _, file := range files {
		id := filepath.Base(file)
		if applied[id] {
			continue
		}

		content, err := fs.ReadFile(m.fs, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		sqlText := stripLineComments(string(content))
		if strings.TrimSpace(sqlText) == "" {
			if err := recordApplied(ctx, conn, id); err != nil {
				return err
			}
			continue
		}

		if err := applyOne(ctx, conn, id, sqlText); err != nil {
			return err
		}
	}

	return nil
}

func ensureTable(ctx context.Context, db execQuerier) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db execQuerier) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return applied, nil
}

func applyOne(ctx context.Context, db execQuerier, id, sqlText string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, id, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", id, err)
	}
	return nil
}

func recordApplied(ctx context.Context, db execQuerier, id string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

func stripLineComments(sqlText string) string {
	lines := strings.Split(sqlText, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
