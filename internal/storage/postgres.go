package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db       *sql.DB
	users    *userRepo
	servers  *serverRepo
	channels *channelRepo
	messages *messageRepo
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		users:    &userRepo{db: db},
		servers:  &serverRepo{db: db},
		channels: &channelRepo{db: db},
		messages: &messageRepo{db: db},
	}
}

func (s *PostgresStore) Close(ctx context.Context) error {
	_ = ctx
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrator := NewMigrator(s.db, migrationsFS)
	return migrator.Up(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Users() user.Repository {
	return s.users
}

func (s *PostgresStore) Servers() server.Repository {
	return s.servers
}

func (s *PostgresStore) Channels() channel.Repository {
	return s.channels
}

func (s *PostgresStore) Messages() message.Repository {
	return s.messages
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
