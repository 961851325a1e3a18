package testutil

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mroshb/trivia_bot/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// Postgres is a throwaway database in a container with the schema migrated.
type Postgres struct {
	Container *postgres.PostgresContainer
	ConnStr   string
	DB        *gorm.DB
}

// StartPostgres starts a Postgres container and runs the gorm migrations.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	parsedURL, err := url.Parse(connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	query := parsedURL.Query()
	query.Set("sslmode", "disable")
	parsedURL.RawQuery = query.Encode()
	connStr = parsedURL.String()

	db, err := database.Open(connStr, false)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	return &Postgres{Container: pgContainer, ConnStr: connStr, DB: db}, nil
}

// Reset empties every table between tests.
func (p *Postgres) Reset() error {
	return p.DB.Exec(`TRUNCATE questions, question_rounds, game_sessions, chat_scores,
		global_scores, callback_tokens, locks, quiz_runs`).Error
}

func (p *Postgres) Terminate(ctx context.Context) error {
	if sqlDB, err := p.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return p.Container.Terminate(ctx)
}
