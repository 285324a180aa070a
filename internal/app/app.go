// Package app wires config, logging, the journal and the engine for a
// workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"groupsync/internal/config"
	"groupsync/internal/db"
	"groupsync/internal/engine"
	"groupsync/internal/events"
	"groupsync/internal/logging"
	"groupsync/internal/migrate"
	"groupsync/internal/repo"
)

type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Engine engine.Engine
	// DB and Repo are nil when the journal is disabled.
	DB   *sql.DB
	Repo *repo.Repo
}

// Open loads groupsync.yml from workspace (defaults when absent) and builds
// the engine. The journal is opened and migrated when enabled.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, workspace)
}

func New(ctx context.Context, cfg *config.Config, workspace string) (*App, error) {
	logger := logging.New(cfg)
	a := &App{Config: cfg, Logger: logger, Engine: engine.New(cfg, logger)}
	if !cfg.Journal.Enabled {
		return a, nil
	}
	journalDir := cfg.Journal.Workspace
	if journalDir == "" || journalDir == "." {
		journalDir = workspace
	}
	conn, err := OpenJournal(ctx, journalDir)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.Repo = &repo.Repo{DB: conn}
	a.Engine.Journal = events.Writer{DB: conn}
	logger.WithField("path", db.Path(journalDir)).Debug("journal open")
	return a, nil
}

// OpenJournal opens and migrates the sqlite journal under workspace.
func OpenJournal(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return conn, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
