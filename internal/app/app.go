package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"teamtacles/internal/config"
	"teamtacles/internal/db"
	"teamtacles/internal/engine"
	"teamtacles/internal/migrate"
)

// App is an opened, migrated and seeded database with an engine on top.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
	Log    *logrus.Logger
}

// NewLogger builds a logrus logger from the log section. Output goes to w,
// or stderr when w is nil.
func NewLogger(cfg *config.Config, w io.Writer) *logrus.Logger {
	log := logrus.New()
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}
	return log
}

// Open prepares everything a command needs: the schema is migrated, the role
// singletons exist and the configured bootstrap admin is present.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg, nil)
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	version, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.WithFields(logrus.Fields{"path": cfg.Database.Path, "schema_version": version}).Debug("database ready")

	eng := engine.New(conn, cfg)
	if err := eng.SeedRoles(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if admin, created, err := eng.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.Admin); err != nil {
		conn.Close()
		return nil, err
	} else if created {
		log.WithField("username", admin.Username).Info("bootstrap admin created")
	}
	return &App{Config: cfg, DB: conn, Engine: eng, Log: log}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
