package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/archive"
	"github.com/ogichanchan/ninja-backup-mate/internal/backup"
	"github.com/ogichanchan/ninja-backup-mate/internal/config"
	"github.com/ogichanchan/ninja-backup-mate/internal/database"
	"github.com/ogichanchan/ninja-backup-mate/internal/dump"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
)

// connect opens the WordPress database described by cfg
func connect(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*database.Service, *sql.DB, error) {
	svc := database.NewServiceWithLogger(logger)
	db, err := svc.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logServerVersion(ctx, svc, db, logger)
	return svc, db, nil
}

type versioner interface {
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
}

// logServerVersion records the MySQL version; a failed lookup is not fatal
func logServerVersion(ctx context.Context, svc versioner, db *sql.DB, logger *logging.Logger) {
	version, err := svc.GetVersion(ctx, db)
	if err != nil {
		logger.Warnf("Could not read MySQL server version: %v", err)
		return
	}
	logger.Infof("Connected to MySQL server %s", version)
}

// newManager wires a backup manager for cfg on the OS filesystem
func newManager(cfg *config.Config, db *sql.DB, svc *database.Service, logger *logging.Logger, metrics *backup.Metrics, fs afero.Fs) *backup.Manager {
	return backup.NewManager(backup.ManagerOptions{
		DB:          db,
		Dumper:      dump.NewDumperWithOptions(fs, logger, dump.DefaultQueryTimeout),
		Selector:    selection.NewSelector(fs, logger, cfg.Backup.Options),
		Archiver:    archive.NewZipArchiver(fs, logger),
		SiteNamer:   svc,
		SiteName:    cfg.Site.Name,
		TablePrefix: cfg.Database.TablePrefix,
		SiteRoot:    cfg.Site.Root,
		ScratchDir:  cfg.Backup.ScratchDir,
		SourceFs:    fs,
		WorkspaceFs: fs,
		Logger:      logger,
		Metrics:     metrics,
	})
}
