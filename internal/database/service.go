package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/ogichanchan/ninja-backup-mate/internal/errors"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
	SiteName(ctx context.Context, db *sql.DB, tablePrefix string) (string, error)
}

var _ DatabaseService = (*Service)(nil)

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	open              func(driverName, dsn string) (*sql.DB, error)
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		open:              sql.Open,
	}
}

// Connect opens the MySQL connection pool and verifies it with a single ping.
// There is no retry: a failed connection fails the backup.
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	startTime := time.Now()

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = s.connectionTimeout
	}

	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Info("Attempting database connection")

	db, err := s.open("mysql", config.DSN())
	if err != nil {
		err = errors.WrapError(err, "failed to open database connection")
		s.logger.LogDatabaseConnection(config.Host, config.Database, false, time.Since(startTime), err)
		return nil, err
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.TestConnection(pingCtx, db); err != nil {
		db.Close()
		s.logger.LogDatabaseConnection(config.Host, config.Database, false, time.Since(startTime), err)
		return nil, err
	}

	s.logger.LogDatabaseConnection(config.Host, config.Database, true, time.Since(startTime), nil)
	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		s.logger.Debug("Database connection is nil, nothing to close")
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion retrieves the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}

// SiteName reads the blogname option from the WordPress options table.
// A missing option yields an empty name and no error.
func (s *Service) SiteName(ctx context.Context, db *sql.DB, tablePrefix string) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if !tablePrefixPattern.MatchString(tablePrefix) {
		return "", errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("invalid table prefix %q", tablePrefix), nil)
	}

	query := fmt.Sprintf("SELECT option_value FROM `%soptions` WHERE option_name = ? LIMIT 1", tablePrefix)

	var name string
	err := db.QueryRowContext(ctx, query, "blogname").Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapError(err, "failed to read site name")
	}
	return name, nil
}
