// Package dump renders a MySQL database into a single SQL text that recreates
// every table and its rows.
package dump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

var (
	// ErrEmptySchema is returned when the database has no tables at all
	ErrEmptySchema = errors.New("database contains no tables")
	// ErrDatabaseRead wraps failures of SHOW TABLES, SELECT or SHOW CREATE TABLE
	ErrDatabaseRead = errors.New("database read failed")
	// ErrWrite wraps failures writing the dump file
	ErrWrite = errors.New("dump write failed")
)

// DefaultQueryTimeout bounds each query issued while dumping
const DefaultQueryTimeout = 5 * time.Minute

// TableDump is one table's structure and contents in column order
type TableDump struct {
	Name            string
	CreateStatement string
	Columns         []string
	Rows            [][]sql.NullString
}

// Dumper reads tables from a live connection and serializes them
type Dumper struct {
	fs           afero.Fs
	logger       *logging.Logger
	queryTimeout time.Duration
}

// NewDumper creates a dumper writing to the OS filesystem with the default query timeout
func NewDumper(logger *logging.Logger) *Dumper {
	return NewDumperWithOptions(afero.NewOsFs(), logger, DefaultQueryTimeout)
}

// NewDumperWithOptions creates a dumper with a custom filesystem and per-query timeout.
// A zero timeout disables the per-query deadline.
func NewDumperWithOptions(fs afero.Fs, logger *logging.Logger, queryTimeout time.Duration) *Dumper {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Dumper{
		fs:           fs,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// DumpToFile renders the whole database and writes it to path in one pass.
// The dump is held in memory while rendering.
func (d *Dumper) DumpToFile(ctx context.Context, db *sql.DB, path string) (err error) {
	done := d.logger.LogOperationStart(ctx, "database_dump", map[string]interface{}{"path": path})
	defer func() { done(err) }()

	text, err := d.Render(ctx, db)
	if err != nil {
		return err
	}

	if err := afero.WriteFile(d.fs, path, []byte(text), os.FileMode(0o600)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	return nil
}

// Render returns the SQL text for every table in the database
func (d *Dumper) Render(ctx context.Context, db *sql.DB) (string, error) {
	tables, err := d.Collect(ctx, db)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, table := range tables {
		WriteTable(&sb, table)
	}
	return sb.String(), nil
}

// Collect reads every table, sorted by name, into memory
func (d *Dumper) Collect(ctx context.Context, db *sql.DB) ([]TableDump, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database connection is nil", ErrDatabaseRead)
	}

	names, err := d.listTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrEmptySchema
	}

	tables := make([]TableDump, 0, len(names))
	for _, name := range names {
		start := time.Now()

		table, err := d.readTable(ctx, db, name)
		if err != nil {
			return nil, err
		}

		d.logger.LogTableDump(ctx, name, len(table.Rows), time.Since(start))
		tables = append(tables, table)
	}
	return tables, nil
}

func (d *Dumper) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.queryTimeout)
}

func (d *Dumper) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	qctx, cancel := d.queryContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(qctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %w", ErrDatabaseRead, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan table name: %w", ErrDatabaseRead, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tables: %w", ErrDatabaseRead, err)
	}

	sort.Strings(names)
	return names, nil
}

func (d *Dumper) readTable(ctx context.Context, db *sql.DB, name string) (TableDump, error) {
	table := TableDump{Name: name}

	columns, rows, err := d.readRows(ctx, db, name)
	if err != nil {
		return table, err
	}
	table.Columns = columns
	table.Rows = rows

	create, err := d.readCreateStatement(ctx, db, name)
	if err != nil {
		return table, err
	}
	table.CreateStatement = create

	return table, nil
}

func (d *Dumper) readRows(ctx context.Context, db *sql.DB, name string) ([]string, [][]sql.NullString, error) {
	qctx, cancel := d.queryContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(qctx, "SELECT * FROM "+QuoteIdentifier(name))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: select from %s: %w", ErrDatabaseRead, name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: columns of %s: %w", ErrDatabaseRead, name, err)
	}

	var result [][]sql.NullString
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("%w: scan row of %s: %w", ErrDatabaseRead, name, err)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: iterate rows of %s: %w", ErrDatabaseRead, name, err)
	}

	return columns, result, nil
}

// readCreateStatement returns the second column of SHOW CREATE TABLE.
// Views return four columns, base tables two.
func (d *Dumper) readCreateStatement(ctx context.Context, db *sql.DB, name string) (string, error) {
	qctx, cancel := d.queryContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(qctx, "SHOW CREATE TABLE "+QuoteIdentifier(name))
	if err != nil {
		return "", fmt.Errorf("%w: show create table %s: %w", ErrDatabaseRead, name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("%w: show create table %s: %w", ErrDatabaseRead, name, err)
	}
	if len(columns) < 2 {
		return "", fmt.Errorf("%w: show create table %s returned %d columns", ErrDatabaseRead, name, len(columns))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("%w: show create table %s: %w", ErrDatabaseRead, name, err)
		}
		return "", fmt.Errorf("%w: show create table %s returned no rows", ErrDatabaseRead, name)
	}

	values := make([]sql.NullString, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", fmt.Errorf("%w: show create table %s: %w", ErrDatabaseRead, name, err)
	}

	return values[1].String, nil
}
