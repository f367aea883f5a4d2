package backup

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogichanchan/ninja-backup-mate/internal/archive"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
)

const scratch = "/scratch"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type unavailableArchiver struct {
	archive.Archiver
}

func (unavailableArchiver) Available() bool { return false }

// corruptFilesArchiver writes an unreadable intermediate archive
type corruptFilesArchiver struct {
	*archive.ZipArchiver
	fs afero.Fs
}

func (a corruptFilesArchiver) BuildFilesArchive(ctx context.Context, source afero.Fs, sel *selection.Selection, path string) (*archive.Result, error) {
	return &archive.Result{Path: path}, afero.WriteFile(a.fs, path, []byte("not a zip"), 0o600)
}

// phantomArchiver reports a merge it never wrote
type phantomArchiver struct {
	*archive.ZipArchiver
}

func (a phantomArchiver) Merge(ctx context.Context, sqlPath, filesArchivePath, finalPath string) (*archive.Result, error) {
	return &archive.Result{Path: finalPath, Entries: 1}, nil
}

type failingSelector struct{ err error }

func (s failingSelector) Select(ctx context.Context, root string) (*selection.Selection, error) {
	return nil, s.err
}

type stubSiteNamer struct {
	name string
	err  error
}

func (s stubSiteNamer) SiteName(ctx context.Context, db *sql.DB, prefix string) (string, error) {
	return s.name, s.err
}

type fixture struct {
	db          *sql.DB
	mock        sqlmock.Sqlmock
	source      afero.Fs
	workspaceFs afero.Fs
	states      []State
	opts        ManagerOptions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	source := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(source, "/site/wp-config.php", []byte("<?php // config"), 0o644))
	require.NoError(t, afero.WriteFile(source, "/site/wp-content/plugins/hello/hello.php", []byte("<?php // hello"), 0o644))
	require.NoError(t, afero.WriteFile(source, "/site/wp-content/uploads/2024/photo.jpg", []byte("jpg"), 0o644))

	f := &fixture{
		db:          db,
		mock:        mock,
		source:      source,
		workspaceFs: afero.NewMemMapFs(),
	}
	f.opts = ManagerOptions{
		DB:          db,
		SiteNamer:   stubSiteNamer{name: "My Test Site!"},
		TablePrefix: "wp_",
		SiteRoot:    "/site",
		ScratchDir:  scratch,
		SourceFs:    source,
		WorkspaceFs: f.workspaceFs,
		Logger:      logging.NewDiscardLogger(),
		Now:         func() time.Time { return fixedNow },
		OnTransition: func(from, to State) {
			f.states = append(f.states, to)
		},
	}
	return f
}

func (f *fixture) expectDump() {
	f.mock.ExpectQuery("SHOW TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_wordpress"}).AddRow("wp_options"))
	f.mock.ExpectQuery("SELECT \\* FROM `wp_options`").
		WillReturnRows(sqlmock.NewRows([]string{"option_id", "option_name", "option_value"}).
			AddRow("1", "blogname", "My Test Site!"))
	f.mock.ExpectQuery("SHOW CREATE TABLE `wp_options`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("wp_options", "CREATE TABLE `wp_options` (`option_id` int)"))
}

// workspaces lists what is left below the scratch base
func (f *fixture) workspaces(t *testing.T) []string {
	t.Helper()
	infos, err := afero.ReadDir(f.workspaceFs, scratch)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(ManagerOptions{})
	assert.NotNil(t, m.opts.Dumper)
	assert.NotNil(t, m.opts.Selector)
	assert.NotNil(t, m.opts.Archiver)
	assert.NotNil(t, m.opts.SourceFs)
	assert.NotNil(t, m.opts.WorkspaceFs)
	assert.NotNil(t, m.opts.Now)
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	f.expectDump()

	var delivered map[string]string
	var order []string
	deliver := func(ctx context.Context, a *FinalArchive) error {
		in, err := f.workspaceFs.Open(a.Path)
		if err != nil {
			return err
		}
		defer in.Close()

		zr, err := zip.NewReader(in, a.Size)
		if err != nil {
			return err
		}
		delivered = make(map[string]string)
		for _, zf := range zr.File {
			r, err := zf.Open()
			if err != nil {
				return err
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return err
			}
			delivered[zf.Name] = string(data)
			order = append(order, zf.Name)
		}
		return nil
	}

	final, err := NewManager(f.opts).Run(context.Background(), deliver)
	require.NoError(t, err)

	assert.Equal(t, "ninja-backup-mate-my-test-site-2024-05-01-12-00-00.zip", final.Filename)
	assert.Equal(t, 3, final.Entries)
	assert.Positive(t, final.Size)
	assert.Empty(t, final.Warnings)

	assert.Equal(t, []string{
		"database.sql",
		"files/wp-config.php",
		"files/wp-content/plugins/hello/hello.php",
	}, order)
	assert.Contains(t, delivered["database.sql"], "INSERT INTO `wp_options` VALUES('1', 'blogname', 'My Test Site!');")
	assert.Equal(t, "<?php // config", delivered["files/wp-config.php"])

	assert.Equal(t, []State{
		StateValidatingRequest,
		StateDumpingDatabase,
		StateBuildingFileArchive,
		StateMergingArchives,
		StateStreaming,
		StateDone,
	}, f.states)
	assert.Empty(t, f.workspaces(t))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// readFinal returns the entry names and contents of a delivered archive
func readFinal(fs afero.Fs, a *FinalArchive) ([]string, map[string]string, error) {
	in, err := fs.Open(a.Path)
	if err != nil {
		return nil, nil, err
	}
	defer in.Close()

	zr, err := zip.NewReader(in, a.Size)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	contents := make(map[string]string)
	for _, zf := range zr.File {
		r, err := zf.Open()
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, nil, err
		}
		names = append(names, zf.Name)
		contents[zf.Name] = string(data)
	}
	sort.Strings(names)
	return names, contents, nil
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.opts)

	var names [2][]string
	var dumps [2]string
	for i := range 2 {
		f.expectDump()
		_, err := m.Run(context.Background(), func(ctx context.Context, a *FinalArchive) error {
			entries, contents, err := readFinal(f.workspaceFs, a)
			names[i], dumps[i] = entries, contents[DatabaseFileName]
			return err
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"database.sql",
		"files/wp-config.php",
		"files/wp-content/plugins/hello/hello.php",
	}, names[0])
	assert.Equal(t, names[0], names[1])
	assert.NotEmpty(t, dumps[0])
	assert.Equal(t, dumps[0], dumps[1])
	assert.Empty(t, f.workspaces(t))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRun_ConfiguredSiteNameWins(t *testing.T) {
	f := newFixture(t)
	f.expectDump()
	f.opts.SiteName = "Configured Name"
	f.opts.SiteNamer = stubSiteNamer{err: errors.New("must not be called")}

	final, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ninja-backup-mate-configured-name-2024-05-01-12-00-00.zip", final.Filename)
}

func TestRun_SiteNameFallback(t *testing.T) {
	f := newFixture(t)
	f.expectDump()
	f.opts.SiteNamer = stubSiteNamer{err: errors.New("table missing")}

	final, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ninja-backup-mate-wordpress-2024-05-01-12-00-00.zip", final.Filename)
}

func TestRun_CapabilityMissing(t *testing.T) {
	f := newFixture(t)
	f.opts.Archiver = unavailableArchiver{}

	delivered := false
	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error {
		delivered = true
		return nil
	})

	assert.Equal(t, BackupErrorTypeCapabilityMissing, ErrorType(err))
	assert.False(t, delivered)
	assert.Empty(t, f.workspaces(t))
	assert.Equal(t, []State{StateValidatingRequest, StateFailed}, f.states)
}

func TestRun_WorkspaceCreateFailure(t *testing.T) {
	f := newFixture(t)
	f.opts.WorkspaceFs = afero.NewReadOnlyFs(afero.NewMemMapFs())

	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	assert.Equal(t, BackupErrorTypeWorkspaceCreateFailure, ErrorType(err))
	assert.Equal(t, "Error: Could not create temporary directory for backup. Please check file permissions.", UserMessage(err))
}

func TestRun_DatabaseFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SHOW TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"Tables_in_wordpress"}).AddRow("wp_options"))
	f.mock.ExpectQuery("SELECT \\* FROM `wp_options`").WillReturnError(errors.New("SELECT command denied"))

	delivered := false
	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error {
		delivered = true
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeDatabaseReadFailure, ErrorType(err))
	assert.Equal(t, "Error: Database backup failed. Check database permissions or server resources.", UserMessage(err))
	assert.False(t, delivered)
	assert.Empty(t, f.workspaces(t))
	assert.Equal(t, StateFailed, f.states[len(f.states)-1])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRun_EmptySchema(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("SHOW TABLES").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_wordpress"}))

	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	assert.Equal(t, BackupErrorTypeEmptySchema, ErrorType(err))
	assert.Empty(t, f.workspaces(t))
}

func TestRun_FileArchiveFailure(t *testing.T) {
	f := newFixture(t)
	f.expectDump()
	f.opts.Selector = failingSelector{err: errors.New("walk failed")}

	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	assert.Equal(t, BackupErrorTypeFileArchiveFailure, ErrorType(err))
	assert.Equal(t, "Error: File backup failed. Check file permissions or server resources.", UserMessage(err))
	assert.Empty(t, f.workspaces(t))
}

func TestRun_MergeWarningStillDelivers(t *testing.T) {
	f := newFixture(t)
	f.expectDump()
	f.opts.Archiver = corruptFilesArchiver{
		ZipArchiver: archive.NewZipArchiver(f.workspaceFs, logging.NewDiscardLogger()),
		fs:          f.workspaceFs,
	}

	final, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	require.NoError(t, err)
	require.Len(t, final.Warnings, 1)
	assert.Equal(t, BackupErrorTypeArchiveMergeWarning, final.Warnings[0].Type)
	assert.Equal(t, 1, final.Entries)
	assert.Empty(t, f.workspaces(t))
}

func TestRun_ArtifactMissing(t *testing.T) {
	f := newFixture(t)
	f.expectDump()
	f.opts.Archiver = phantomArchiver{ZipArchiver: archive.NewZipArchiver(f.workspaceFs, logging.NewDiscardLogger())}

	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	assert.Equal(t, BackupErrorTypeArtifactMissing, ErrorType(err))
	assert.Equal(t, "Error: Final backup file was not found for download.", UserMessage(err))
}

func TestRun_DeliveryFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.expectDump()

	_, err := NewManager(f.opts).Run(context.Background(), func(context.Context, *FinalArchive) error {
		return errors.New("client went away")
	})
	assert.Equal(t, BackupErrorTypeDeliveryFailure, ErrorType(err))
	assert.Empty(t, f.workspaces(t))
}

func TestRun_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	f.expectDump()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	f.opts.Metrics = metrics

	manager := NewManager(f.opts)
	_, err := manager.Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	require.NoError(t, err)

	f.mock.ExpectQuery("SHOW TABLES").WillReturnRows(sqlmock.NewRows([]string{"Tables_in_wordpress"}))
	_, err = manager.Run(context.Background(), func(context.Context, *FinalArchive) error { return nil })
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("failure", string(BackupErrorTypeEmptySchema))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.inFlight))
}
