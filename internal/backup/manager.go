package backup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/archive"
	"github.com/ogichanchan/ninja-backup-mate/internal/dump"
	apperrors "github.com/ogichanchan/ninja-backup-mate/internal/errors"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
	"github.com/ogichanchan/ninja-backup-mate/internal/workspace"
)

// DatabaseDumper writes the SQL dump of db to path
type DatabaseDumper interface {
	DumpToFile(ctx context.Context, db *sql.DB, path string) error
}

// FileSelector chooses the site files to archive
type FileSelector interface {
	Select(ctx context.Context, root string) (*selection.Selection, error)
}

// SiteNamer looks up the site title used in the archive name
type SiteNamer interface {
	SiteName(ctx context.Context, db *sql.DB, tablePrefix string) (string, error)
}

// ManagerOptions wires a Manager. Zero values get OS filesystems, the default
// WordPress selection and the zip archiver.
type ManagerOptions struct {
	DB          *sql.DB
	Dumper      DatabaseDumper
	Selector    FileSelector
	Archiver    archive.Archiver
	SiteNamer   SiteNamer
	SiteName    string
	TablePrefix string
	SiteRoot    string
	ScratchDir  string
	SourceFs    afero.Fs
	WorkspaceFs afero.Fs
	Logger      *logging.Logger
	Metrics     *Metrics

	Now          func() time.Time
	OnTransition func(from, to State)
}

// Manager runs backups. Each Run owns its own workspace, so concurrent runs do
// not share files.
type Manager struct {
	opts       ManagerOptions
	logger     *logging.Logger
	classifier *apperrors.ErrorClassifier
}

// NewManager creates a manager, filling unset options with defaults
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.SourceFs == nil {
		opts.SourceFs = afero.NewOsFs()
	}
	if opts.WorkspaceFs == nil {
		opts.WorkspaceFs = afero.NewOsFs()
	}
	if opts.Dumper == nil {
		opts.Dumper = dump.NewDumperWithOptions(opts.WorkspaceFs, opts.Logger, dump.DefaultQueryTimeout)
	}
	if opts.Selector == nil {
		opts.Selector = selection.NewSelector(opts.SourceFs, opts.Logger, selection.DefaultOptions())
	}
	if opts.Archiver == nil {
		opts.Archiver = archive.NewZipArchiver(opts.WorkspaceFs, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		opts:       opts,
		logger:     opts.Logger,
		classifier: apperrors.NewErrorClassifier(),
	}
}

type run struct {
	m       *Manager
	ctx     context.Context
	state   State
	entered time.Time
}

func (r *run) transition(to State) {
	now := time.Now()
	r.m.opts.Metrics.observeStage(r.state, now.Sub(r.entered))

	r.m.logger.WithContext(r.ctx).WithFields(logrus.Fields{
		"from": string(r.state),
		"to":   string(to),
	}).Debug("Backup state transition")

	if r.m.opts.OnTransition != nil {
		r.m.opts.OnTransition(r.state, to)
	}
	r.state = to
	r.entered = now
}

// Run performs one backup and passes the final archive to deliver. The
// workspace is removed before Run returns, whatever the outcome. On success the
// returned FinalArchive describes what was delivered; its Path no longer exists.
func (m *Manager) Run(ctx context.Context, deliver DeliverFunc) (archiveOut *FinalArchive, err error) {
	request := NewRequest(m.opts.SiteName)
	if logging.GetRequestIDFromContext(ctx) == "" {
		ctx = logging.CreateContextWithRequestID(ctx, request.ID)
	}

	r := &run{m: m, ctx: ctx, state: StateIdle, entered: time.Now()}
	m.opts.Metrics.started()

	defer func() {
		if err != nil {
			r.transition(StateFailed)
			m.logFailure(ctx, err)
		} else {
			r.transition(StateDone)
		}
		m.opts.Metrics.finished(archiveOut, err)

		var filename string
		var size int64
		if archiveOut != nil {
			filename, size = archiveOut.Filename, archiveOut.Size
		}
		m.logger.LogBackupOutcome(ctx, filename, size, time.Since(request.RequestedAt), err)
	}()

	r.transition(StateValidatingRequest)
	if !m.opts.Archiver.Available() {
		return nil, NewCapabilityMissingError("zip archive support unavailable")
	}

	ws, err := workspace.Create(m.opts.WorkspaceFs, m.opts.ScratchDir, m.logger)
	if err != nil {
		return nil, NewWorkspaceCreateError(err)
	}
	defer ws.Cleanup()

	r.transition(StateDumpingDatabase)
	sqlPath := ws.Path(DatabaseFileName)
	if err := m.opts.Dumper.DumpToFile(ctx, m.opts.DB, sqlPath); err != nil {
		return nil, classifyDumpError(err)
	}

	r.transition(StateBuildingFileArchive)
	filesPath := ws.Path(FilesArchiveFileName)
	sel, err := m.opts.Selector.Select(ctx, m.opts.SiteRoot)
	if err != nil {
		return nil, NewFileArchiveError("file selection failed", err)
	}
	if _, err := m.opts.Archiver.BuildFilesArchive(ctx, m.opts.SourceFs, sel, filesPath); err != nil {
		return nil, NewFileArchiveError("files archive could not be written", err)
	}

	r.transition(StateMergingArchives)
	filename := Filename(m.siteName(ctx), m.opts.Now())
	finalPath := ws.Path(filename)
	merged, err := m.opts.Archiver.Merge(ctx, sqlPath, filesPath, finalPath)
	if err != nil {
		return nil, NewArchiveCreateError(err)
	}

	final := &FinalArchive{
		Path:     finalPath,
		Filename: filename,
		Size:     merged.Size,
		Entries:  merged.Entries,
	}
	for _, w := range merged.Warnings {
		final.Warnings = append(final.Warnings, NewArchiveMergeWarning(w))
	}

	r.transition(StateStreaming)
	info, err := m.opts.WorkspaceFs.Stat(finalPath)
	if err != nil || info.IsDir() {
		return nil, NewArtifactMissingError(finalPath, err)
	}
	final.Size = info.Size()

	if err := deliver(ctx, final); err != nil {
		return nil, NewDeliveryError(err)
	}
	return final, nil
}

// siteName resolves the configured name, then the blogname option
func (m *Manager) siteName(ctx context.Context) string {
	if m.opts.SiteName != "" {
		return m.opts.SiteName
	}
	if m.opts.SiteNamer == nil || m.opts.DB == nil {
		return ""
	}

	name, err := m.opts.SiteNamer.SiteName(ctx, m.opts.DB, m.opts.TablePrefix)
	if err != nil {
		m.logger.WithContext(ctx).WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": string(apperrors.GetErrorType(err)),
		}).Warn("Could not read site name, using default")
		return ""
	}
	return name
}

func classifyDumpError(err error) *BackupError {
	switch {
	case errors.Is(err, dump.ErrEmptySchema):
		return NewBackupError(BackupErrorTypeEmptySchema, "database has no tables", err)
	case errors.Is(err, dump.ErrWrite):
		return NewBackupError(BackupErrorTypeWriteFailure, "dump file could not be written", err)
	default:
		return NewBackupError(BackupErrorTypeDatabaseReadFailure, "database could not be read", err)
	}
}

func (m *Manager) logFailure(ctx context.Context, err error) {
	entry := m.logger.WithContext(ctx)

	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		entry = entry.WithField("backup_error", string(backupErr.Type))
		for k, v := range backupErr.Context {
			entry = entry.WithField(k, v)
		}
		if backupErr.Cause != nil {
			entry = entry.WithFields(m.classifier.ClassifyError(backupErr.Cause).Fields())
		}
	}
	entry.Error("Backup pipeline failed")
}
