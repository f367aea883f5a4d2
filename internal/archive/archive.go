// Package archive writes the intermediate files archive and merges it with the
// database dump into the final backup zip.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
)

const (
	// DatabaseEntryName is the dump's name inside the final archive
	DatabaseEntryName = "database.sql"
	// FilesPrefix prefixes every file entry inside the final archive
	FilesPrefix = "files/"
)

var (
	// ErrFileArchive wraps failures building the intermediate files archive
	ErrFileArchive = errors.New("file archive failed")
	// ErrArchiveCreate wraps failures creating or writing the final archive
	ErrArchiveCreate = errors.New("final archive creation failed")
	// ErrIntermediateUnreadable is reported as a warning when the files archive
	// cannot be opened during the merge
	ErrIntermediateUnreadable = errors.New("files archive could not be opened")
)

// Result describes an archive written to disk
type Result struct {
	Path     string
	Entries  int
	Size     int64
	Warnings []error
}

// Archiver builds backup archives. Available reports whether the zip
// capability is present on this host.
type Archiver interface {
	Available() bool
	BuildFilesArchive(ctx context.Context, source afero.Fs, sel *selection.Selection, path string) (*Result, error)
	Merge(ctx context.Context, sqlPath, filesArchivePath, finalPath string) (*Result, error)
}

// ZipArchiver implements Archiver with klauspost/compress/zip. Archives are
// written to and read from fs.
type ZipArchiver struct {
	fs     afero.Fs
	logger *logging.Logger
}

// NewZipArchiver creates a zip archiver over fs
func NewZipArchiver(fs afero.Fs, logger *logging.Logger) *ZipArchiver {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &ZipArchiver{fs: fs, logger: logger}
}

// Available always reports true; deflate is compiled in.
func (a *ZipArchiver) Available() bool {
	return true
}

// BuildFilesArchive writes every selected file, under its archive path, into a
// new zip at path.
func (a *ZipArchiver) BuildFilesArchive(ctx context.Context, source afero.Fs, sel *selection.Selection, path string) (result *Result, err error) {
	start := time.Now()
	result = &Result{Path: path}
	defer func() {
		a.logger.LogArchiveBuild(ctx, path, result.Entries, result.Size, time.Since(start), err)
	}()

	out, err := a.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return result, fmt.Errorf("%w: create %s: %w", ErrFileArchive, path, err)
	}

	zw := zip.NewWriter(out)
	for _, entry := range sel.Entries {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = addFile(zw, source, entry); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrFileArchive, entry.ArchivePath, err)
			break
		}
		result.Entries++
	}

	if closeErr := zw.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: finalize %s: %w", ErrFileArchive, path, closeErr)
	}
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: close %s: %w", ErrFileArchive, path, closeErr)
	}
	if err != nil {
		a.fs.Remove(path)
		return result, err
	}

	result.Size = a.size(path)
	return result, nil
}

func addFile(zw *zip.Writer, source afero.Fs, entry selection.Entry) error {
	in, err := source.Open(entry.SourcePath)
	if err != nil {
		return err
	}
	defer in.Close()

	header := &zip.FileHeader{
		Name:     entry.ArchivePath,
		Method:   zip.Deflate,
		Modified: entry.ModTime,
	}
	header.SetMode(entry.Mode)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Merge creates the final archive at finalPath holding the dump as
// database.sql and every entry of the files archive under files/. An
// unreadable files archive is a warning on the result, not an error.
func (a *ZipArchiver) Merge(ctx context.Context, sqlPath, filesArchivePath, finalPath string) (result *Result, err error) {
	start := time.Now()
	result = &Result{Path: finalPath}
	defer func() {
		a.logger.LogArchiveBuild(ctx, finalPath, result.Entries, result.Size, time.Since(start), err)
	}()

	out, err := a.fs.OpenFile(finalPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return result, fmt.Errorf("%w: create %s: %w", ErrArchiveCreate, finalPath, err)
	}

	zw := zip.NewWriter(out)
	err = a.addDatabase(zw, sqlPath)
	if err == nil {
		result.Entries++
		err = a.copyFilesArchive(ctx, zw, filesArchivePath, result)
	}

	if closeErr := zw.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: finalize %s: %w", ErrArchiveCreate, finalPath, closeErr)
	}
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: close %s: %w", ErrArchiveCreate, finalPath, closeErr)
	}
	if err != nil {
		a.fs.Remove(finalPath)
		return result, err
	}

	result.Size = a.size(finalPath)
	return result, nil
}

func (a *ZipArchiver) addDatabase(zw *zip.Writer, sqlPath string) error {
	in, err := a.fs.Open(sqlPath)
	if err != nil {
		return fmt.Errorf("%w: open dump %s: %w", ErrArchiveCreate, sqlPath, err)
	}
	defer in.Close()

	header := &zip.FileHeader{
		Name:     DatabaseEntryName,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrArchiveCreate, DatabaseEntryName, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrArchiveCreate, DatabaseEntryName, err)
	}
	return nil
}

// copyFilesArchive re-adds each intermediate entry under files/ without
// recompressing it.
func (a *ZipArchiver) copyFilesArchive(ctx context.Context, zw *zip.Writer, filesArchivePath string, result *Result) error {
	err := a.ForEachEntry(filesArchivePath, func(f *zip.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		header := f.FileHeader
		header.Name = FilesPrefix + f.Name

		w, err := zw.CreateRaw(&header)
		if err != nil {
			return fmt.Errorf("%w: add %s: %w", ErrArchiveCreate, header.Name, err)
		}
		r, err := f.OpenRaw()
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrArchiveCreate, f.Name, err)
		}
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("%w: copy %s: %w", ErrArchiveCreate, f.Name, err)
		}
		result.Entries++
		return nil
	})

	if errors.Is(err, ErrIntermediateUnreadable) {
		a.logger.WithField("archive", filesArchivePath).WithField("error", err.Error()).
			Warn("Files archive could not be opened, final archive holds the database only")
		result.Warnings = append(result.Warnings, err)
		return nil
	}
	return err
}

// ForEachEntry opens the zip at path and calls fn for every entry in archive
// order. Failure to open the archive is reported as ErrIntermediateUnreadable.
func (a *ZipArchiver) ForEachEntry(path string, fn func(f *zip.File) error) error {
	in, err := a.fs.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIntermediateUnreadable, path, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIntermediateUnreadable, path, err)
	}

	zr, err := zip.NewReader(in, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrIntermediateUnreadable, path, err)
	}

	for _, f := range zr.File {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (a *ZipArchiver) size(path string) int64 {
	info, err := a.fs.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
