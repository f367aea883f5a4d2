// Package selection decides which files of a WordPress installation go into the
// backup archive.
package selection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

// Default WordPress layout
var (
	DefaultIncludeDirs = []string{
		"wp-content/plugins",
		"wp-content/themes",
		"wp-content/mu-plugins",
	}
	DefaultIncludeFiles = []string{
		"wp-config.php",
		".htaccess",
		"index.php",
		"wp-robots.txt",
	}
	DefaultExcludePatterns = []string{
		"uploads",
		"cache",
		".git",
		"node_modules",
		".svn",
		"backups",
	}
)

// Options lists what to include and exclude, relative to the site root
type Options struct {
	IncludeDirs     []string `mapstructure:"include_dirs" yaml:"include_dirs"`
	IncludeFiles    []string `mapstructure:"include_files" yaml:"include_files"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

// DefaultOptions returns the WordPress defaults
func DefaultOptions() Options {
	return Options{
		IncludeDirs:     append([]string(nil), DefaultIncludeDirs...),
		IncludeFiles:    append([]string(nil), DefaultIncludeFiles...),
		ExcludePatterns: append([]string(nil), DefaultExcludePatterns...),
	}
}

// Entry is one selected regular file
type Entry struct {
	SourcePath  string
	ArchivePath string
	Size        int64
	Mode        os.FileMode
	ModTime     time.Time
}

// Selection is the sorted set of files chosen under Root
type Selection struct {
	Root     string
	Entries  []Entry
	Excluded int
	Skipped  int
}

// Selector walks an afero filesystem and applies Options
type Selector struct {
	fs       afero.Fs
	logger   *logging.Logger
	options  Options
	patterns []string
}

// NewSelector creates a selector. Exclude patterns are matched case-insensitively
// against whole path segments; surrounding slashes in patterns are ignored.
func NewSelector(fs afero.Fs, logger *logging.Logger, options Options) *Selector {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Selector{
		fs:       fs,
		logger:   logger,
		options:  options,
		patterns: normalizePatterns(options.ExcludePatterns),
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.Trim(strings.TrimSpace(p), "/"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsExcluded reports whether any segment of archivePath equals one of the
// normalized patterns.
func IsExcluded(archivePath string, patterns []string) bool {
	haystack := "/" + strings.ToLower(strings.Trim(archivePath, "/")) + "/"
	for _, p := range patterns {
		if strings.Contains(haystack, "/"+p+"/") {
			return true
		}
	}
	return false
}

// Select builds the file selection under root. Missing include paths are skipped
// silently; unreadable files and symbolic links are skipped and counted.
func (s *Selector) Select(ctx context.Context, root string) (*Selection, error) {
	start := time.Now()

	selected := make(map[string]Entry)
	result := &Selection{Root: root}

	for _, name := range s.options.IncludeFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.selectFile(ctx, root, name, selected, result)
	}

	for _, dir := range s.options.IncludeDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.selectDir(ctx, root, dir, selected, result); err != nil {
			return nil, err
		}
	}

	result.Entries = make([]Entry, 0, len(selected))
	for _, entry := range selected {
		result.Entries = append(result.Entries, entry)
	}
	sort.Slice(result.Entries, func(i, j int) bool {
		return result.Entries[i].ArchivePath < result.Entries[j].ArchivePath
	})

	s.logger.LogFileSelection(ctx, root, len(result.Entries), result.Excluded, result.Skipped, time.Since(start))
	return result, nil
}

// cleanRelative turns a configured include path into a slash-separated path that
// cannot climb above the root.
func cleanRelative(p string) (string, bool) {
	cleaned := path.Clean("/" + filepath.ToSlash(strings.TrimSpace(p)))
	cleaned = strings.TrimPrefix(cleaned, "/")
	return cleaned, cleaned != "" && cleaned != "."
}

func (s *Selector) selectFile(ctx context.Context, root, name string, selected map[string]Entry, result *Selection) {
	rel, ok := cleanRelative(name)
	if !ok {
		return
	}
	if IsExcluded(rel, s.patterns) {
		result.Excluded++
		return
	}

	source := filepath.Join(root, filepath.FromSlash(rel))
	info, err := lstat(s.fs, source)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			result.Skipped++
			s.logger.WithContext(ctx).WithField("path", source).WithField("error", err.Error()).Warn("Skipping unreadable file")
		}
		return
	}

	s.consider(ctx, source, rel, info, selected, result)
}

func (s *Selector) selectDir(ctx context.Context, root, dir string, selected map[string]Entry, result *Selection) error {
	alias, ok := cleanRelative(dir)
	if !ok {
		return nil
	}
	if IsExcluded(alias, s.patterns) {
		result.Excluded++
		return nil
	}

	base := filepath.Join(root, filepath.FromSlash(alias))
	info, err := lstat(s.fs, base)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			result.Skipped++
			s.logger.WithContext(ctx).WithField("path", base).WithField("error", err.Error()).Warn("Skipping unreadable directory")
		}
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		result.Skipped++
		s.logger.WithContext(ctx).WithField("path", base).Debug("Skipping symbolic link")
		return nil
	}
	if !info.IsDir() {
		return nil
	}

	return afero.Walk(s.fs, base, func(p string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			result.Skipped++
			s.logger.WithContext(ctx).WithField("path", p).WithField("error", walkErr.Error()).Warn("Skipping unreadable path")
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		archivePath := alias
		if rel != "." {
			archivePath = alias + "/" + filepath.ToSlash(rel)
		}

		if info.IsDir() {
			if p != base && IsExcluded(archivePath, s.patterns) {
				result.Excluded++
				return filepath.SkipDir
			}
			return nil
		}

		if IsExcluded(archivePath, s.patterns) {
			result.Excluded++
			return nil
		}
		s.consider(ctx, p, archivePath, info, selected, result)
		return nil
	})
}

// consider adds a regular, readable file to the selection
func (s *Selector) consider(ctx context.Context, source, archivePath string, info os.FileInfo, selected map[string]Entry, result *Selection) {
	if info.Mode()&os.ModeSymlink != 0 {
		result.Skipped++
		s.logger.WithContext(ctx).WithField("path", source).Debug("Skipping symbolic link")
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	f, err := s.fs.Open(source)
	if err != nil {
		result.Skipped++
		s.logger.WithContext(ctx).WithField("path", source).WithField("error", err.Error()).Warn("Skipping unreadable file")
		return
	}
	f.Close()

	selected[archivePath] = Entry{
		SourcePath:  source,
		ArchivePath: archivePath,
		Size:        info.Size(),
		Mode:        info.Mode(),
		ModTime:     info.ModTime(),
	}
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if lfs, ok := fs.(afero.Lstater); ok {
		info, _, err := lfs.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}
