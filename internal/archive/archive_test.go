package archive

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
)

var modTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sourceFixture(t *testing.T) (afero.Fs, *selection.Selection) {
	t.Helper()
	source := afero.NewMemMapFs()
	files := map[string]string{
		"/site/wp-config.php":                            "<?php define('DB_NAME', 'wp');",
		"/site/wp-content/themes/child/style.css":        "body { color: red; }",
		"/site/wp-content/plugins/hello/hello-dolly.php": "<?php // Hello, Dolly",
	}
	for p, content := range files {
		require.NoError(t, afero.WriteFile(source, p, []byte(content), 0o644))
	}

	sel := &selection.Selection{Root: "/site"}
	for _, name := range []string{
		"wp-config.php",
		"wp-content/plugins/hello/hello-dolly.php",
		"wp-content/themes/child/style.css",
	} {
		sel.Entries = append(sel.Entries, selection.Entry{
			SourcePath:  "/site/" + name,
			ArchivePath: name,
			Mode:        0o644,
			ModTime:     modTime,
		})
	}
	return source, sel
}

func readArchive(t *testing.T, a *ZipArchiver, path string) map[string]string {
	t.Helper()
	contents := make(map[string]string)
	err := a.ForEachEntry(path, func(f *zip.File) error {
		r, err := f.Open()
		if err != nil {
			return err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		contents[f.Name] = string(data)
		return nil
	})
	require.NoError(t, err)
	return contents
}

func TestZipArchiver_Available(t *testing.T) {
	assert.True(t, NewZipArchiver(afero.NewMemMapFs(), nil).Available())
}

func TestBuildFilesArchive(t *testing.T) {
	source, sel := sourceFixture(t)
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())

	result, err := a.BuildFilesArchive(context.Background(), source, sel, "/ws/files.zip")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Entries)
	assert.Positive(t, result.Size)

	contents := readArchive(t, a, "/ws/files.zip")
	assert.Equal(t, map[string]string{
		"wp-config.php":                            "<?php define('DB_NAME', 'wp');",
		"wp-content/plugins/hello/hello-dolly.php": "<?php // Hello, Dolly",
		"wp-content/themes/child/style.css":        "body { color: red; }",
	}, contents)

	err = a.ForEachEntry("/ws/files.zip", func(f *zip.File) error {
		assert.True(t, f.Modified.Equal(modTime), "mod time of %s", f.Name)
		assert.Equal(t, zip.Deflate, f.Method)
		return nil
	})
	require.NoError(t, err)
}

func TestBuildFilesArchive_EmptySelection(t *testing.T) {
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())

	result, err := a.BuildFilesArchive(context.Background(), afero.NewMemMapFs(), &selection.Selection{}, "/ws/files.zip")
	require.NoError(t, err)
	assert.Zero(t, result.Entries)
	assert.Empty(t, readArchive(t, a, "/ws/files.zip"))
}

func TestBuildFilesArchive_MissingSource(t *testing.T) {
	source, sel := sourceFixture(t)
	require.NoError(t, source.Remove("/site/wp-config.php"))

	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())

	_, err := a.BuildFilesArchive(context.Background(), source, sel, "/ws/files.zip")
	assert.ErrorIs(t, err, ErrFileArchive)

	exists, _ := afero.Exists(workspace, "/ws/files.zip")
	assert.False(t, exists, "partial archive should be removed")
}

func TestBuildFilesArchive_Unwritable(t *testing.T) {
	source, sel := sourceFixture(t)
	a := NewZipArchiver(afero.NewReadOnlyFs(afero.NewMemMapFs()), logging.NewDiscardLogger())

	_, err := a.BuildFilesArchive(context.Background(), source, sel, "/ws/files.zip")
	assert.ErrorIs(t, err, ErrFileArchive)
}

func TestMerge(t *testing.T) {
	source, sel := sourceFixture(t)
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())

	dump := "DROP TABLE IF EXISTS `wp_options`;\n\nCREATE TABLE `wp_options` (`id` int);\n\n\n\n\n"
	require.NoError(t, afero.WriteFile(workspace, "/ws/database.sql", []byte(dump), 0o600))

	_, err := a.BuildFilesArchive(context.Background(), source, sel, "/ws/files.zip")
	require.NoError(t, err)

	result, err := a.Merge(context.Background(), "/ws/database.sql", "/ws/files.zip", "/ws/final.zip")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Entries)
	assert.Empty(t, result.Warnings)

	var names []string
	err = a.ForEachEntry("/ws/final.zip", func(f *zip.File) error {
		names = append(names, f.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"database.sql",
		"files/wp-config.php",
		"files/wp-content/plugins/hello/hello-dolly.php",
		"files/wp-content/themes/child/style.css",
	}, names)

	contents := readArchive(t, a, "/ws/final.zip")
	assert.Equal(t, dump, contents["database.sql"])
	assert.Equal(t, "body { color: red; }", contents["files/wp-content/themes/child/style.css"])
}

func TestMerge_UnreadableFilesArchiveIsWarning(t *testing.T) {
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())
	require.NoError(t, afero.WriteFile(workspace, "/ws/database.sql", []byte("-- dump"), 0o600))
	require.NoError(t, afero.WriteFile(workspace, "/ws/files.zip", []byte("not a zip"), 0o600))

	result, err := a.Merge(context.Background(), "/ws/database.sql", "/ws/files.zip", "/ws/final.zip")
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.ErrorIs(t, result.Warnings[0], ErrIntermediateUnreadable)

	contents := readArchive(t, a, "/ws/final.zip")
	assert.Equal(t, map[string]string{"database.sql": "-- dump"}, contents)
}

func TestMerge_MissingFilesArchiveIsWarning(t *testing.T) {
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())
	require.NoError(t, afero.WriteFile(workspace, "/ws/database.sql", []byte("-- dump"), 0o600))

	result, err := a.Merge(context.Background(), "/ws/database.sql", "/ws/files.zip", "/ws/final.zip")
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 1)
	assert.Equal(t, 1, result.Entries)
}

func TestMerge_MissingDumpFails(t *testing.T) {
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())

	_, err := a.Merge(context.Background(), "/ws/database.sql", "/ws/files.zip", "/ws/final.zip")
	assert.ErrorIs(t, err, ErrArchiveCreate)

	exists, _ := afero.Exists(workspace, "/ws/final.zip")
	assert.False(t, exists)
}

func TestMerge_FinalAlreadyExists(t *testing.T) {
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())
	require.NoError(t, afero.WriteFile(workspace, "/ws/database.sql", []byte("-- dump"), 0o600))
	require.NoError(t, afero.WriteFile(workspace, "/ws/final.zip", []byte("taken"), os.FileMode(0o600)))

	_, err := a.Merge(context.Background(), "/ws/database.sql", "/ws/files.zip", "/ws/final.zip")
	assert.ErrorIs(t, err, ErrArchiveCreate)
}

func TestForEachEntry_StopsOnError(t *testing.T) {
	source, sel := sourceFixture(t)
	workspace := afero.NewMemMapFs()
	a := NewZipArchiver(workspace, logging.NewDiscardLogger())
	_, err := a.BuildFilesArchive(context.Background(), source, sel, "/ws/files.zip")
	require.NoError(t, err)

	calls := 0
	stop := assert.AnError
	err = a.ForEachEntry("/ws/files.zip", func(f *zip.File) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
