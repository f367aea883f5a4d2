package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ogichanchan/ninja-backup-mate/internal/archive"
	"github.com/ogichanchan/ninja-backup-mate/internal/backup"
	"github.com/ogichanchan/ninja-backup-mate/internal/display"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

func newBackupCommand() *cobra.Command {
	var (
		outputDir   string
		listEntries bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a backup and write it to a directory",
		Long: `Dump the WordPress database and archive the site's custom files into a
single zip, written to the output directory as
ninja-backup-mate-<site>-<timestamp>.zip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if verbose && logger.GetLevel() != logging.LogLevelDebug {
				logger.SetLevel(logging.LogLevelVerbose)
			}
			printer := display.NewPrinter(cmd.OutOrStdout(), noColor)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, db, err := connect(ctx, cfg, logger)
			if err != nil {
				printer.Error("%v", err)
				return err
			}
			defer svc.Close(db)

			fs := afero.NewOsFs()
			manager := newManager(cfg, db, svc, logger, nil, fs)
			lister := archive.NewZipArchiver(fs, logger)

			var written string
			final, err := manager.Run(ctx, func(ctx context.Context, a *backup.FinalArchive) error {
				if listEntries {
					if err := lister.ForEachEntry(a.Path, func(f *zip.File) error {
						printer.Detail("%s (%s)", f.Name, display.FormatBytes(int64(f.UncompressedSize64)))
						return nil
					}); err != nil {
						return err
					}
				}
				dst, copyErr := copyArchive(fs, a.Path, filepath.Join(outputDir, a.Filename))
				written = dst
				return copyErr
			})
			if err != nil {
				printer.Error("%s", backup.UserMessage(err))
				return err
			}

			for _, w := range final.Warnings {
				printer.Warning("%s", w.UserMessage)
			}
			printer.Success("Backup written to %s (%s, %d entries)", written, display.FormatBytes(final.Size), final.Entries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "directory to write the backup archive to")
	cmd.Flags().BoolVar(&listEntries, "list", false, "print the archive contents")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each dumped table and selected file set")
	return cmd
}

// copyArchive copies src to dst, refusing to overwrite an existing file
func copyArchive(fs afero.Fs, src, dst string) (string, error) {
	in, err := fs.Open(src)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		fs.Remove(dst)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		fs.Remove(dst)
		return "", fmt.Errorf("write %s: %w", dst, err)
	}
	return dst, nil
}
