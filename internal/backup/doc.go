// Package backup runs one WordPress backup from start to finish.
//
// A Manager dumps the database into a fresh workspace, archives the selected
// site files, merges both into the final zip and hands it to a DeliverFunc. The
// workspace is removed on every path, success or failure.
//
// Pipeline states:
//
//	Idle -> ValidatingRequest -> DumpingDatabase -> BuildingFileArchive
//	     -> MergingArchives -> Streaming -> Done
//
// Any failure moves the run to Failed after cleanup. Failures are returned as
// *BackupError, whose UserMessage is safe to show an administrator.
//
// Example usage:
//
//	manager := backup.NewManager(backup.ManagerOptions{
//		DB:       db,
//		SiteRoot: "/var/www/html",
//		Logger:   logger,
//	})
//	archive, err := manager.Run(ctx, func(ctx context.Context, a *backup.FinalArchive) error {
//		return copyTo(w, a.Path)
//	})
package backup
