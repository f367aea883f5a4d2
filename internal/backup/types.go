package backup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is a step of the backup pipeline
type State string

const (
	StateIdle                State = "idle"
	StateValidatingRequest   State = "validating_request"
	StateDumpingDatabase     State = "dumping_database"
	StateBuildingFileArchive State = "building_file_archive"
	StateMergingArchives     State = "merging_archives"
	StateStreaming           State = "streaming"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// Workspace file names
const (
	DatabaseFileName     = "database.sql"
	FilesArchiveFileName = "files.zip"
)

// Request describes one backup invocation
type Request struct {
	ID          string
	RequestedAt time.Time
	SiteName    string
}

// NewRequest creates a request stamped with a fresh ID and the current UTC time
func NewRequest(siteName string) Request {
	return Request{
		ID:          uuid.NewString(),
		RequestedAt: time.Now().UTC(),
		SiteName:    siteName,
	}
}

// FinalArchive is the finished backup handed to a DeliverFunc. Path is only
// valid until the DeliverFunc returns.
type FinalArchive struct {
	Path     string
	Filename string
	Size     int64
	Entries  int
	Warnings []*BackupError
}

// DeliverFunc streams or copies the final archive to its destination
type DeliverFunc func(ctx context.Context, archive *FinalArchive) error
