package backup

import (
	"errors"
	"fmt"

	apperrors "github.com/ogichanchan/ninja-backup-mate/internal/errors"
)

// BackupError represents errors that occur during a backup run
type BackupError struct {
	Type        BackupErrorType        `json:"type"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"user_message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup errors
type BackupErrorType string

const (
	BackupErrorTypeCapabilityMissing      BackupErrorType = "CAPABILITY_MISSING"
	BackupErrorTypeWorkspaceCreateFailure BackupErrorType = "WORKSPACE_CREATE_FAILURE"
	BackupErrorTypeEmptySchema            BackupErrorType = "EMPTY_SCHEMA"
	BackupErrorTypeDatabaseReadFailure    BackupErrorType = "DATABASE_READ_FAILURE"
	BackupErrorTypeWriteFailure           BackupErrorType = "WRITE_FAILURE"
	BackupErrorTypeFileArchiveFailure     BackupErrorType = "FILE_ARCHIVE_FAILURE"
	BackupErrorTypeArchiveMergeWarning    BackupErrorType = "ARCHIVE_MERGE_WARNING"
	BackupErrorTypeArchiveCreateFailure   BackupErrorType = "ARCHIVE_CREATE_FAILURE"
	BackupErrorTypeArtifactMissing        BackupErrorType = "ARTIFACT_MISSING"
	BackupErrorTypeDeliveryFailure        BackupErrorType = "DELIVERY_FAILURE"
)

var userMessages = map[BackupErrorType]string{
	BackupErrorTypeCapabilityMissing:      "Error: Zip archive support is not available on this server. Please contact your hosting provider.",
	BackupErrorTypeWorkspaceCreateFailure: "Error: Could not create temporary directory for backup. Please check file permissions.",
	BackupErrorTypeEmptySchema:            "Error: Database backup failed. Check database permissions or server resources.",
	BackupErrorTypeDatabaseReadFailure:    "Error: Database backup failed. Check database permissions or server resources.",
	BackupErrorTypeWriteFailure:           "Error: Database backup failed. Check database permissions or server resources.",
	BackupErrorTypeFileArchiveFailure:     "Error: File backup failed. Check file permissions or server resources.",
	BackupErrorTypeArchiveMergeWarning:    "Warning: Could not open temporary files archive for inclusion. File backup might be incomplete.",
	BackupErrorTypeArchiveCreateFailure:   "Error: Could not create final zip archive.",
	BackupErrorTypeArtifactMissing:        "Error: Final backup file was not found for download.",
	BackupErrorTypeDeliveryFailure:        "Error: The backup download was interrupted.",
}

// NewBackupError creates a new BackupError carrying the administrator-facing
// message for its type
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:        errorType,
		Message:     message,
		UserMessage: userMessages[errorType],
		Cause:       cause,
		Context:     make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsWarning reports whether the error leaves the backup usable
func (e *BackupError) IsWarning() bool {
	return e.Type == BackupErrorTypeArchiveMergeWarning
}

func NewCapabilityMissingError(message string) *BackupError {
	return NewBackupError(BackupErrorTypeCapabilityMissing, message, nil)
}

func NewWorkspaceCreateError(cause error) *BackupError {
	return NewBackupError(BackupErrorTypeWorkspaceCreateFailure, "could not create workspace", cause)
}

func NewFileArchiveError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeFileArchiveFailure, message, cause)
}

func NewArchiveMergeWarning(cause error) *BackupError {
	return NewBackupError(BackupErrorTypeArchiveMergeWarning, "files archive could not be merged", cause)
}

func NewArchiveCreateError(cause error) *BackupError {
	return NewBackupError(BackupErrorTypeArchiveCreateFailure, "could not create final archive", cause)
}

func NewArtifactMissingError(path string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeArtifactMissing, "final archive missing before delivery", cause).
		WithContext("path", path)
}

func NewDeliveryError(cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDeliveryFailure, "delivering the archive failed", cause)
}

// UserMessage returns the administrator-facing message for err. Classified
// application errors keep their own message; anything else gets a generic one.
func UserMessage(err error) string {
	var backupErr *BackupError
	if errors.As(err, &backupErr) && backupErr.UserMessage != "" {
		return backupErr.UserMessage
	}
	return apperrors.FormatUserError(err)
}

// ErrorType returns the BackupErrorType of err, or "" if err is not a *BackupError
func ErrorType(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}
