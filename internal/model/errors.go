package model

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a sync failure.
type ErrorCode string

const (
	// Configuration errors.
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrCodeAmbiguousSyncVersion ErrorCode = "AMBIGUOUS_SYNC_VERSION"
	ErrCodeUnknownSyncVersion   ErrorCode = "UNKNOWN_SYNC_VERSION"
	ErrCodeEmptyBookmarkRename  ErrorCode = "EMPTY_BOOKMARK_RENAME"

	// Topology errors.
	ErrCodeUnsupportedMergeArity            ErrorCode = "UNSUPPORTED_MERGE_ARITY"
	ErrCodeMergeAmbiguousAncestor           ErrorCode = "MERGE_AMBIGUOUS_ANCESTOR"
	ErrCodeNonForwardMoveRejected           ErrorCode = "NON_FORWARD_MOVE_REJECTED"
	ErrCodeUnexpectedSharedBookmarkDeletion ErrorCode = "UNEXPECTED_SHARED_BOOKMARK_DELETION"
	ErrCodeMergeCollidesWithSharedBookmark  ErrorCode = "MERGE_COLLIDES_WITH_SHARED_BOOKMARK"
	ErrCodeSubmoduleChangeDenied            ErrorCode = "SUBMODULE_CHANGE_DENIED"
	ErrCodeParentNotSynced                  ErrorCode = "PARENT_NOT_SYNCED"

	// Transient infrastructure errors.
	ErrCodeBookmarkTransactionFailed ErrorCode = "BOOKMARK_TRANSACTION_FAILED"
	ErrCodeConflictingOutcome        ErrorCode = "CONFLICTING_OUTCOME"
	ErrCodeChangesetNotFound         ErrorCode = "CHANGESET_NOT_FOUND"

	// Raised by the validator only.
	ErrCodeValidationMismatch ErrorCode = "VALIDATION_MISMATCH"
)

// ErrorCategory groups codes by the kind of operator response they need.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTopology      ErrorCategory = "topology"
	CategoryTransient     ErrorCategory = "transient"
	CategoryValidation    ErrorCategory = "validation"
)

// Category returns the category of the code.
func (c ErrorCode) Category() ErrorCategory {
	switch c {
	case ErrCodeInvalidConfiguration, ErrCodeAmbiguousSyncVersion,
		ErrCodeUnknownSyncVersion, ErrCodeEmptyBookmarkRename:
		return CategoryConfiguration
	case ErrCodeUnsupportedMergeArity, ErrCodeMergeAmbiguousAncestor,
		ErrCodeNonForwardMoveRejected, ErrCodeUnexpectedSharedBookmarkDeletion,
		ErrCodeMergeCollidesWithSharedBookmark, ErrCodeSubmoduleChangeDenied,
		ErrCodeParentNotSynced:
		return CategoryTopology
	case ErrCodeValidationMismatch:
		return CategoryValidation
	default:
		return CategoryTransient
	}
}

// SyncError is the structured error returned by the sync engine.
type SyncError struct {
	// Code identifies the failure.
	Code ErrorCode

	// Message is a human readable description.
	Message string

	// Changeset is the source commit being processed, if any.
	Changeset ChangesetID

	// Bookmark is the bookmark being processed, if any.
	Bookmark BookmarkKey

	// Details carries extra context for logs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Changeset != "" {
		msg += fmt.Sprintf(" (changeset=%s)", e.Changeset.Short())
	}
	if e.Bookmark != "" {
		msg += fmt.Sprintf(" (bookmark=%s)", e.Bookmark)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Category returns the category of the error's code.
func (e *SyncError) Category() ErrorCategory {
	return e.Code.Category()
}

// WithDetail adds a detail and returns e.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// NewSyncError creates a SyncError with the given code and message.
func NewSyncError(code ErrorCode, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err wraps a SyncError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf returns the code of the SyncError wrapped by err, or "" if there
// is none.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// CategoryOf returns the category of err. Errors that are not SyncErrors
// are treated as transient infrastructure errors.
func CategoryOf(err error) ErrorCategory {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category()
	}
	return CategoryTransient
}

// Constructors for the codes raised from more than one place.

func InvalidConfiguration(format string, args ...any) *SyncError {
	return NewSyncError(ErrCodeInvalidConfiguration, format, args...)
}

func UnsupportedMergeArity(cs ChangesetID, parents int) *SyncError {
	e := NewSyncError(ErrCodeUnsupportedMergeArity, "only 2 parent merges are supported, got %d parents", parents)
	e.Changeset = cs
	return e
}

func MergeAmbiguousAncestor(cs ChangesetID) *SyncError {
	e := NewSyncError(ErrCodeMergeAmbiguousAncestor, "unsupported merge - only merges of new repos are supported")
	e.Changeset = cs
	return e
}

func UnknownSyncVersion(cs ChangesetID, reason string) *SyncError {
	e := NewSyncError(ErrCodeUnknownSyncVersion, "cannot resolve sync config version: %s", reason)
	e.Changeset = cs
	return e
}

func ChangesetNotFound(repo RepositoryID, cs ChangesetID) *SyncError {
	e := NewSyncError(ErrCodeChangesetNotFound, "changeset not found in repo %s", repo)
	e.Changeset = cs
	return e
}
