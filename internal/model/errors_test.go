package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncErrorMessage(t *testing.T) {
	cs := ChangesetID(strings.Repeat("d", 64))
	err := MergeAmbiguousAncestor(cs)
	err.Bookmark = "master"

	assert.Equal(t,
		"MERGE_AMBIGUOUS_ANCESTOR: unsupported merge - only merges of new repos are supported (changeset=dddddddddddd) (bookmark=master)",
		err.Error())
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &SyncError{Code: ErrCodeBookmarkTransactionFailed, Message: "commit failed", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("sync entry 7: %w", UnsupportedMergeArity("", 3))

	assert.True(t, IsCode(err, ErrCodeUnsupportedMergeArity))
	assert.False(t, IsCode(err, ErrCodeMergeAmbiguousAncestor))
	assert.Equal(t, ErrCodeUnsupportedMergeArity, CodeOf(err))
	assert.Equal(t, CategoryTopology, CategoryOf(err))
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfiguration, CategoryConfiguration},
		{ErrCodeAmbiguousSyncVersion, CategoryConfiguration},
		{ErrCodeUnknownSyncVersion, CategoryConfiguration},
		{ErrCodeEmptyBookmarkRename, CategoryConfiguration},
		{ErrCodeNonForwardMoveRejected, CategoryTopology},
		{ErrCodeUnexpectedSharedBookmarkDeletion, CategoryTopology},
		{ErrCodeMergeCollidesWithSharedBookmark, CategoryTopology},
		{ErrCodeSubmoduleChangeDenied, CategoryTopology},
		{ErrCodeParentNotSynced, CategoryTopology},
		{ErrCodeBookmarkTransactionFailed, CategoryTransient},
		{ErrCodeConflictingOutcome, CategoryTransient},
		{ErrCodeValidationMismatch, CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(NewSyncError(tt.code, "x")))
		})
	}

	assert.Equal(t, CategoryTransient, CategoryOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := InvalidConfiguration("bad %s", "prefix").WithDetail("repo", "1")
	assert.Equal(t, "1", err.Details["repo"])
	assert.Equal(t, "INVALID_CONFIGURATION: bad prefix", err.Error())
}
