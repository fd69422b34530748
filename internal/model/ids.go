package model

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// RepositoryID identifies a repository instance.
type RepositoryID int32

func (r RepositoryID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// ChangesetID is the hex encoded SHA-256 content hash of a Changeset.
type ChangesetID string

// changesetIDLen is the length of a hex encoded SHA-256 digest.
const changesetIDLen = 64

// ParseChangesetID validates s as a full changeset hash.
func ParseChangesetID(s string) (ChangesetID, error) {
	if len(s) != changesetIDLen {
		return "", fmt.Errorf("invalid changeset id %q: want %d hex chars, got %d", s, changesetIDLen, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid changeset id %q: %w", s, err)
	}
	return ChangesetID(s), nil
}

func (c ChangesetID) String() string {
	return string(c)
}

// Short returns the first 12 characters, for log output.
func (c ChangesetID) Short() string {
	if len(c) <= 12 {
		return string(c)
	}
	return string(c[:12])
}

// BookmarkKey is the name of a bookmark. It is scoped to one repository.
type BookmarkKey string

func (b BookmarkKey) String() string {
	return string(b)
}

// CommitSyncConfigVersion names one immutable version of the path
// remapping configuration.
type CommitSyncConfigVersion string

func (v CommitSyncConfigVersion) String() string {
	return string(v)
}

// CommitSyncDirection is the direction a repo pair is synced in.
type CommitSyncDirection int

const (
	SmallToLarge CommitSyncDirection = iota + 1
	LargeToSmall
)

func (d CommitSyncDirection) String() string {
	switch d {
	case SmallToLarge:
		return "small-to-large"
	case LargeToSmall:
		return "large-to-small"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}
