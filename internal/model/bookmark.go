package model

import (
	"fmt"
	"time"
)

// BookmarkUpdateReason records why a bookmark moved.
type BookmarkUpdateReason string

const (
	ReasonPush       BookmarkUpdateReason = "push"
	ReasonPushrebase BookmarkUpdateReason = "pushrebase"
	ReasonManualMove BookmarkUpdateReason = "manualmove"
	ReasonXRepoSync  BookmarkUpdateReason = "xreposync"
	ReasonTestMove   BookmarkUpdateReason = "testmove"
)

// BookmarkUpdateLogEntry is one movement of a bookmark. To is nil when
// the bookmark was deleted and From is nil when it was created.
type BookmarkUpdateLogEntry struct {
	ID           uint64
	RepoID       RepositoryID
	BookmarkName BookmarkKey
	From         *ChangesetID
	To           *ChangesetID
	Reason       BookmarkUpdateReason
	Timestamp    time.Time
}

// IsDeletion reports whether the entry deletes its bookmark.
func (e BookmarkUpdateLogEntry) IsDeletion() bool {
	return e.To == nil
}

func (e BookmarkUpdateLogEntry) String() string {
	return fmt.Sprintf("#%d %s: %s -> %s (%s)", e.ID, e.BookmarkName, shortOrNone(e.From), shortOrNone(e.To), e.Reason)
}

func shortOrNone(id *ChangesetID) string {
	if id == nil {
		return "none"
	}
	return id.Short()
}

// ChangesetIDPtr returns a pointer to a copy of id.
func ChangesetIDPtr(id ChangesetID) *ChangesetID {
	return &id
}
