package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/xreposync/internal/model"
)

// storedChangeset is the JSON TEXT form of a changeset's content. The date
// is split into unix seconds and zone offset so that a loaded changeset
// hashes to the same id it was stored under.
type storedChangeset struct {
	Parents     []model.ChangesetID         `json:"parents"`
	Author      string                      `json:"author"`
	Date        int64                       `json:"date"`
	TZOffset    int                         `json:"tz_offset"`
	Message     string                      `json:"message"`
	FileChanges map[string]model.FileChange `json:"file_changes"`
	Extra       map[string]string           `json:"extra,omitempty"`
}

// marshalChangeset converts a changeset to JSON TEXT for storage.
func marshalChangeset(cs *model.Changeset) (string, error) {
	_, offset := cs.Date.Zone()
	stored := storedChangeset{
		Parents:     cs.Parents,
		Author:      cs.Author,
		Date:        cs.Date.Unix(),
		TZOffset:    offset,
		Message:     cs.Message,
		FileChanges: cs.FileChanges,
		Extra:       cs.Extra,
	}
	if stored.Parents == nil {
		stored.Parents = []model.ChangesetID{}
	}
	if stored.FileChanges == nil {
		stored.FileChanges = map[string]model.FileChange{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(stored); err != nil {
		return "", fmt.Errorf("marshal changeset: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalChangeset parses JSON TEXT produced by marshalChangeset.
func unmarshalChangeset(data string) (*model.Changeset, error) {
	var stored storedChangeset
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal changeset: %w", err)
	}
	cs := &model.Changeset{
		Parents:     stored.Parents,
		Author:      stored.Author,
		Date:        time.Unix(stored.Date, 0).In(time.FixedZone("", stored.TZOffset)),
		Message:     stored.Message,
		FileChanges: stored.FileChanges,
		Extra:       stored.Extra,
	}
	if len(cs.Parents) == 0 {
		cs.Parents = nil
	}
	if cs.FileChanges == nil {
		cs.FileChanges = map[string]model.FileChange{}
	}
	return cs, nil
}

// nullableID converts an optional changeset id to a nullable column value.
func nullableID(id *model.ChangesetID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

// idFromNull converts a nullable column back to an optional id.
func idFromNull(v sql.NullString) *model.ChangesetID {
	if !v.Valid {
		return nil
	}
	return model.ChangesetIDPtr(model.ChangesetID(v.String))
}
