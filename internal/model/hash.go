package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainChangeset separates changeset hashes from any other hash the
// stores may compute. The version suffix allows migrating the encoding.
const DomainChangeset = "xreposync/changeset/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

type canonicalFileChange struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// canonicalChangeset is the hashed form of a Changeset. Field order is
// fixed by the struct and map keys are sorted by encoding/json.
type canonicalChangeset struct {
	Parents     []string                       `json:"parents"`
	Author      string                         `json:"author"`
	Date        int64                          `json:"date"`
	TZOffset    int                            `json:"tz_offset"`
	Message     string                         `json:"message"`
	FileChanges map[string]canonicalFileChange `json:"file_changes"`
	Extra       map[string]string              `json:"extra"`
}

// MarshalCanonical encodes a changeset deterministically. Strings are NFC
// normalized and HTML escaping is disabled.
func MarshalCanonical(cs *Changeset) ([]byte, error) {
	parents := make([]string, len(cs.Parents))
	for i, p := range cs.Parents {
		parents[i] = string(p)
	}
	changes := make(map[string]canonicalFileChange, len(cs.FileChanges))
	for path, fc := range cs.FileChanges {
		key := norm.NFC.String(path)
		if _, dup := changes[key]; dup {
			return nil, fmt.Errorf("paths collide after NFC normalization: %q", path)
		}
		changes[key] = canonicalFileChange{Kind: string(fc.Kind), Content: fc.Content}
	}
	extra := make(map[string]string, len(cs.Extra))
	for k, v := range cs.Extra {
		extra[norm.NFC.String(k)] = norm.NFC.String(v)
	}
	_, offset := cs.Date.Zone()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalChangeset{
		Parents:     parents,
		Author:      norm.NFC.String(cs.Author),
		Date:        cs.Date.Unix(),
		TZOffset:    offset,
		Message:     norm.NFC.String(cs.Message),
		FileChanges: changes,
		Extra:       extra,
	}); err != nil {
		return nil, fmt.Errorf("marshal changeset: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeChangesetID returns the content hash of cs.
func ComputeChangesetID(cs *Changeset) (ChangesetID, error) {
	if err := cs.Validate(); err != nil {
		return "", err
	}
	data, err := MarshalCanonical(cs)
	if err != nil {
		return "", err
	}
	return ChangesetID(hashWithDomain(DomainChangeset, data)), nil
}

// MustChangesetID is ComputeChangesetID that panics on error. Intended for
// tests and fixtures.
func MustChangesetID(cs *Changeset) ChangesetID {
	id, err := ComputeChangesetID(cs)
	if err != nil {
		panic(err)
	}
	return id
}
