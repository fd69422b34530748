package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChangeset() *Changeset {
	return &Changeset{
		Author:  "alice",
		Date:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", 3600)),
		Message: "add readme",
		FileChanges: map[string]FileChange{
			"README.md": {Kind: FileRegular, Content: "hello"},
			"bin/run":   {Kind: FileExecutable, Content: "#!/bin/sh"},
		},
	}
}

func TestComputeChangesetIDDeterminism(t *testing.T) {
	id1, err := ComputeChangesetID(testChangeset())
	require.NoError(t, err)
	id2, err := ComputeChangesetID(testChangeset())
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, string(id1), 64)
	_, err = ParseChangesetID(string(id1))
	assert.NoError(t, err)
}

func TestComputeChangesetIDChangesWithContent(t *testing.T) {
	base := MustChangesetID(testChangeset())

	msg := testChangeset()
	msg.Message = "other"
	assert.NotEqual(t, base, MustChangesetID(msg))

	parent := testChangeset()
	parent.Parents = []ChangesetID{base}
	assert.NotEqual(t, base, MustChangesetID(parent))

	tz := testChangeset()
	tz.Date = tz.Date.In(time.UTC)
	assert.NotEqual(t, base, MustChangesetID(tz), "timezone offset is part of the hash")

	content := testChangeset()
	content.FileChanges["README.md"] = FileChange{Kind: FileRegular, Content: "bye"}
	assert.NotEqual(t, base, MustChangesetID(content))
}

func TestComputeChangesetIDNormalizesUnicode(t *testing.T) {
	composed := testChangeset()
	composed.Author = "Jos\u00e9"
	decomposed := testChangeset()
	decomposed.Author = "Jose\u0301"

	assert.Equal(t, MustChangesetID(composed), MustChangesetID(decomposed))
}

func TestMarshalCanonicalDoesNotEscapeHTML(t *testing.T) {
	cs := testChangeset()
	cs.Message = "a < b && c > d"
	data, err := MarshalCanonical(cs)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "a < b && c > d"))
	assert.False(t, strings.HasSuffix(string(data), "\n"))
}

func TestComputeChangesetIDRejectsInvalid(t *testing.T) {
	dup := testChangeset()
	p := MustChangesetID(testChangeset())
	dup.Parents = []ChangesetID{p, p}
	_, err := ComputeChangesetID(dup)
	assert.Error(t, err)

	kind := testChangeset()
	kind.FileChanges["x"] = FileChange{Kind: "bogus"}
	_, err = ComputeChangesetID(kind)
	assert.Error(t, err)
}

func TestParseChangesetID(t *testing.T) {
	_, err := ParseChangesetID("abc")
	assert.Error(t, err)
	_, err = ParseChangesetID(strings.Repeat("z", 64))
	assert.Error(t, err)
	id, err := ParseChangesetID(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, "abababababab", id.Short())
}
