package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeKindRoundTrip(t *testing.T) {
	for _, k := range []OutcomeKind{OutcomeRewrittenAs, OutcomeEquivalentWorkingCopyAncestor, OutcomeNotSyncCandidate} {
		parsed, err := ParseOutcomeKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseOutcomeKind("Rewritten")
	assert.Error(t, err)
}

func TestNewOutcome(t *testing.T) {
	target := ChangesetID(strings.Repeat("a", 64))

	o, err := NewOutcome(OutcomeRewrittenAs, target, "v1")
	require.NoError(t, err)
	assert.Equal(t, RewrittenAs{Target: target, ConfigVersion: "v1"}, o)

	_, err = NewOutcome(OutcomeEquivalentWorkingCopyAncestor, "", "v1")
	assert.Error(t, err, "equivalent outcome needs a target")

	o, err = NewOutcome(OutcomeNotSyncCandidate, "", "v2")
	require.NoError(t, err)
	assert.Equal(t, CommitSyncConfigVersion("v2"), o.Version())

	_, err = NewOutcome(OutcomeKind(42), target, "v1")
	assert.Error(t, err)
}

func TestRemappedID(t *testing.T) {
	target := ChangesetID(strings.Repeat("b", 64))

	id, ok := RemappedID(RewrittenAs{Target: target})
	assert.True(t, ok)
	assert.Equal(t, target, id)

	id, ok = RemappedID(EquivalentWorkingCopyAncestor{Target: target})
	assert.True(t, ok)
	assert.Equal(t, target, id)

	_, ok = RemappedID(NotSyncCandidate{})
	assert.False(t, ok)

	assert.Panics(t, func() { RemappedID(nil) })
}

func TestOutcomesEqual(t *testing.T) {
	target := ChangesetID(strings.Repeat("c", 64))

	assert.True(t, OutcomesEqual(RewrittenAs{target, "v1"}, RewrittenAs{target, "v1"}))
	assert.False(t, OutcomesEqual(RewrittenAs{target, "v1"}, RewrittenAs{target, "v2"}))
	assert.False(t, OutcomesEqual(RewrittenAs{target, "v1"}, EquivalentWorkingCopyAncestor{target, "v1"}))
	assert.False(t, OutcomesEqual(NotSyncCandidate{"v1"}, nil))
	assert.True(t, OutcomesEqual(nil, nil))
}
