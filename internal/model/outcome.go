package model

import "fmt"

// OutcomeKind enumerates the CommitSyncOutcome variants.
type OutcomeKind int

const (
	OutcomeRewrittenAs OutcomeKind = iota + 1
	OutcomeEquivalentWorkingCopyAncestor
	OutcomeNotSyncCandidate
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRewrittenAs:
		return "RewrittenAs"
	case OutcomeEquivalentWorkingCopyAncestor:
		return "EquivalentWorkingCopyAncestor"
	case OutcomeNotSyncCandidate:
		return "NotSyncCandidate"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// ParseOutcomeKind is the inverse of OutcomeKind.String.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch s {
	case "RewrittenAs":
		return OutcomeRewrittenAs, nil
	case "EquivalentWorkingCopyAncestor":
		return OutcomeEquivalentWorkingCopyAncestor, nil
	case "NotSyncCandidate":
		return OutcomeNotSyncCandidate, nil
	default:
		return 0, fmt.Errorf("unknown outcome kind %q", s)
	}
}

// CommitSyncOutcome is the terminal classification of a source commit.
//
// The interface is sealed: RewrittenAs, EquivalentWorkingCopyAncestor and
// NotSyncCandidate are the only implementations. Switches over it must
// handle all three and panic in the default branch.
type CommitSyncOutcome interface {
	Kind() OutcomeKind
	Version() CommitSyncConfigVersion
	String() string
	isCommitSyncOutcome()
}

// RewrittenAs records that the source commit was rewritten into Target.
type RewrittenAs struct {
	Target        ChangesetID
	ConfigVersion CommitSyncConfigVersion
}

func (RewrittenAs) Kind() OutcomeKind { return OutcomeRewrittenAs }
func (o RewrittenAs) Version() CommitSyncConfigVersion { return o.ConfigVersion }
func (RewrittenAs) isCommitSyncOutcome() {}
func (o RewrittenAs) String() string {
	return fmt.Sprintf("RewrittenAs(%s, %s)", o.Target.Short(), o.ConfigVersion)
}

// EquivalentWorkingCopyAncestor records that the source commit produced no
// new target commit because its working copy equals Target's.
type EquivalentWorkingCopyAncestor struct {
	Target        ChangesetID
	ConfigVersion CommitSyncConfigVersion
}

func (EquivalentWorkingCopyAncestor) Kind() OutcomeKind { return OutcomeEquivalentWorkingCopyAncestor }
func (o EquivalentWorkingCopyAncestor) Version() CommitSyncConfigVersion {
	return o.ConfigVersion
}
func (EquivalentWorkingCopyAncestor) isCommitSyncOutcome() {}
func (o EquivalentWorkingCopyAncestor) String() string {
	return fmt.Sprintf("EquivalentWorkingCopyAncestor(%s, %s)", o.Target.Short(), o.ConfigVersion)
}

// NotSyncCandidate records that the commit is intentionally not synced.
type NotSyncCandidate struct {
	ConfigVersion CommitSyncConfigVersion
}

func (NotSyncCandidate) Kind() OutcomeKind { return OutcomeNotSyncCandidate }
func (o NotSyncCandidate) Version() CommitSyncConfigVersion { return o.ConfigVersion }
func (NotSyncCandidate) isCommitSyncOutcome() {}
func (o NotSyncCandidate) String() string {
	return fmt.Sprintf("NotSyncCandidate(%s)", o.ConfigVersion)
}

// RemappedID returns the target changeset of an outcome, if it has one.
func RemappedID(o CommitSyncOutcome) (ChangesetID, bool) {
	switch v := o.(type) {
	case RewrittenAs:
		return v.Target, true
	case EquivalentWorkingCopyAncestor:
		return v.Target, true
	case NotSyncCandidate:
		return "", false
	default:
		panic(fmt.Sprintf("unhandled commit sync outcome %T", o))
	}
}

// NewOutcome builds an outcome from its stored columns.
func NewOutcome(kind OutcomeKind, target ChangesetID, version CommitSyncConfigVersion) (CommitSyncOutcome, error) {
	switch kind {
	case OutcomeRewrittenAs:
		if target == "" {
			return nil, fmt.Errorf("RewrittenAs requires a target changeset")
		}
		return RewrittenAs{Target: target, ConfigVersion: version}, nil
	case OutcomeEquivalentWorkingCopyAncestor:
		if target == "" {
			return nil, fmt.Errorf("EquivalentWorkingCopyAncestor requires a target changeset")
		}
		return EquivalentWorkingCopyAncestor{Target: target, ConfigVersion: version}, nil
	case OutcomeNotSyncCandidate:
		return NotSyncCandidate{ConfigVersion: version}, nil
	default:
		return nil, fmt.Errorf("unknown outcome kind %d", int(kind))
	}
}

// OutcomesEqual compares two outcomes by value.
func OutcomesEqual(a, b CommitSyncOutcome) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// MappingKey identifies one row of the synced commit mapping.
type MappingKey struct {
	SourceRepo      RepositoryID
	SourceChangeset ChangesetID
	TargetRepo      RepositoryID
}

// MappingEntry is a key together with its recorded outcome.
type MappingEntry struct {
	MappingKey
	Outcome CommitSyncOutcome
}
