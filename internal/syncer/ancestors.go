package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/xreposync/internal/model"
)

// AncestorVersions summarizes the outcomes found at the boundary between
// unsynced and synced history.
type AncestorVersions struct {
	// Rewritten holds the versions of RewrittenAs and
	// EquivalentWorkingCopyAncestor boundary outcomes.
	Rewritten map[model.CommitSyncConfigVersion]struct{}

	// NotSyncCandidate holds the versions of NotSyncCandidate boundary
	// outcomes.
	NotSyncCandidate map[model.CommitSyncConfigVersion]struct{}
}

func newAncestorVersions() AncestorVersions {
	return AncestorVersions{
		Rewritten:        make(map[model.CommitSyncConfigVersion]struct{}),
		NotSyncCandidate: make(map[model.CommitSyncConfigVersion]struct{}),
	}
}

func (v AncestorVersions) add(o model.CommitSyncOutcome) {
	switch o.(type) {
	case model.RewrittenAs, model.EquivalentWorkingCopyAncestor:
		v.Rewritten[o.Version()] = struct{}{}
	case model.NotSyncCandidate:
		v.NotSyncCandidate[o.Version()] = struct{}{}
	default:
		panic(fmt.Sprintf("unhandled commit sync outcome %T", o))
	}
}

// HasKnownOutcome reports whether any boundary ancestor has an outcome.
func (v AncestorVersions) HasKnownOutcome() bool {
	return len(v.Rewritten) > 0 || len(v.NotSyncCandidate) > 0
}

// OnlyVersion returns the single version of the rewritten boundary. ok is
// false when every boundary outcome is NotSyncCandidate. More than one
// version is an AmbiguousSyncVersion error.
func (v AncestorVersions) OnlyVersion() (version model.CommitSyncConfigVersion, ok bool, err error) {
	switch len(v.Rewritten) {
	case 0:
		return "", false, nil
	case 1:
		for version := range v.Rewritten {
			return version, true, nil
		}
	}
	return "", false, model.NewSyncError(model.ErrCodeAmbiguousSyncVersion,
		"unsynced ancestors border history synced with several versions: %v", v.sortedRewritten())
}

func (v AncestorVersions) sortedRewritten() []model.CommitSyncConfigVersion {
	out := make([]model.CommitSyncConfigVersion, 0, len(v.Rewritten))
	for version := range v.Rewritten {
		out = append(out, version)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ancestorSource is what the ancestor walk needs from the source repo.
type ancestorSource interface {
	ID() model.RepositoryID
	GenerationNumber(ctx context.Context, id model.ChangesetID) (uint64, error)
	Load(ctx context.Context, id model.ChangesetID) (*model.Changeset, error)
}

// MappingAncestorResolver walks parent edges from a head and stops at
// commits that already have an outcome in the mapping.
type MappingAncestorResolver struct {
	source  ancestorSource
	target  model.RepositoryID
	mapping Mapping
}

// NewMappingAncestorResolver returns a resolver for syncing from source to
// the target repo.
func NewMappingAncestorResolver(source ancestorSource, target model.RepositoryID, mapping Mapping) *MappingAncestorResolver {
	return &MappingAncestorResolver{source: source, target: target, mapping: mapping}
}

// FindToposortedUnsyncedAncestors returns the unsynced ancestors of head
// (inclusive), sorted by generation then id so that every commit comes
// after its parents.
func (r *MappingAncestorResolver) FindToposortedUnsyncedAncestors(ctx context.Context, head model.ChangesetID) ([]model.ChangesetID, AncestorVersions, error) {
	versions := newAncestorVersions()
	type unsynced struct {
		id         model.ChangesetID
		generation uint64
	}
	var found []unsynced

	seen := map[model.ChangesetID]bool{head: true}
	stack := []model.ChangesetID{head}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, AncestorVersions{}, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		outcome, err := r.mapping.GetOutcome(ctx, model.MappingKey{
			SourceRepo:      r.source.ID(),
			SourceChangeset: id,
			TargetRepo:      r.target,
		})
		if err != nil {
			return nil, AncestorVersions{}, err
		}
		if outcome != nil {
			versions.add(outcome)
			continue
		}

		generation, err := r.source.GenerationNumber(ctx, id)
		if err != nil {
			return nil, AncestorVersions{}, err
		}
		cs, err := r.source.Load(ctx, id)
		if err != nil {
			return nil, AncestorVersions{}, err
		}
		found = append(found, unsynced{id: id, generation: generation})
		for _, p := range cs.Parents {
			if !seen[p] {
				seen[p] = true
				stack = append(stack, p)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].generation != found[j].generation {
			return found[i].generation < found[j].generation
		}
		return found[i].id < found[j].id
	})
	out := make([]model.ChangesetID, len(found))
	for i, u := range found {
		out[i] = u.id
	}
	return out, versions, nil
}
