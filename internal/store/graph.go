package store

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/roach88/xreposync/internal/model"
)

// GenerationNumber returns 1 for roots and 1 + max(parent generation)
// otherwise.
func (r *Repo) GenerationNumber(ctx context.Context, id model.ChangesetID) (uint64, error) {
	return generationTx(ctx, r.store.db, r.id, id)
}

// Parents returns the ordered parents of a stored changeset.
func (r *Repo) Parents(ctx context.Context, id model.ChangesetID) ([]model.ChangesetID, error) {
	if _, err := generationTx(ctx, r.store.db, r.id, id); err != nil {
		return nil, err
	}
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT parent_id FROM changeset_parents
		WHERE repo_id = ? AND cs_id = ?
		ORDER BY parent_index ASC
	`, r.id, string(id))
	if err != nil {
		return nil, fmt.Errorf("query parents of %s: %w", id.Short(), err)
	}
	defer rows.Close()

	var parents []model.ChangesetID
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan parent of %s: %w", id.Short(), err)
		}
		parents = append(parents, model.ChangesetID(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parents of %s: %w", id.Short(), err)
	}
	return parents, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// parent edges. Every changeset is its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant model.ChangesetID) (bool, error) {
	if ancestor == descendant {
		if _, err := r.GenerationNumber(ctx, ancestor); err != nil {
			return false, err
		}
		return true, nil
	}
	target, err := r.GenerationNumber(ctx, ancestor)
	if err != nil {
		return false, err
	}

	seen := map[model.ChangesetID]bool{descendant: true}
	stack := []model.ChangesetID{descendant}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		parents, err := r.Parents(ctx, id)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p == ancestor {
				return true, nil
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			g, err := r.GenerationNumber(ctx, p)
			if err != nil {
				return false, err
			}
			// Anything at or below the ancestor's generation cannot reach it.
			if g > target {
				stack = append(stack, p)
			}
		}
	}
	return false, nil
}

// AncestorsDifference returns the changesets that are ancestors of heads
// (inclusive) but not ancestors of common (inclusive), highest generation
// first.
//
// The walk visits nodes in decreasing generation order, so by the time a
// node is popped every descendant that could mark it common has been seen.
func (r *Repo) AncestorsDifference(ctx context.Context, heads, common []model.ChangesetID) ([]model.ChangesetID, error) {
	q := &generationQueue{}
	state := make(map[model.ChangesetID]*walkNode)

	push := func(id model.ChangesetID, isCommon bool) error {
		if n, ok := state[id]; ok {
			if isCommon && !n.common {
				n.common = true
				if n.queued {
					q.uncommon--
				}
			}
			return nil
		}
		g, err := r.GenerationNumber(ctx, id)
		if err != nil {
			return err
		}
		n := &walkNode{id: id, generation: g, common: isCommon, queued: true}
		state[id] = n
		heap.Push(q, n)
		if !isCommon {
			q.uncommon++
		}
		return nil
	}

	for _, id := range common {
		if err := push(id, true); err != nil {
			return nil, err
		}
	}
	for _, id := range heads {
		if err := push(id, false); err != nil {
			return nil, err
		}
	}

	var out []model.ChangesetID
	for q.Len() > 0 && q.uncommon > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := heap.Pop(q).(*walkNode)
		n.queued = false
		if !n.common {
			q.uncommon--
		}
		parents, err := r.Parents(ctx, n.id)
		if err != nil {
			return nil, err
		}
		if !n.common {
			out = append(out, n.id)
		}
		for _, p := range parents {
			if err := push(p, n.common); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// walkNode is a changeset queued by AncestorsDifference.
type walkNode struct {
	id         model.ChangesetID
	generation uint64
	common     bool
	queued     bool
}

// generationQueue is a max-heap by generation, ties broken by id. uncommon
// counts queued nodes not yet known to be ancestors of common.
type generationQueue struct {
	nodes    []*walkNode
	uncommon int
}

func (q generationQueue) Len() int { return len(q.nodes) }

func (q generationQueue) Less(i, j int) bool {
	a, b := q.nodes[i], q.nodes[j]
	if a.generation != b.generation {
		return a.generation > b.generation
	}
	return a.id < b.id
}

func (q generationQueue) Swap(i, j int) {
	q.nodes[i], q.nodes[j] = q.nodes[j], q.nodes[i]
}

func (q *generationQueue) Push(x any) {
	q.nodes = append(q.nodes, x.(*walkNode))
}

func (q *generationQueue) Pop() any {
	old := q.nodes
	n := old[len(old)-1]
	old[len(old)-1] = nil
	q.nodes = old[:len(old)-1]
	return n
}
