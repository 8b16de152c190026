/*
cascade.go - Soft-delete cascade processor

PURPOSE:
  Converts every pending physical delete in a unit of work into a tombstone
  write, then propagates the tombstone to every live row reachable over the
  declared ownership graph. Also stamps the bookkeeping timestamps for every
  tracked entity, delete or not.

ALGORITHM:
  1. A visited set keyed by entity identity guards against cycles.
  2. The root being deleted: mark visited, set DeletedAtUTC, rewrite the
     pending operation from Delete to Modify.
  3. For each forward-owned relation, load the live children; recurse into
     each child not visited and not already tombstoned.
  4. Unconditionally: Added entries get CreatedAtUTC, Modified entries that
     are not part of a delete get UpdatedAtUTC.

  Termination is bounded by the visited set: no identity is processed twice,
  so recursion is bounded by the size of the reachable live graph.

JOIN ENTITIES:
  Relations targeting a registered many-to-many link entity are skipped;
  only strict ownership edges participate.
*/
package ledger

import (
	"context"
	"fmt"
)

// CascadeProcessor walks the tombstone graph of a unit of work.
type CascadeProcessor struct {
	Graph *OwnershipGraph
}

func NewCascadeProcessor(graph *OwnershipGraph) *CascadeProcessor {
	return &CascadeProcessor{Graph: graph}
}

// Process runs the cascade pass over the given entry snapshot. Newly
// discovered children are registered on the unit of work as modified
// tombstone writes; the caller audits them afterwards.
func (p *CascadeProcessor) Process(ctx context.Context, op OperationContext, uow *UnitOfWork, snapshot []*Entry) error {
	visited := make(map[entryKey]bool)

	for _, entry := range snapshot {
		if entry.State != StateDeleted {
			continue
		}
		if err := p.tombstone(ctx, op, uow, entry, visited); err != nil {
			return err
		}
	}

	// Timestamp bookkeeping for everything tracked, cascade or not.
	for _, entry := range uow.Entries() {
		switch entry.State {
		case StateAdded:
			entry.Entity.Stamps().CreatedAtUTC = op.Now
		case StateModified:
			if !entry.Entity.Stamps().IsDeleted() {
				entry.Entity.Stamps().Touch(op.Now)
			}
		}
	}

	return nil
}

// tombstone handles one entry: converts its delete into a tombstone write
// and recurses into its owned children.
func (p *CascadeProcessor) tombstone(ctx context.Context, op OperationContext, uow *UnitOfWork, entry *Entry, visited map[entryKey]bool) error {
	key := keyOf(entry.Entity)
	if visited[key] {
		return nil
	}
	visited[key] = true

	entry.Entity.Stamps().Tombstone(op.Now)
	if entry.State != StateAdded {
		entry.State = StateModified
	}

	for _, rel := range p.Graph.Owned(entry.Entity.EntityName()) {
		if p.Graph.IsJoin(rel.Child) {
			continue
		}
		children, err := rel.Load(ctx, entry.Entity.EntityKey())
		if err != nil {
			return fmt.Errorf("cascade: load %s of %s %q: %w",
				rel.Child, entry.Entity.EntityName(), entry.Entity.EntityKey(), err)
		}
		for _, child := range children {
			childKey := keyOf(child)
			if visited[childKey] {
				continue
			}
			// adopt keeps the identity map intact: if the child is
			// already tracked, the tracked instance wins.
			childEntry := uow.adopt(child)
			if childEntry.Entity.Stamps().IsDeleted() {
				visited[childKey] = true
				continue
			}
			if err := p.tombstone(ctx, op, uow, childEntry, visited); err != nil {
				return err
			}
		}
	}

	return nil
}
