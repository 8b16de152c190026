/*
uow.go - Unit of work and the SaveChanges sequencing contract

PURPOSE:
  The unit of work accumulates entity mutations since the last commit and
  flushes them atomically. SaveChanges is the single entry point every
  component uses; its internal ordering is load-bearing:

    1. Snapshot all tracked entries and their pending states.
    2. Audit pass over the snapshot (deletes still look like deletes).
    3. Cascade pass: rewrite deletes to tombstone writes, stamp timestamps,
       stage newly discovered tombstones.
    4. Audit pass over what the cascade touched: entries it discovered plus
       snapshot entries it flipped from clean, all surfacing as updates.
    5. Commit everything as one physical transaction via the Flusher.

  Any error at any step aborts the whole transaction: no audit row, no
  tombstone, and no balance mutation is ever partially committed.

RETURN VALUE:
  SaveChanges returns the number of entity rows affected. Callers of
  boolean-returning operations (delete, cancel) use rows > 0 as the
  definitive "did anything change" signal.

SEE ALSO:
  - audit.go, cascade.go: the two passes
  - store/sqlite, store/memory: Flusher implementations
*/
package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// FLUSHER - Physical commit boundary
// =============================================================================

// Flusher commits a fully processed unit of work in one physical
// transaction. Entries arrive post-cascade (no StateDeleted remains) and
// audit rows are staged alongside. Implementations return the number of
// entity rows affected, excluding audit rows.
type Flusher interface {
	Flush(ctx context.Context, entries []*Entry, audits []AuditLog) (int, error)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork tracks entity mutations for one operation. It is not safe for
// concurrent use; each externally triggered operation builds its own.
type UnitOfWork struct {
	entries map[entryKey]*Entry
	order   []*Entry

	audit   *AuditWriter
	cascade *CascadeProcessor
	flusher Flusher

	saved bool
}

// NewUnitOfWork builds a unit of work over the given cascade graph and
// physical store.
func NewUnitOfWork(graph *OwnershipGraph, flusher Flusher) *UnitOfWork {
	return &UnitOfWork{
		entries: make(map[entryKey]*Entry),
		audit:   &AuditWriter{},
		cascade: NewCascadeProcessor(graph),
		flusher: flusher,
	}
}

// Track attaches a loaded entity as clean, capturing its original field
// snapshot. Tracking the same identity twice returns the first instance's
// entry; the unit of work is an identity map.
func (u *UnitOfWork) Track(e Entity) *Entry {
	return u.adopt(e)
}

// RegisterNew stages an insert.
func (u *UnitOfWork) RegisterNew(e Entity) {
	entry := u.adopt(e)
	entry.State = StateAdded
}

// MarkDirty stages an update for a tracked entity. Untracked entities are
// adopted first; their original snapshot is then the current state, so
// mutate after tracking, not before.
func (u *UnitOfWork) MarkDirty(e Entity) {
	entry := u.adopt(e)
	if entry.State == StateUnchanged {
		entry.State = StateModified
	}
}

// MarkDeleted stages a delete. The cascade pass rewrites it into a
// tombstone write before commit.
func (u *UnitOfWork) MarkDeleted(e Entity) {
	entry := u.adopt(e)
	if entry.State != StateAdded {
		entry.State = StateDeleted
	}
}

// Entries returns the tracked entries in registration order.
func (u *UnitOfWork) Entries() []*Entry {
	return u.order
}

// adopt returns the tracked entry for the entity's identity, creating a
// clean one if the identity is new to this unit of work.
func (u *UnitOfWork) adopt(e Entity) *Entry {
	key := keyOf(e)
	if existing, ok := u.entries[key]; ok && key.ID != "" {
		return existing
	}
	entry := newEntry(e, StateUnchanged)
	u.entries[key] = entry
	u.order = append(u.order, entry)
	return entry
}

// SaveChanges runs the audit and cascade passes and commits everything in
// one physical transaction. See the package comment for the ordering
// contract. A unit of work commits at most once.
func (u *UnitOfWork) SaveChanges(ctx context.Context, op OperationContext) (int, error) {
	if u.saved {
		return 0, fmt.Errorf("unit of work already saved")
	}
	u.saved = true

	// 1. Snapshot tracked entries and their pending states.
	snapshot := make([]*Entry, len(u.order))
	copy(snapshot, u.order)
	states := make([]EntityState, len(snapshot))
	for i, entry := range snapshot {
		states[i] = entry.State
	}

	// 2. Audit pass over the snapshot, before any cascade rewrite.
	audits := u.audit.Collect(op, snapshot)

	// 3. Cascade pass: deletes become tombstone writes, timestamps are
	//    stamped, newly reached children are staged on this unit of work.
	if err := u.cascade.Process(ctx, op, u, snapshot); err != nil {
		return 0, err
	}

	// 4. Audit the entries the cascade touched. Entries it newly discovered
	//    and snapshot entries it flipped from clean were both rewritten to
	//    modified tombstone writes, so they surface as updates. Entries the
	//    first pass already recorded keep their single row.
	var touched []*Entry
	for i, entry := range snapshot {
		if states[i] == StateUnchanged && entry.State != StateUnchanged {
			touched = append(touched, entry)
		}
	}
	touched = append(touched, u.order[len(snapshot):]...)
	if len(touched) > 0 {
		audits = append(audits, u.audit.Collect(op, touched)...)
	}

	// 5. One physical transaction for business rows, tombstones and audit.
	return u.flusher.Flush(ctx, u.order, audits)
}
