/*
Package ledger provides the unit-of-work core for the marketplace.

PURPOSE:
  This package contains the domain-agnostic machinery that every persisted
  mutation flows through: change tracking, the audit log writer, and the
  soft-delete cascade processor. Domain packages register their entities
  here; the store packages supply the physical commit.

KEY CONCEPTS IN THIS FILE (entity.go):
  - Entity: the contract every tracked row implements
  - Timestamps: created/updated/deleted bookkeeping ("tombstone" fields)
  - EntityState: Unchanged, Added, Modified, Deleted
  - Entry: one tracked entity plus its original field snapshot

SOFT-DELETE CONTRACT:
  A delete never removes a row. DeletedAtUTC == nil means live; setting it
  is the only effect of a delete. Default reads in the stores filter
  tombstoned rows out.

SEE ALSO:
  - uow.go: the SaveChanges sequencing contract
  - cascade.go: tombstone propagation over the ownership graph
  - audit.go: before/after diffs per tracked mutation
*/
package ledger

import (
	"time"
)

// =============================================================================
// ENTITY - Contract for everything the unit of work tracks
// =============================================================================

// Entity is implemented by every persisted row that participates in the
// unit of work. Fields returns a flat snapshot of the entity's persisted
// fields; the audit writer diffs these snapshots, so the map must contain
// every column that matters for the audit trail.
type Entity interface {
	// EntityName returns the stable type name (table name).
	EntityName() string

	// EntityKey returns the identity, or "" when not yet assigned.
	EntityKey() string

	// Fields returns a snapshot of the persisted field values.
	Fields() map[string]any

	// Stamps exposes the timestamp bookkeeping fields for mutation.
	Stamps() *Timestamps
}

// =============================================================================
// TIMESTAMPS - Soft-delete and bookkeeping columns
// =============================================================================

// Timestamps carries the three bookkeeping columns every participating
// table has. Embed it in domain entities.
type Timestamps struct {
	CreatedAtUTC time.Time
	UpdatedAtUTC *time.Time
	DeletedAtUTC *time.Time
}

// Stamps satisfies the Entity contract for embedders.
func (t *Timestamps) Stamps() *Timestamps { return t }

// IsDeleted reports whether the row is tombstoned.
func (t *Timestamps) IsDeleted() bool { return t.DeletedAtUTC != nil }

// Tombstone marks the row deleted at the given instant.
// Calling it on an already tombstoned row is a no-op.
func (t *Timestamps) Tombstone(at time.Time) {
	if t.DeletedAtUTC != nil {
		return
	}
	at = at.UTC()
	t.DeletedAtUTC = &at
}

// Touch records an update at the given instant.
func (t *Timestamps) Touch(at time.Time) {
	at = at.UTC()
	t.UpdatedAtUTC = &at
}

// StampFields merges the bookkeeping columns into a field snapshot.
// Domain Fields() implementations call this so all entities report the
// columns under the same names.
func (t *Timestamps) StampFields(fields map[string]any) map[string]any {
	fields["created_at_utc"] = t.CreatedAtUTC
	fields["updated_at_utc"] = t.UpdatedAtUTC
	fields["deleted_at_utc"] = t.DeletedAtUTC
	return fields
}

// =============================================================================
// ENTITY STATE - Persistence operation pending for an entry
// =============================================================================

type EntityState int

const (
	StateUnchanged EntityState = iota
	StateAdded
	StateModified
	StateDeleted
)

func (s EntityState) String() string {
	switch s {
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// =============================================================================
// ENTRY - One tracked entity
// =============================================================================

// Entry pairs a tracked entity with its pending persistence operation and
// the field snapshot taken when tracking began. The original snapshot is
// what audit diffs and delete snapshots are computed against.
type Entry struct {
	Entity Entity
	State  EntityState

	original map[string]any
}

func newEntry(e Entity, state EntityState) *Entry {
	return &Entry{Entity: e, State: state, original: e.Fields()}
}

// Original returns the field snapshot captured when the entity was first
// tracked in this unit of work.
func (e *Entry) Original() map[string]any { return e.original }

// key identifies an entry in the unit of work's identity map.
type entryKey struct {
	Name string
	ID   string
}

func keyOf(e Entity) entryKey {
	return entryKey{Name: e.EntityName(), ID: e.EntityKey()}
}
