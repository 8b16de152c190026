/*
audit.go - Structured before/after audit trail

PURPOSE:
  For every tracked entity whose state is Added, Modified, or Deleted,
  exactly one AuditLog row is produced inside the same transaction as the
  business mutation. The trail is append-only: nothing in the application
  ever updates or deletes an audit row.

WHAT GETS RECORDED:
  Added    -> full snapshot of current field values
  Modified -> only the fields whose original value differs, as {before, after}
  Deleted  -> full snapshot of ORIGINAL values (pre-delete)

ORDERING:
  The writer observes entity states BEFORE the cascade processor rewrites
  Delete to Modify. Otherwise a physical delete would be misreported as an
  update. Entities the cascade newly discovers, or tombstones despite being
  tracked clean, are audited afterwards as Updated, so the
  one-row-per-change invariant still holds.

SEE ALSO:
  - uow.go: where the two audit passes are sequenced
*/
package ledger

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// AUDIT LOG - Append-only change record
// =============================================================================

type ActionType string

const (
	ActionCreated ActionType = "Created"
	ActionUpdated ActionType = "Updated"
	ActionDeleted ActionType = "Deleted"
)

// UnassignedKey is recorded as the entity id for inserts whose identity
// has not been assigned yet. Recording a sentinel beats failing the commit.
const UnassignedKey = "N/A"

// AuditLog is one append-only audit row.
type AuditLog struct {
	ID         string
	UserID     string
	Action     ActionType
	EntityName string
	EntityID   string
	Changes    string // serialized field-level diff or full snapshot
	Timestamp  time.Time
}

// auditLogEntityName guards against the audit table auditing itself.
const auditLogEntityName = "audit_logs"

// FieldChange is one entry of a Modified diff.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// =============================================================================
// AUDIT WRITER - Two-pass observer over tracked entries
// =============================================================================

// AuditWriter turns tracked entries into audit rows. It is stateless; the
// unit of work calls Collect over its entry snapshots.
type AuditWriter struct{}

// Collect produces one audit row per non-Unchanged entry. All rows share
// the operation's timestamp. Absent user ids are recorded as empty strings,
// never surfaced as errors.
func (w *AuditWriter) Collect(op OperationContext, entries []*Entry) []AuditLog {
	var logs []AuditLog
	for _, entry := range entries {
		if entry.State == StateUnchanged {
			continue
		}
		if entry.Entity.EntityName() == auditLogEntityName {
			continue
		}

		var (
			action  ActionType
			changes any
		)
		switch entry.State {
		case StateAdded:
			action = ActionCreated
			changes = entry.Entity.Fields()
		case StateModified:
			action = ActionUpdated
			diff := Diff(entry.Original(), entry.Entity.Fields())
			if len(diff) == 0 {
				continue
			}
			changes = diff
		case StateDeleted:
			action = ActionDeleted
			changes = entry.Original()
		}

		logs = append(logs, AuditLog{
			ID:         uuid.NewString(),
			UserID:     op.UserID,
			Action:     action,
			EntityName: entry.Entity.EntityName(),
			EntityID:   entityIDOf(entry.Entity),
			Changes:    marshalChanges(changes),
			Timestamp:  op.Now,
		})
	}
	return logs
}

// Diff returns the fields whose value changed between two snapshots,
// keyed by field name.
func Diff(original, current map[string]any) map[string]FieldChange {
	diff := make(map[string]FieldChange)
	for name, after := range current {
		before, ok := original[name]
		if ok && equalValues(before, after) {
			continue
		}
		diff[name] = FieldChange{Before: before, After: after}
	}
	return diff
}

func entityIDOf(e Entity) string {
	if key := e.EntityKey(); key != "" {
		return key
	}
	return UnassignedKey
}

func marshalChanges(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// equalValues compares snapshot values. Decimals compare by numeric value,
// not by internal representation. Everything else compares by deep
// equality, so Fields() snapshots may hold slices and maps.
func equalValues(a, b any) bool {
	if da, ok := a.(decimal.Decimal); ok {
		if db, ok := b.(decimal.Decimal); ok {
			return da.Equal(db)
		}
		return false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	if pa, ok := a.(*time.Time); ok {
		pb, ok := b.(*time.Time)
		if !ok {
			return false
		}
		if pa == nil || pb == nil {
			return pa == pb
		}
		return pa.Equal(*pb)
	}
	return reflect.DeepEqual(a, b)
}
