package ledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// node is a minimal entity for exercising the unit of work. Kind doubles
// as the table name so one type can play parent and child.
type node struct {
	ID    string
	Kind  string
	Label string

	ledger.Timestamps
}

func (n *node) EntityName() string { return n.Kind }
func (n *node) EntityKey() string  { return n.ID }

func (n *node) Fields() map[string]any {
	return n.StampFields(map[string]any{
		"id":    n.ID,
		"label": n.Label,
	})
}

// captureFlusher records what reaches the physical commit boundary.
type captureFlusher struct {
	entries []*ledger.Entry
	audits  []ledger.AuditLog
	calls   int
}

func (f *captureFlusher) Flush(_ context.Context, entries []*ledger.Entry, audits []ledger.AuditLog) (int, error) {
	f.calls++
	f.entries = entries
	f.audits = audits

	rows := 0
	for _, e := range entries {
		if e.State != ledger.StateUnchanged {
			rows++
		}
	}
	return rows, nil
}

// childrenOf builds a loader serving the given children for any parent.
func childrenOf(children ...*node) ledger.ChildLoader {
	return func(_ context.Context, _ string) ([]ledger.Entity, error) {
		out := make([]ledger.Entity, len(children))
		for i, c := range children {
			out[i] = c
		}
		return out, nil
	}
}

func testOp() ledger.OperationContext {
	return ledger.NewOperationContext(
		time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC), "user-1")
}

func decodeDiff(t *testing.T, changes string) map[string]ledger.FieldChange {
	t.Helper()
	var diff map[string]ledger.FieldChange
	require.NoError(t, json.Unmarshal([]byte(changes), &diff))
	return diff
}

// =============================================================================
// AUDIT TESTS
// =============================================================================

func TestAudit_Created_RecordsFullSnapshot(t *testing.T) {
	// GIVEN: A new entity registered on the unit of work
	// WHEN: SaveChanges commits
	// THEN: One Created audit row with the full field snapshot

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)
	op := testOp()

	uow.RegisterNew(&node{ID: "n1", Kind: "nodes", Label: "fresh"})

	_, err := uow.SaveChanges(context.Background(), op)
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	row := flusher.audits[0]
	assert.Equal(t, ledger.ActionCreated, row.Action)
	assert.Equal(t, "nodes", row.EntityName)
	assert.Equal(t, "n1", row.EntityID)
	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, op.Now, row.Timestamp)
	assert.NotEmpty(t, row.ID)

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Changes), &snapshot))
	assert.Equal(t, "fresh", snapshot["label"])
}

func TestAudit_Modified_RecordsOnlyChangedFields(t *testing.T) {
	// GIVEN: A tracked entity whose label is mutated
	// WHEN: SaveChanges commits
	// THEN: One Updated row holding just the label's before/after pair

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)

	n := &node{ID: "n1", Kind: "nodes", Label: "before"}
	uow.Track(n)
	n.Label = "after"
	uow.MarkDirty(n)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	assert.Equal(t, ledger.ActionUpdated, flusher.audits[0].Action)

	// The audit pass observes the snapshot before timestamp bookkeeping,
	// so the diff is the label alone.
	diff := decodeDiff(t, flusher.audits[0].Changes)
	require.Len(t, diff, 1)
	assert.Equal(t, "before", diff["label"].Before)
	assert.Equal(t, "after", diff["label"].After)
}

func TestAudit_Modified_NoActualChange_NoRow(t *testing.T) {
	// GIVEN: An entity marked dirty without any field mutation
	// WHEN: SaveChanges commits
	// THEN: No audit row is produced for the empty diff

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)

	n := &node{ID: "n1", Kind: "nodes", Label: "same"}
	uow.Track(n)
	uow.MarkDirty(n)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	assert.Empty(t, flusher.audits)
}

func TestAudit_Deleted_RecordsOriginalValues(t *testing.T) {
	// GIVEN: A tracked entity marked deleted
	// WHEN: SaveChanges commits (delete rewritten to a tombstone write)
	// THEN: The audit row still reads Deleted, holding the original values

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)

	n := &node{ID: "n1", Kind: "nodes", Label: "doomed"}
	uow.MarkDeleted(uow.Track(n).Entity)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	row := flusher.audits[0]
	assert.Equal(t, ledger.ActionDeleted, row.Action)

	var original map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Changes), &original))
	assert.Equal(t, "doomed", original["label"])
	assert.Nil(t, original["deleted_at_utc"])
}

func TestAudit_MissingUserID_RecordedAsEmpty(t *testing.T) {
	// GIVEN: An operation context without a user
	// WHEN: SaveChanges commits an insert
	// THEN: The audit row carries an empty user id, no error

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)
	uow.RegisterNew(&node{ID: "n1", Kind: "nodes"})

	op := ledger.NewOperationContext(time.Now(), "")
	_, err := uow.SaveChanges(context.Background(), op)
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	assert.Equal(t, "", flusher.audits[0].UserID)
}

// crate carries a slice-valued field to exercise snapshot comparison on
// values that are not comparable with ==.
type crate struct {
	ID   string
	Tags []string

	ledger.Timestamps
}

func (c *crate) EntityName() string { return "crates" }
func (c *crate) EntityKey() string  { return c.ID }

func (c *crate) Fields() map[string]any {
	return c.StampFields(map[string]any{
		"id":   c.ID,
		"tags": c.Tags,
	})
}

func TestAudit_SliceValuedFields_DiffedByDeepEquality(t *testing.T) {
	// GIVEN: An entity whose snapshot holds a slice
	// WHEN: It is marked dirty first without and then with a real change
	// THEN: The empty diff produces no row and the real change one row

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)

	c := &crate{ID: "cr1", Tags: []string{"fragile"}}
	uow.Track(c)
	uow.MarkDirty(c)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)
	assert.Empty(t, flusher.audits)

	flusher = &captureFlusher{}
	uow = ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)
	uow.Track(c)
	c.Tags = []string{"fragile", "heavy"}
	uow.MarkDirty(c)

	_, err = uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	diff := decodeDiff(t, flusher.audits[0].Changes)
	require.Contains(t, diff, "tags")
}

func TestAudit_UnassignedKey_Sentinel(t *testing.T) {
	// GIVEN: An insert whose identity is not assigned yet
	// WHEN: SaveChanges commits
	// THEN: The audit row records the sentinel id rather than failing

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), flusher)
	uow.RegisterNew(&node{Kind: "nodes", Label: "anonymous"})

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	require.Len(t, flusher.audits, 1)
	assert.Equal(t, ledger.UnassignedKey, flusher.audits[0].EntityID)
}

// =============================================================================
// CASCADE TESTS
// =============================================================================

func TestCascade_DeleteBecomesTombstoneWrite(t *testing.T) {
	// GIVEN: A delete of a parent owning two children
	// WHEN: SaveChanges commits
	// THEN: No physical delete reaches the flusher; parent and children
	//       carry tombstones and the children are audited as updates

	child1 := &node{ID: "c1", Kind: "children"}
	child2 := &node{ID: "c2", Kind: "children"}

	graph := ledger.NewOwnershipGraph()
	graph.Own("parents", "children", childrenOf(child1, child2))

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(graph, flusher)

	parent := &node{ID: "p1", Kind: "parents"}
	uow.MarkDeleted(uow.Track(parent).Entity)

	op := testOp()
	rows, err := uow.SaveChanges(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	require.Len(t, flusher.entries, 3)
	for _, entry := range flusher.entries {
		assert.NotEqual(t, ledger.StateDeleted, entry.State,
			"physical deletes must never reach the store")
	}

	require.NotNil(t, parent.DeletedAtUTC)
	assert.Equal(t, op.Now, *parent.DeletedAtUTC)
	require.NotNil(t, child1.DeletedAtUTC)
	require.NotNil(t, child2.DeletedAtUTC)

	// Root audited as Deleted, children as Updated.
	require.Len(t, flusher.audits, 3)
	assert.Equal(t, ledger.ActionDeleted, flusher.audits[0].Action)
	assert.Equal(t, ledger.ActionUpdated, flusher.audits[1].Action)
	assert.Equal(t, ledger.ActionUpdated, flusher.audits[2].Action)
}

func TestCascade_JoinEntitiesExcluded(t *testing.T) {
	// GIVEN: A parent owning a join-typed child relation
	// WHEN: The parent is deleted
	// THEN: The join rows are not tombstoned

	link := &node{ID: "l1", Kind: "links"}

	graph := ledger.NewOwnershipGraph()
	graph.Own("parents", "links", childrenOf(link))
	graph.MarkJoin("links")

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(graph, flusher)

	parent := &node{ID: "p1", Kind: "parents"}
	uow.MarkDeleted(uow.Track(parent).Entity)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	assert.Nil(t, link.DeletedAtUTC)
	require.Len(t, flusher.entries, 1)
}

func TestCascade_TrackedCleanChild_StillAudited(t *testing.T) {
	// GIVEN: A child already tracked clean in the unit of work
	// WHEN: Its parent is deleted and the cascade tombstones the child
	// THEN: The child still gets exactly one audit row, as an update

	child := &node{ID: "c1", Kind: "children", Label: "bystander"}

	graph := ledger.NewOwnershipGraph()
	graph.Own("parents", "children", childrenOf(child))

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(graph, flusher)

	uow.Track(child)

	parent := &node{ID: "p1", Kind: "parents"}
	uow.MarkDeleted(uow.Track(parent).Entity)

	rows, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	require.NotNil(t, child.DeletedAtUTC)

	require.Len(t, flusher.audits, 2)
	assert.Equal(t, ledger.ActionDeleted, flusher.audits[0].Action)
	assert.Equal(t, ledger.ActionUpdated, flusher.audits[1].Action)
	assert.Equal(t, "c1", flusher.audits[1].EntityID)

	diff := decodeDiff(t, flusher.audits[1].Changes)
	require.Contains(t, diff, "deleted_at_utc")
	assert.Nil(t, diff["deleted_at_utc"].Before)
	assert.NotNil(t, diff["deleted_at_utc"].After)
}

func TestCascade_AlreadyTombstonedChild_Preserved(t *testing.T) {
	// GIVEN: A child tombstoned by an earlier operation
	// WHEN: The parent is deleted
	// THEN: The child's original tombstone timestamp survives

	earlier := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	child := &node{ID: "c1", Kind: "children"}
	child.Tombstone(earlier)

	graph := ledger.NewOwnershipGraph()
	graph.Own("parents", "children", childrenOf(child))

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(graph, flusher)

	parent := &node{ID: "p1", Kind: "parents"}
	uow.MarkDeleted(uow.Track(parent).Entity)

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	require.NotNil(t, child.DeletedAtUTC)
	assert.Equal(t, earlier, *child.DeletedAtUTC)
}

func TestCascade_MultiLevel_WalksGrandchildren(t *testing.T) {
	// GIVEN: parent -> child -> grandchild ownership
	// WHEN: The parent is deleted
	// THEN: All three levels are tombstoned in one commit

	grandchild := &node{ID: "g1", Kind: "grandchildren"}
	child := &node{ID: "c1", Kind: "children"}

	graph := ledger.NewOwnershipGraph()
	graph.Own("parents", "children", childrenOf(child))
	graph.Own("children", "grandchildren", childrenOf(grandchild))

	flusher := &captureFlusher{}
	uow := ledger.NewUnitOfWork(graph, flusher)

	parent := &node{ID: "p1", Kind: "parents"}
	uow.MarkDeleted(uow.Track(parent).Entity)

	rows, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.NotNil(t, parent.DeletedAtUTC)
	assert.NotNil(t, child.DeletedAtUTC)
	assert.NotNil(t, grandchild.DeletedAtUTC)
	assert.Equal(t, 1, flusher.calls, "one physical transaction")
}

// =============================================================================
// UNIT OF WORK TESTS
// =============================================================================

func TestUnitOfWork_IdentityMap_FirstInstanceWins(t *testing.T) {
	// GIVEN: Two loads of the same logical row
	// WHEN: Both are tracked
	// THEN: The unit of work converges on the first instance

	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), &captureFlusher{})

	first := &node{ID: "n1", Kind: "nodes", Label: "first"}
	second := &node{ID: "n1", Kind: "nodes", Label: "second"}

	e1 := uow.Track(first)
	e2 := uow.Track(second)

	assert.Same(t, e1, e2)
	assert.Same(t, first, e2.Entity.(*node))
	assert.Len(t, uow.Entries(), 1)
}

func TestUnitOfWork_SaveTwice_Rejected(t *testing.T) {
	// GIVEN: A unit of work that has committed
	// WHEN: SaveChanges is called again
	// THEN: The second call errors instead of double-committing

	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), &captureFlusher{})
	uow.RegisterNew(&node{ID: "n1", Kind: "nodes"})

	_, err := uow.SaveChanges(context.Background(), testOp())
	require.NoError(t, err)

	_, err = uow.SaveChanges(context.Background(), testOp())
	assert.Error(t, err)
}

func TestUnitOfWork_TimestampBookkeeping(t *testing.T) {
	// GIVEN: One insert and one update in the same unit of work
	// WHEN: SaveChanges commits
	// THEN: The insert gets CreatedAtUTC, the update gets UpdatedAtUTC

	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), &captureFlusher{})
	op := testOp()

	added := &node{ID: "a1", Kind: "nodes"}
	uow.RegisterNew(added)

	updated := &node{ID: "u1", Kind: "nodes", Label: "x"}
	uow.Track(updated)
	updated.Label = "y"
	uow.MarkDirty(updated)

	_, err := uow.SaveChanges(context.Background(), op)
	require.NoError(t, err)

	assert.Equal(t, op.Now, added.CreatedAtUTC)
	require.NotNil(t, updated.UpdatedAtUTC)
	assert.Equal(t, op.Now, *updated.UpdatedAtUTC)
}

func TestUnitOfWork_MarkDeletedOnAdded_StaysAdded(t *testing.T) {
	// GIVEN: An entity registered as new in this unit of work
	// WHEN: It is marked deleted before commit
	// THEN: The entry does not degrade to a delete of a row that never existed

	uow := ledger.NewUnitOfWork(ledger.NewOwnershipGraph(), &captureFlusher{})

	n := &node{ID: "n1", Kind: "nodes"}
	uow.RegisterNew(n)
	uow.MarkDeleted(n)

	entries := uow.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.StateAdded, entries[0].State)
}
