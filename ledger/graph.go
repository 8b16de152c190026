/*
graph.go - Statically declared ownership graph

PURPOSE:
  The cascade processor needs to know which rows a tombstone propagates to.
  Rather than reflecting over a live object graph, each entity type declares
  its forward-owned child relations here, once, at wiring time. The cascade
  walks this declared graph.

OWNERSHIP EDGES:
  Only relations where the child's lifecycle is bound to the parent's
  participate: one-to-many parent->children and one-to-one owner->owned,
  where the foreign key lives on the child. Cascades never go upward.

JOIN ENTITIES:
  Pure many-to-many link entities are registered with MarkJoin and are
  excluded from traversal entirely. Cascading through a join row would
  tombstone unrelated rows on the other side.
*/
package ledger

import "context"

// ChildLoader loads the live (non-tombstoned) children owned by a parent.
// Implemented by the stores; default-read filtering keeps already
// tombstoned rows out of the traversal.
type ChildLoader func(ctx context.Context, parentKey string) ([]Entity, error)

// Relation is one declared ownership edge.
type Relation struct {
	Child string
	Load  ChildLoader
}

// OwnershipGraph holds every declared ownership edge, keyed by parent
// entity name. Built once at process start.
type OwnershipGraph struct {
	relations map[string][]Relation
	joins     map[string]bool
}

func NewOwnershipGraph() *OwnershipGraph {
	return &OwnershipGraph{
		relations: make(map[string][]Relation),
		joins:     make(map[string]bool),
	}
}

// Own declares that parent owns rows of type child, loaded by load.
func (g *OwnershipGraph) Own(parent, child string, load ChildLoader) {
	g.relations[parent] = append(g.relations[parent], Relation{Child: child, Load: load})
}

// MarkJoin excludes a pure many-to-many link entity from traversal.
func (g *OwnershipGraph) MarkJoin(name string) {
	g.joins[name] = true
}

// Owned returns the declared forward relations of the named entity.
func (g *OwnershipGraph) Owned(name string) []Relation {
	return g.relations[name]
}

// IsJoin reports whether the named entity is a many-to-many link.
func (g *OwnershipGraph) IsJoin(name string) bool {
	return g.joins[name]
}
