/*
repository.go - Persistence interfaces the engine consumes

PURPOSE:
  The engine never talks SQL. It loads rows through these per-entity
  repositories and commits through the ledger.Flusher the same store
  implements. Different implementations back them with SQLite or memory.

DEFAULT-READ CONTRACT:
  Every read filters tombstoned rows (deleted_at_utc IS NULL) unless a
  method says otherwise. A tombstoned row is indistinguishable from a
  missing one: repositories return (nil, nil) for both.

FOR-UPDATE FLAG:
  forUpdate signals that the caller intends to mutate the row inside the
  current operation. The SQLite store serializes writers anyway; stores
  backed by server databases use it for row locking.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - store/memory: in-memory store for tests and dev
*/
package market

import (
	"context"

	"github.com/warp/market-ledger/ledger"
)

type CustomerRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Customer, error)
}

type CompanyRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Company, error)
}

type ProductRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Product, error)

	// ListByCompany returns the live products owned by a company.
	ListByCompany(ctx context.Context, companyID string) ([]*Product, error)
}

type OfferRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Offer, error)

	// ListByProduct returns the live offers of a product.
	ListByProduct(ctx context.Context, productID string) ([]*Offer, error)

	// ListByStatus returns the live offers in a given lifecycle status.
	ListByStatus(ctx context.Context, status OfferStatus) ([]*Offer, error)
}

type PurchaseRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Purchase, error)

	// ListByOffer returns the live purchases against an offer.
	ListByOffer(ctx context.Context, offerID string) ([]*Purchase, error)

	// ListByCustomer returns the live purchases of a customer.
	ListByCustomer(ctx context.Context, customerID string) ([]*Purchase, error)
}

type CategoryRepository interface {
	GetByID(ctx context.Context, id string, forUpdate bool) (*Category, error)
}

type ProductCategoryRepository interface {
	// ListByProduct returns the live links of a product.
	ListByProduct(ctx context.Context, productID string) ([]*ProductCategory, error)
}

// AuditReader exposes the append-only audit trail for querying. There is
// deliberately no update or delete surface.
type AuditReader interface {
	ListByEntity(ctx context.Context, entityName, entityID string) ([]ledger.AuditLog, error)
}

// Store aggregates every repository plus the physical commit boundary.
// The engine, the catalog, and the ownership graph are all wired from one
// Store at process start.
type Store interface {
	ledger.Flusher

	Customers() CustomerRepository
	Companies() CompanyRepository
	Products() ProductRepository
	Offers() OfferRepository
	Purchases() PurchaseRepository
	Categories() CategoryRepository
	ProductCategories() ProductCategoryRepository
	Audits() AuditReader
}
