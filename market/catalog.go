/*
catalog.go - Soft-delete operations over the catalog

PURPOSE:
  Deletes in this system are tombstone writes, and a parent's tombstone
  propagates to everything it owns: deleting a company reaches its
  products, their offers, and the purchases against those offers, all in
  one transaction with one audit row per touched entity. Category links
  are join rows and never cascade into categories.

  Each operation returns true when rows were affected; a false-with-nil
  result never happens because a missing row raises NotFound instead.
*/
package market

import (
	"context"

	"github.com/warp/market-ledger/ledger"
)

// Catalog performs the soft deletes that feed the cascade processor.
type Catalog struct {
	store Store
	graph *ledger.OwnershipGraph
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store, graph: BuildOwnershipGraph(store)}
}

func (c *Catalog) newUnitOfWork() *ledger.UnitOfWork {
	return ledger.NewUnitOfWork(c.graph, c.store)
}

// DeleteCompany tombstones the company and cascades through its products
// and their offers and purchases.
func (c *Catalog) DeleteCompany(ctx context.Context, op ledger.OperationContext, id string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}
	company, err := c.store.Companies().GetByID(ctx, id, true)
	if err != nil {
		return false, err
	}
	if company == nil {
		return false, &ledger.NotFoundError{Entity: EntityCompany, Key: id}
	}

	uow := c.newUnitOfWork()
	uow.MarkDeleted(tracked(uow, company))

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteProduct tombstones the product and its offers and purchases. The
// product's category links are join rows: categories stay live.
func (c *Catalog) DeleteProduct(ctx context.Context, op ledger.OperationContext, id string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}
	product, err := c.store.Products().GetByID(ctx, id, true)
	if err != nil {
		return false, err
	}
	if product == nil {
		return false, &ledger.NotFoundError{Entity: EntityProduct, Key: id}
	}

	uow := c.newUnitOfWork()
	uow.MarkDeleted(tracked(uow, product))

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteCategory tombstones the category only. Nothing is owned by a
// category; products merely reference it through join rows.
func (c *Catalog) DeleteCategory(ctx context.Context, op ledger.OperationContext, id string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}
	category, err := c.store.Categories().GetByID(ctx, id, true)
	if err != nil {
		return false, err
	}
	if category == nil {
		return false, &ledger.NotFoundError{Entity: EntityCategory, Key: id}
	}

	uow := c.newUnitOfWork()
	uow.MarkDeleted(tracked(uow, category))

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteCustomer tombstones the customer and their purchases. Active
// purchases should be cancelled first via CancelAllPurchasesByCustomer;
// this operation does not move money.
func (c *Catalog) DeleteCustomer(ctx context.Context, op ledger.OperationContext, id string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}
	customer, err := c.store.Customers().GetByID(ctx, id, true)
	if err != nil {
		return false, err
	}
	if customer == nil {
		return false, &ledger.NotFoundError{Entity: EntityCustomer, Key: id}
	}

	uow := c.newUnitOfWork()
	uow.MarkDeleted(tracked(uow, customer))

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
