/*
engine.go - Purchase lifecycle engine

PURPOSE:
  Validates and executes the four lifecycle operations, mutating the two
  balances and the offer quantity under the invariants:

    1. 0 <= offer.QuantityAvailable <= offer.TotalQuantity
    2. totalPrice is frozen at quantity * unitPrice at creation
    3. money is conserved: customer + company balance sums are unchanged
       by any create/cancel pair
    4. no mutation performed here ever drives a balance negative; the
       engine rejects instead of clamping

STATE MACHINE:
  Active -> Cancelled   (terminal)
  Active -> Delivered   (terminal, set by fulfilment outside this engine)

CANCELLATION WINDOW:
  A customer may cancel within 5 minutes of purchase, measured against the
  wall clock read once at the start of the operation. After the deadline
  the cancellation is refused, never silently ignored. Administrative
  cancellations (offer withdrawn, customer closed) bypass the window.

ATOMICITY:
  Each operation runs inside one unit of work; a failure anywhere rolls
  back every balance, quantity, and status change. The audit and cascade
  passes commit in the same physical transaction.

SEE ALSO:
  - offers.go: status refresh and administrative withdrawal
  - ledger/uow.go: the SaveChanges sequencing the engine relies on
*/
package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/market-ledger/ledger"
)

// CancellationWindow is the hard deadline for customer-initiated
// cancellation, measured from PurchaseDateUTC.
const CancellationWindow = 5 * time.Minute

// Engine enforces the purchase state machine and its side effects.
type Engine struct {
	store Store
	graph *ledger.OwnershipGraph
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, graph: BuildOwnershipGraph(store)}
}

func (e *Engine) newUnitOfWork() *ledger.UnitOfWork {
	return ledger.NewUnitOfWork(e.graph, e.store)
}

// tracked attaches a loaded entity to the unit of work and returns the
// tracked instance. When the same identity was already loaded in this
// operation, the first instance wins: all mutations converge on it.
func tracked[T ledger.Entity](uow *ledger.UnitOfWork, e T) T {
	return uow.Track(e).Entity.(T)
}

// =============================================================================
// CREATE PURCHASE
// =============================================================================

// CreatePurchase atomically debits the customer, credits the selling
// company, decrements the offer quantity, and inserts the purchase with a
// price frozen at quantity * unit price.
func (e *Engine) CreatePurchase(ctx context.Context, op ledger.OperationContext, customerID, offerID string, quantity int64) (*Purchase, error) {
	if op.UserID == "" {
		return nil, ledger.ErrUnauthorized
	}
	if quantity <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}

	offer, err := e.loadOffer(ctx, offerID, true)
	if err != nil {
		return nil, err
	}
	if !offer.Live() {
		return nil, &ledger.StateError{Entity: EntityOffer, Key: offer.ID, State: string(offer.Status)}
	}

	customer, err := e.loadCustomer(ctx, customerID, true)
	if err != nil {
		return nil, err
	}
	company, err := e.sellerOf(ctx, offer)
	if err != nil {
		return nil, err
	}

	if offer.QuantityAvailable < quantity {
		return nil, &ledger.InsufficientQuantityError{
			OfferID:   offer.ID,
			Available: offer.QuantityAvailable,
			Requested: quantity,
		}
	}

	price := offer.UnitPrice.Mul(decimal.NewFromInt(quantity))
	if customer.Balance.LessThan(price) {
		return nil, &ledger.InsufficientBalanceError{
			CustomerID: customer.ID,
			Available:  customer.Balance,
			Requested:  price,
		}
	}

	uow := e.newUnitOfWork()
	offer = tracked(uow, offer)
	customer = tracked(uow, customer)
	company = tracked(uow, company)

	customer.Balance = customer.Balance.Sub(price)
	company.Balance = company.Balance.Add(price)
	offer.QuantityAvailable -= quantity
	uow.MarkDirty(customer)
	uow.MarkDirty(company)
	uow.MarkDirty(offer)

	purchase := &Purchase{
		ID:              uuid.NewString(),
		OfferID:         offer.ID,
		CustomerID:      customer.ID,
		Quantity:        quantity,
		TotalPrice:      price,
		PurchaseDateUTC: op.Now,
		Status:          PurchaseActive,
	}
	uow.RegisterNew(purchase)

	if _, err := uow.SaveChanges(ctx, op); err != nil {
		return nil, err
	}
	return purchase, nil
}

// =============================================================================
// CANCEL PURCHASE (customer-initiated, time-boxed)
// =============================================================================

// CancelPurchase reverses the three creation effects if the purchase is
// still Active, the requester owns it, and the cancellation window has not
// expired. Returns true when rows were affected.
func (e *Engine) CancelPurchase(ctx context.Context, op ledger.OperationContext, purchaseID string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}

	purchase, err := e.loadPurchase(ctx, purchaseID, true)
	if err != nil {
		return false, err
	}
	// Ownership before state: a stranger probing someone else's purchase
	// gets Forbidden, not a state hint.
	if purchase.CustomerID != op.UserID {
		return false, &ledger.ForbiddenError{UserID: op.UserID, Entity: EntityPurchase, Key: purchase.ID}
	}
	if purchase.Status != PurchaseActive {
		return false, &ledger.StateError{Entity: EntityPurchase, Key: purchase.ID, State: string(purchase.Status)}
	}
	if op.Now.Sub(purchase.PurchaseDateUTC) > CancellationWindow {
		return false, &ledger.WindowExpiredError{
			PurchaseID:  purchase.ID,
			PurchasedAt: purchase.PurchaseDateUTC,
			Window:      CancellationWindow,
			At:          op.Now,
		}
	}

	offer, err := e.loadOffer(ctx, purchase.OfferID, true)
	if err != nil {
		return false, err
	}
	customer, err := e.loadCustomer(ctx, purchase.CustomerID, true)
	if err != nil {
		return false, err
	}
	company, err := e.sellerOf(ctx, offer)
	if err != nil {
		return false, err
	}

	uow := e.newUnitOfWork()
	purchase = tracked(uow, purchase)
	offer = tracked(uow, offer)
	customer = tracked(uow, customer)
	company = tracked(uow, company)

	e.reverse(uow, purchase, customer, company, offer)

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// reverse applies the exact inverse of the creation effects. A nil offer
// skips quantity restoration: when the offer itself is being withdrawn its
// inventory is not returned, only the money moves back.
func (e *Engine) reverse(uow *ledger.UnitOfWork, purchase *Purchase, customer *Customer, company *Company, offer *Offer) {
	customer.Balance = customer.Balance.Add(purchase.TotalPrice)
	company.Balance = company.Balance.Sub(purchase.TotalPrice)
	uow.MarkDirty(customer)
	uow.MarkDirty(company)

	if offer != nil {
		offer.QuantityAvailable += purchase.Quantity
		uow.MarkDirty(offer)
	}

	purchase.Status = PurchaseCancelled
	uow.MarkDirty(purchase)
}

// =============================================================================
// ADMINISTRATIVE CANCELLATIONS
// =============================================================================

// CancelAllPurchasesByOffer reverses every Active purchase against the
// offer, bypassing the cancellation window. Offer quantity is deliberately
// NOT restored: this runs when the offer itself is withdrawn, and the
// offer's fate is decided by its own cancellation, not by each purchase's
// reversal. Returns the number of purchases cancelled.
func (e *Engine) CancelAllPurchasesByOffer(ctx context.Context, op ledger.OperationContext, offerID string) (int, error) {
	offer, err := e.loadOffer(ctx, offerID, true)
	if err != nil {
		return 0, err
	}

	uow := e.newUnitOfWork()
	count, err := e.cancelAllForOffer(ctx, uow, offer)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := uow.SaveChanges(ctx, op); err != nil {
		return 0, err
	}
	return count, nil
}

// cancelAllForOffer stages the balances-only reversal of every Active
// purchase against the offer on the given unit of work.
func (e *Engine) cancelAllForOffer(ctx context.Context, uow *ledger.UnitOfWork, offer *Offer) (int, error) {
	company, err := e.sellerOf(ctx, offer)
	if err != nil {
		return 0, err
	}
	company = tracked(uow, company)

	purchases, err := e.store.Purchases().ListByOffer(ctx, offer.ID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, purchase := range purchases {
		purchase = tracked(uow, purchase)
		if purchase.Status != PurchaseActive {
			continue
		}
		customer, err := e.loadCustomer(ctx, purchase.CustomerID, true)
		if err != nil {
			return 0, err
		}
		customer = tracked(uow, customer)

		e.reverse(uow, purchase, customer, company, nil)
		count++
	}
	return count, nil
}

// CancelAllPurchasesByCustomer reverses every Active purchase of the
// customer, restoring offer quantities. Non-Active purchases are skipped,
// making the operation idempotent over them. Returns the number cancelled.
func (e *Engine) CancelAllPurchasesByCustomer(ctx context.Context, op ledger.OperationContext, customerID string) (int, error) {
	customer, err := e.loadCustomer(ctx, customerID, true)
	if err != nil {
		return 0, err
	}

	purchases, err := e.store.Purchases().ListByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}

	uow := e.newUnitOfWork()
	customer = tracked(uow, customer)

	count := 0
	for _, purchase := range purchases {
		purchase = tracked(uow, purchase)
		if purchase.Status != PurchaseActive {
			continue
		}
		offer, err := e.loadOffer(ctx, purchase.OfferID, true)
		if err != nil {
			return 0, err
		}
		offer = tracked(uow, offer)
		company, err := e.sellerOf(ctx, offer)
		if err != nil {
			return 0, err
		}
		company = tracked(uow, company)

		e.reverse(uow, purchase, customer, company, offer)
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if _, err := uow.SaveChanges(ctx, op); err != nil {
		return 0, err
	}
	return count, nil
}

// =============================================================================
// LOAD HELPERS - missing and tombstoned rows are the same NotFound
// =============================================================================

func (e *Engine) loadOffer(ctx context.Context, id string, forUpdate bool) (*Offer, error) {
	offer, err := e.store.Offers().GetByID(ctx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, &ledger.NotFoundError{Entity: EntityOffer, Key: id}
	}
	return offer, nil
}

func (e *Engine) loadCustomer(ctx context.Context, id string, forUpdate bool) (*Customer, error) {
	customer, err := e.store.Customers().GetByID(ctx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, &ledger.NotFoundError{Entity: EntityCustomer, Key: id}
	}
	return customer, nil
}

func (e *Engine) loadPurchase(ctx context.Context, id string, forUpdate bool) (*Purchase, error) {
	purchase, err := e.store.Purchases().GetByID(ctx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if purchase == nil {
		return nil, &ledger.NotFoundError{Entity: EntityPurchase, Key: id}
	}
	return purchase, nil
}

// sellerOf resolves offer -> product -> owning company.
func (e *Engine) sellerOf(ctx context.Context, offer *Offer) (*Company, error) {
	product, err := e.store.Products().GetByID(ctx, offer.ProductID, false)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, &ledger.NotFoundError{Entity: EntityProduct, Key: offer.ProductID}
	}
	company, err := e.store.Companies().GetByID(ctx, product.CompanyID, true)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, &ledger.NotFoundError{Entity: EntityCompany, Key: product.CompanyID}
	}
	return company, nil
}
