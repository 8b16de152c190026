/*
Package market implements the marketplace consistency core.

PURPOSE:
  A customer buys a quantity of a time-bounded discount offer. That single
  action must atomically debit the customer's balance, credit the selling
  company's balance, and decrement the offer's available quantity, with a
  bounded-time right of cancellation that reverses all three effects.

KEY CONCEPTS IN THIS FILE (types.go):
  - Offer: time-bounded discount with a finite quantity
  - Purchase: a frozen-price claim on an offer (Active/Cancelled/Delivered)
  - Customer, Company: the two balance holders money moves between
  - Product, Category: catalog rows the cascade walks through

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never floats
  2. Frozen prices: totalPrice is computed once at purchase time
  3. Soft deletes: every row carries tombstone bookkeeping
  4. Optimistic concurrency: offers carry a version column so two
     concurrent purchases cannot oversell

SEE ALSO:
  - engine.go: the purchase lifecycle state machine
  - catalog.go: soft-delete operations over the catalog
  - graph.go: the declared ownership graph the cascade walks
*/
package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/market-ledger/ledger"
)

// Entity names double as table names.
const (
	EntityCustomer        = "customers"
	EntityCompany         = "companies"
	EntityProduct         = "products"
	EntityOffer           = "offers"
	EntityPurchase        = "purchases"
	EntityCategory        = "categories"
	EntityProductCategory = "product_categories"
)

// =============================================================================
// OFFER - Time-bounded discount with finite quantity
// =============================================================================

type OfferStatus string

const (
	OfferIncoming  OfferStatus = "Incoming"
	OfferActive    OfferStatus = "Active"
	OfferArchived  OfferStatus = "Archived"
	OfferCancelled OfferStatus = "Cancelled"
)

// Offer invariants, enforced by the engine at every commit:
//   - 0 <= QuantityAvailable <= TotalQuantity
//   - StartDateUTC < ExpiryDateUTC
//
// Quantity and status are mutated only by the lifecycle engine and the
// status refresh job; the offer is tombstoned, never removed.
type Offer struct {
	ID                string
	ProductID         string
	UnitPrice         decimal.Decimal
	TotalQuantity     int64
	QuantityAvailable int64
	StartDateUTC      time.Time
	ExpiryDateUTC     time.Time
	Status            OfferStatus

	// Version backs the optimistic concurrency check on commit. Two
	// purchases racing on the same offer cannot both win.
	Version int64

	ledger.Timestamps
}

func (o *Offer) EntityName() string { return EntityOffer }
func (o *Offer) EntityKey() string  { return o.ID }

func (o *Offer) Fields() map[string]any {
	return o.StampFields(map[string]any{
		"id":                 o.ID,
		"product_id":         o.ProductID,
		"unit_price":         o.UnitPrice,
		"total_quantity":     o.TotalQuantity,
		"quantity_available": o.QuantityAvailable,
		"start_date_utc":     o.StartDateUTC,
		"expiry_date_utc":    o.ExpiryDateUTC,
		"status":             string(o.Status),
	})
}

// Live reports whether purchases can currently be created against the offer.
func (o *Offer) Live() bool {
	return !o.IsDeleted() && o.Status == OfferActive
}

// =============================================================================
// PURCHASE - Frozen-price claim on an offer
// =============================================================================

type PurchaseStatus string

const (
	PurchaseActive    PurchaseStatus = "Active"
	PurchaseCancelled PurchaseStatus = "Cancelled"
	PurchaseDelivered PurchaseStatus = "Delivered"
)

// Purchase records quantity and total price at creation time. TotalPrice is
// frozen: it is never recomputed from the offer's unit price afterwards.
// Transitions: Active -> Cancelled and Active -> Delivered, both terminal.
type Purchase struct {
	ID              string
	OfferID         string
	CustomerID      string
	Quantity        int64
	TotalPrice      decimal.Decimal
	PurchaseDateUTC time.Time
	Status          PurchaseStatus

	ledger.Timestamps
}

func (p *Purchase) EntityName() string { return EntityPurchase }
func (p *Purchase) EntityKey() string  { return p.ID }

func (p *Purchase) Fields() map[string]any {
	return p.StampFields(map[string]any{
		"id":                p.ID,
		"offer_id":          p.OfferID,
		"customer_id":       p.CustomerID,
		"quantity":          p.Quantity,
		"total_price":       p.TotalPrice,
		"purchase_date_utc": p.PurchaseDateUTC,
		"status":            string(p.Status),
	})
}

// =============================================================================
// BALANCE HOLDERS - Customer and Company
// =============================================================================

// Customer holds the buying side of every money movement. The engine
// rejects any mutation that would drive Balance negative.
type Customer struct {
	ID      string
	Name    string
	Balance decimal.Decimal

	ledger.Timestamps
}

func (c *Customer) EntityName() string { return EntityCustomer }
func (c *Customer) EntityKey() string  { return c.ID }

func (c *Customer) Fields() map[string]any {
	return c.StampFields(map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"balance": c.Balance,
	})
}

// Company holds the selling side. One company owns many products.
type Company struct {
	ID      string
	Name    string
	Balance decimal.Decimal

	ledger.Timestamps
}

func (c *Company) EntityName() string { return EntityCompany }
func (c *Company) EntityKey() string  { return c.ID }

func (c *Company) Fields() map[string]any {
	return c.StampFields(map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"balance": c.Balance,
	})
}

// =============================================================================
// CATALOG - Product, Category, and their join
// =============================================================================

type Product struct {
	ID        string
	CompanyID string
	Name      string

	ledger.Timestamps
}

func (p *Product) EntityName() string { return EntityProduct }
func (p *Product) EntityKey() string  { return p.ID }

func (p *Product) Fields() map[string]any {
	return p.StampFields(map[string]any{
		"id":         p.ID,
		"company_id": p.CompanyID,
		"name":       p.Name,
	})
}

type Category struct {
	ID   string
	Name string

	ledger.Timestamps
}

func (c *Category) EntityName() string { return EntityCategory }
func (c *Category) EntityKey() string  { return c.ID }

func (c *Category) Fields() map[string]any {
	return c.StampFields(map[string]any{
		"id":   c.ID,
		"name": c.Name,
	})
}

// ProductCategory is a pure many-to-many link. It is registered as a join
// entity, so tombstones never propagate through it: deleting a product
// must not tombstone a category shared with other products.
type ProductCategory struct {
	ProductID  string
	CategoryID string

	ledger.Timestamps
}

func (pc *ProductCategory) EntityName() string { return EntityProductCategory }
func (pc *ProductCategory) EntityKey() string  { return pc.ProductID + "/" + pc.CategoryID }

func (pc *ProductCategory) Fields() map[string]any {
	return pc.StampFields(map[string]any{
		"product_id":  pc.ProductID,
		"category_id": pc.CategoryID,
	})
}
