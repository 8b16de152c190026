/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Balances and prices are serialized as decimal strings ("66.02"), never
  floats. Clients must not round-trip money through float64.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// PURCHASES
// =============================================================================

// CreatePurchaseRequest is the body for POST /api/purchases.
type CreatePurchaseRequest struct {
	OfferID  string `json:"offer_id"`
	Quantity int64  `json:"quantity"`
}

// PurchaseDTO is the API shape of a purchase.
type PurchaseDTO struct {
	ID              string    `json:"id"`
	OfferID         string    `json:"offer_id"`
	CustomerID      string    `json:"customer_id"`
	Quantity        int64     `json:"quantity"`
	TotalPrice      string    `json:"total_price"`
	PurchaseDateUTC time.Time `json:"purchase_date_utc"`
	Status          string    `json:"status"`
}

func toPurchaseDTO(p *market.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:              p.ID,
		OfferID:         p.OfferID,
		CustomerID:      p.CustomerID,
		Quantity:        p.Quantity,
		TotalPrice:      p.TotalPrice.String(),
		PurchaseDateUTC: p.PurchaseDateUTC,
		Status:          string(p.Status),
	}
}

// CancelResultDTO reports whether a cancellation changed anything.
type CancelResultDTO struct {
	Cancelled bool `json:"cancelled"`
}

// BulkCancelResultDTO reports how many purchases a bulk operation touched.
type BulkCancelResultDTO struct {
	Cancelled int `json:"cancelled"`
}

// =============================================================================
// OFFERS
// =============================================================================

// OfferDTO is the API shape of an offer.
type OfferDTO struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	UnitPrice         string    `json:"unit_price"`
	TotalQuantity     int64     `json:"total_quantity"`
	QuantityAvailable int64     `json:"quantity_available"`
	StartDateUTC      time.Time `json:"start_date_utc"`
	ExpiryDateUTC     time.Time `json:"expiry_date_utc"`
	Status            string    `json:"status"`
}

func toOfferDTO(o *market.Offer) OfferDTO {
	return OfferDTO{
		ID:                o.ID,
		ProductID:         o.ProductID,
		UnitPrice:         o.UnitPrice.String(),
		TotalQuantity:     o.TotalQuantity,
		QuantityAvailable: o.QuantityAvailable,
		StartDateUTC:      o.StartDateUTC,
		ExpiryDateUTC:     o.ExpiryDateUTC,
		Status:            string(o.Status),
	}
}

// RefreshResultDTO reports how many offers a status refresh transitioned.
type RefreshResultDTO struct {
	Transitioned int `json:"transitioned"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO exposes a party's current balance.
type BalanceDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditLogDTO is the API shape of one audit trail row. Changes is raw
// JSON produced at write time and is passed through untouched.
type AuditLogDTO struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	EntityName string    `json:"entity_name"`
	EntityID   string    `json:"entity_id"`
	Changes    string    `json:"changes"`
	Timestamp  time.Time `json:"timestamp"`
}

func toAuditLogDTO(a ledger.AuditLog) AuditLogDTO {
	return AuditLogDTO{
		ID:         a.ID,
		UserID:     a.UserID,
		Action:     string(a.Action),
		EntityName: a.EntityName,
		EntityID:   a.EntityID,
		Changes:    a.Changes,
		Timestamp:  a.Timestamp,
	}
}
