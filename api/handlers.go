/*
handlers.go - HTTP API handlers for the marketplace consistency core

PURPOSE:
  Exposes the purchase lifecycle engine and catalog administration via
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Purchases:
    POST   /api/purchases                          Create purchase
    GET    /api/purchases/{id}                     Get purchase
    DELETE /api/purchases/{id}                     Cancel purchase (window applies)

  Offers:
    GET    /api/offers/{id}                        Get offer
    POST   /api/offers/{id}/withdraw               Withdraw offer, cancel its purchases
    POST   /api/offers/refresh                     Apply date-driven status transitions

  Customers:
    GET    /api/customers/{id}/balance             Current balance
    POST   /api/customers/{id}/cancel-purchases    Cancel every active purchase
    DELETE /api/customers/{id}                     Soft-delete (cascades)

  Companies:
    GET    /api/companies/{id}/balance             Current balance
    DELETE /api/companies/{id}                     Soft-delete (cascades)

  Catalog:
    DELETE /api/products/{id}                      Soft-delete (cascades)
    DELETE /api/categories/{id}                    Soft-delete (links untouched)

  Audit:
    GET    /api/audit/{entity}/{id}                Audit trail for one entity

IDENTITY:
  The acting user arrives in the X-User-ID header. There is no session or
  token layer here; an upstream gateway is expected to authenticate and
  inject the header. A missing header maps to 401.

ERROR HANDLING:
  Domain errors are translated to HTTP status codes in writeDomainError:
  - 400: Invalid quantity, insufficient balance or quantity
  - 401: Missing user identity
  - 403: Acting on another customer's purchase
  - 404: Unknown or tombstoned entity
  - 409: Invalid state, expired window, concurrent modification
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - market/engine.go: Domain logic the handlers delegate to
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
)

// userHeader carries the acting user's identity, injected upstream.
const userHeader = "X-User-ID"

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   market.Store
	Engine  *market.Engine
	Catalog *market.Catalog

	// Now is the clock used to build operation contexts. Tests override
	// it to pin time-window behavior.
	Now func() time.Time
}

// NewHandler creates a new handler over the given store.
func NewHandler(store market.Store) *Handler {
	return &Handler{
		Store:   store,
		Engine:  market.NewEngine(store),
		Catalog: market.NewCatalog(store),
		Now:     time.Now,
	}
}

// opContext builds the explicit operation context for one request.
func (h *Handler) opContext(r *http.Request) ledger.OperationContext {
	return ledger.NewOperationContext(h.Now(), r.Header.Get(userHeader))
}

// =============================================================================
// PURCHASES
// =============================================================================

// CreatePurchase handles POST /api/purchases. The buyer is the acting
// user from X-User-ID.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	op := h.opContext(r)
	purchase, err := h.Engine.CreatePurchase(r.Context(), op, op.UserID, req.OfferID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseDTO(purchase))
}

// GetPurchase handles GET /api/purchases/{id}.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	purchase, err := h.Store.Purchases().GetByID(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get purchase", err)
		return
	}
	if purchase == nil {
		writeError(w, http.StatusNotFound, "Purchase not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseDTO(purchase))
}

// CancelPurchase handles DELETE /api/purchases/{id}. Only the purchase
// owner may cancel, and only inside the cancellation window.
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := h.Engine.CancelPurchase(r.Context(), h.opContext(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResultDTO{Cancelled: cancelled})
}

// =============================================================================
// OFFERS
// =============================================================================

// GetOffer handles GET /api/offers/{id}.
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offer, err := h.Store.Offers().GetByID(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get offer", err)
		return
	}
	if offer == nil {
		writeError(w, http.StatusNotFound, "Offer not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toOfferDTO(offer))
}

// WithdrawOffer handles POST /api/offers/{id}/withdraw. Cancels every
// active purchase against the offer, then tombstones it.
func (h *Handler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	withdrawn, err := h.Engine.WithdrawOffer(r.Context(), h.opContext(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResultDTO{Cancelled: withdrawn})
}

// RefreshOffers handles POST /api/offers/refresh. The scheduler drives
// the same transition; this endpoint exists for manual runs.
func (h *Handler) RefreshOffers(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.RefreshOfferStatuses(r.Context(), h.opContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResultDTO{Transitioned: n})
}

// =============================================================================
// CUSTOMERS AND COMPANIES
// =============================================================================

// GetCustomerBalance handles GET /api/customers/{id}/balance.
func (h *Handler) GetCustomerBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	customer, err := h.Store.Customers().GetByID(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		ID:      customer.ID,
		Name:    customer.Name,
		Balance: customer.Balance.String(),
	})
}

// GetCompanyBalance handles GET /api/companies/{id}/balance.
func (h *Handler) GetCompanyBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	company, err := h.Store.Companies().GetByID(r.Context(), id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get company", err)
		return
	}
	if company == nil {
		writeError(w, http.StatusNotFound, "Company not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		ID:      company.ID,
		Name:    company.Name,
		Balance: company.Balance.String(),
	})
}

// CancelCustomerPurchases handles POST /api/customers/{id}/cancel-purchases.
func (h *Handler) CancelCustomerPurchases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.Engine.CancelAllPurchasesByCustomer(r.Context(), h.opContext(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BulkCancelResultDTO{Cancelled: n})
}

// =============================================================================
// CATALOG DELETES
// =============================================================================

// DeleteCompany handles DELETE /api/companies/{id}.
func (h *Handler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, h.Catalog.DeleteCompany)
}

// DeleteProduct handles DELETE /api/products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, h.Catalog.DeleteProduct)
}

// DeleteCategory handles DELETE /api/categories/{id}.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, h.Catalog.DeleteCategory)
}

// DeleteCustomer handles DELETE /api/customers/{id}.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, h.Catalog.DeleteCustomer)
}

type deleteFunc func(ctx context.Context, op ledger.OperationContext, id string) (bool, error)

func (h *Handler) deleteEntity(w http.ResponseWriter, r *http.Request, del deleteFunc) {
	id := chi.URLParam(r, "id")

	deleted, err := del(r.Context(), h.opContext(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Nothing to delete", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAuditTrail handles GET /api/audit/{entity}/{id}.
func (h *Handler) ListAuditTrail(w http.ResponseWriter, r *http.Request) {
	entityName := chi.URLParam(r, "entity")
	entityID := chi.URLParam(r, "id")

	logs, err := h.Store.Audits().ListByEntity(r.Context(), entityName, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit trail", err)
		return
	}

	dtos := make([]AuditLogDTO, 0, len(logs))
	for _, a := range logs {
		dtos = append(dtos, toAuditLogDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to an HTTP status. Client errors
// echo the domain message; anything unrecognized is a 500 with the
// detail withheld from the body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Missing user identity", nil)
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientQuantity):
		writeError(w, http.StatusBadRequest, "Invalid purchase", err)
	case errors.Is(err, ledger.ErrInvalidOperation):
		writeError(w, http.StatusConflict, "Invalid operation", err)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "Concurrent modification, retry", err)
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Already exists", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
