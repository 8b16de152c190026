/*
offers.go - Offer status refresh and administrative withdrawal

PURPOSE:
  Offers are time-bounded: Incoming before StartDateUTC, Active in between,
  Archived after ExpiryDateUTC. A scheduled job drives RefreshOfferStatuses
  to flip statuses as wall-clock time passes. WithdrawOffer is the
  administrative kill switch: it cancels the offer, reverses every Active
  purchase (balances only), and tombstones the offer through the cascade.
*/
package market

import (
	"context"

	"github.com/warp/market-ledger/ledger"
)

// RefreshOfferStatuses flips Incoming offers whose start date has passed
// to Active, and Active offers whose expiry has passed to Archived.
// Returns the number of offers whose status changed.
func (e *Engine) RefreshOfferStatuses(ctx context.Context, op ledger.OperationContext) (int, error) {
	uow := e.newUnitOfWork()
	changed := 0

	incoming, err := e.store.Offers().ListByStatus(ctx, OfferIncoming)
	if err != nil {
		return 0, err
	}
	for _, offer := range incoming {
		if offer.StartDateUTC.After(op.Now) {
			continue
		}
		offer = tracked(uow, offer)
		if op.Now.Before(offer.ExpiryDateUTC) {
			offer.Status = OfferActive
		} else {
			// Start and expiry both in the past: straight to Archived.
			offer.Status = OfferArchived
		}
		uow.MarkDirty(offer)
		changed++
	}

	active, err := e.store.Offers().ListByStatus(ctx, OfferActive)
	if err != nil {
		return 0, err
	}
	for _, offer := range active {
		if offer.ExpiryDateUTC.After(op.Now) {
			continue
		}
		offer = tracked(uow, offer)
		offer.Status = OfferArchived
		uow.MarkDirty(offer)
		changed++
	}

	if changed == 0 {
		return 0, nil
	}
	if _, err := uow.SaveChanges(ctx, op); err != nil {
		return 0, err
	}
	return changed, nil
}

// WithdrawOffer cancels the offer and everything hanging off it in one
// transaction: every Active purchase is reversed (balances only, the
// asymmetry is intentional), the offer's status becomes Cancelled, and
// the offer row is tombstoned via the cascade. Returns true when rows
// were affected.
func (e *Engine) WithdrawOffer(ctx context.Context, op ledger.OperationContext, offerID string) (bool, error) {
	if op.UserID == "" {
		return false, ledger.ErrUnauthorized
	}

	offer, err := e.loadOffer(ctx, offerID, true)
	if err != nil {
		return false, err
	}
	if offer.Status == OfferCancelled {
		return false, &ledger.StateError{Entity: EntityOffer, Key: offer.ID, State: string(offer.Status)}
	}

	uow := e.newUnitOfWork()
	offer = tracked(uow, offer)

	if _, err := e.cancelAllForOffer(ctx, uow, offer); err != nil {
		return false, err
	}

	offer.Status = OfferCancelled
	uow.MarkDeleted(offer)

	rows, err := uow.SaveChanges(ctx, op)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
