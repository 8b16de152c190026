package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
	"github.com/warp/market-ledger/store/memory"
)

// seedCatalog stands up one company owning two products, each with one
// live offer, plus a category shared through join rows.
func seedCatalog(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	store.Seed(
		&market.Company{ID: "co-1", Name: "Warp Goods", Balance: decimal.Zero},
		&market.Product{ID: "prod-1", CompanyID: "co-1", Name: "Widget"},
		&market.Product{ID: "prod-2", CompanyID: "co-1", Name: "Gadget"},
		&market.Offer{
			ID: "offer-1", ProductID: "prod-1", UnitPrice: decimal.NewFromInt(2),
			TotalQuantity: 10, QuantityAvailable: 10,
			StartDateUTC:  baseTime.Add(-time.Hour),
			ExpiryDateUTC: baseTime.Add(time.Hour),
			Status:        market.OfferActive,
		},
		&market.Offer{
			ID: "offer-2", ProductID: "prod-2", UnitPrice: decimal.NewFromInt(3),
			TotalQuantity: 10, QuantityAvailable: 10,
			StartDateUTC:  baseTime.Add(-time.Hour),
			ExpiryDateUTC: baseTime.Add(time.Hour),
			Status:        market.OfferActive,
		},
		&market.Category{ID: "cat-1", Name: "Tools"},
		&market.ProductCategory{ProductID: "prod-1", CategoryID: "cat-1"},
		&market.ProductCategory{ProductID: "prod-2", CategoryID: "cat-1"},
	)
	return store
}

func TestDeleteCompany_CascadesThroughProductsAndOffers(t *testing.T) {
	// GIVEN: A company with two products, each with one live offer
	// WHEN: The company is deleted
	// THEN: All five rows are tombstoned in one commit, with one Deleted
	//       audit row for the root and Updated rows for the dependents

	store := seedCatalog(t)
	catalog := market.NewCatalog(store)
	ctx := context.Background()
	op := ledger.NewOperationContext(baseTime, "admin")

	deleted, err := catalog.DeleteCompany(ctx, op, "co-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	for _, check := range []func() bool{
		func() bool { c, _ := store.Companies().GetByID(ctx, "co-1", false); return c == nil },
		func() bool { p, _ := store.Products().GetByID(ctx, "prod-1", false); return p == nil },
		func() bool { p, _ := store.Products().GetByID(ctx, "prod-2", false); return p == nil },
		func() bool { o, _ := store.Offers().GetByID(ctx, "offer-1", false); return o == nil },
		func() bool { o, _ := store.Offers().GetByID(ctx, "offer-2", false); return o == nil },
	} {
		assert.True(t, check(), "tombstoned rows must vanish from default reads")
	}

	audits := store.AllAudits()
	require.Len(t, audits, 5, "one audit row per touched entity")

	byAction := map[ledger.ActionType]int{}
	for _, a := range audits {
		byAction[a.Action]++
	}
	assert.Equal(t, 1, byAction[ledger.ActionDeleted], "only the root reads Deleted")
	assert.Equal(t, 4, byAction[ledger.ActionUpdated], "cascaded dependents read Updated")

	trail, err := store.Audits().ListByEntity(ctx, market.EntityCompany, "co-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, ledger.ActionDeleted, trail[0].Action)
}

func TestDeleteProduct_CategorySurvives(t *testing.T) {
	// GIVEN: Two products sharing one category through join rows
	// WHEN: One product is deleted
	// THEN: Its offers tombstone, but the category and the other product
	//       are untouched

	store := seedCatalog(t)
	catalog := market.NewCatalog(store)
	ctx := context.Background()

	deleted, err := catalog.DeleteProduct(ctx, ledger.NewOperationContext(baseTime, "admin"), "prod-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	o, err := store.Offers().GetByID(ctx, "offer-1", false)
	require.NoError(t, err)
	assert.Nil(t, o)

	category, err := store.Categories().GetByID(ctx, "cat-1", false)
	require.NoError(t, err)
	require.NotNil(t, category, "join rows never propagate tombstones")

	other, err := store.Products().GetByID(ctx, "prod-2", false)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestDeleteCompany_Repeated_NotFound(t *testing.T) {
	// GIVEN: A company already tombstoned
	// WHEN: It is deleted again
	// THEN: NotFound, and no extra audit rows appear

	store := seedCatalog(t)
	catalog := market.NewCatalog(store)
	ctx := context.Background()

	_, err := catalog.DeleteCompany(ctx, ledger.NewOperationContext(baseTime, "admin"), "co-1")
	require.NoError(t, err)
	auditCount := len(store.AllAudits())

	_, err = catalog.DeleteCompany(ctx, ledger.NewOperationContext(baseTime.Add(time.Minute), "admin"), "co-1")
	assert.True(t, ledger.IsNotFound(err))
	assert.Len(t, store.AllAudits(), auditCount)
}

func TestDeleteCustomer_TombstonesPurchases(t *testing.T) {
	// GIVEN: A customer with a cancelled purchase history
	// WHEN: The customer is deleted
	// THEN: Customer and purchases tombstone together; no money moves

	store := seedCatalog(t)
	store.Seed(&market.Customer{ID: "cust-1", Name: "Ada", Balance: decimal.NewFromInt(50)})
	engine := market.NewEngine(store)
	catalog := market.NewCatalog(store)
	ctx := context.Background()

	p, err := engine.CreatePurchase(ctx, ledger.NewOperationContext(baseTime, "cust-1"), "cust-1", "offer-1", 1)
	require.NoError(t, err)
	_, err = engine.CancelPurchase(ctx, ledger.NewOperationContext(baseTime.Add(time.Minute), "cust-1"), p.ID)
	require.NoError(t, err)

	companyBefore, err := store.Companies().GetByID(ctx, "co-1", false)
	require.NoError(t, err)

	deleted, err := catalog.DeleteCustomer(ctx, ledger.NewOperationContext(baseTime.Add(time.Hour), "admin"), "cust-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	c, err := store.Customers().GetByID(ctx, "cust-1", false)
	require.NoError(t, err)
	assert.Nil(t, c)

	pGone, err := store.Purchases().GetByID(ctx, p.ID, false)
	require.NoError(t, err)
	assert.Nil(t, pGone)

	companyAfter, err := store.Companies().GetByID(ctx, "co-1", false)
	require.NoError(t, err)
	assert.True(t, companyBefore.Balance.Equal(companyAfter.Balance),
		"deleting a customer moves no money")
}

func TestDeleteCategory_LeavesProductsAlone(t *testing.T) {
	store := seedCatalog(t)
	catalog := market.NewCatalog(store)
	ctx := context.Background()

	deleted, err := catalog.DeleteCategory(ctx, ledger.NewOperationContext(baseTime, "admin"), "cat-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	p, err := store.Products().GetByID(ctx, "prod-1", false)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestCatalogDeletes_MissingUser_Unauthorized(t *testing.T) {
	store := seedCatalog(t)
	catalog := market.NewCatalog(store)
	ctx := context.Background()
	op := ledger.NewOperationContext(baseTime, "")

	_, err := catalog.DeleteCompany(ctx, op, "co-1")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = catalog.DeleteProduct(ctx, op, "prod-1")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = catalog.DeleteCategory(ctx, op, "cat-1")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}
