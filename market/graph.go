package market

import (
	"context"

	"github.com/warp/market-ledger/ledger"
)

// BuildOwnershipGraph declares the forward ownership edges the cascade
// processor walks. Edges only run parent to child, where the foreign key
// lives on the child; nothing cascades upward.
//
//	company  -> products
//	product  -> offers
//	product  -> product_categories (join, excluded from traversal)
//	offer    -> purchases
//	customer -> purchases
func BuildOwnershipGraph(store Store) *ledger.OwnershipGraph {
	g := ledger.NewOwnershipGraph()

	g.Own(EntityCompany, EntityProduct, func(ctx context.Context, companyID string) ([]ledger.Entity, error) {
		products, err := store.Products().ListByCompany(ctx, companyID)
		if err != nil {
			return nil, err
		}
		return asEntities(products), nil
	})

	g.Own(EntityProduct, EntityOffer, func(ctx context.Context, productID string) ([]ledger.Entity, error) {
		offers, err := store.Offers().ListByProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		return asEntities(offers), nil
	})

	g.Own(EntityProduct, EntityProductCategory, func(ctx context.Context, productID string) ([]ledger.Entity, error) {
		links, err := store.ProductCategories().ListByProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		return asEntities(links), nil
	})
	g.MarkJoin(EntityProductCategory)

	g.Own(EntityOffer, EntityPurchase, func(ctx context.Context, offerID string) ([]ledger.Entity, error) {
		purchases, err := store.Purchases().ListByOffer(ctx, offerID)
		if err != nil {
			return nil, err
		}
		return asEntities(purchases), nil
	})

	g.Own(EntityCustomer, EntityPurchase, func(ctx context.Context, customerID string) ([]ledger.Entity, error) {
		purchases, err := store.Purchases().ListByCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		return asEntities(purchases), nil
	})

	return g
}

func asEntities[T ledger.Entity](items []T) []ledger.Entity {
	entities := make([]ledger.Entity, len(items))
	for i, item := range items {
		entities[i] = item
	}
	return entities
}
