/*
Package memory provides an in-memory market.Store for tests and dev.

It mirrors the SQLite store's semantics where they matter to the core:
default reads filter tombstoned rows, Flush is all-or-nothing, and offer
updates enforce the optimistic version check.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
)

type Store struct {
	mu sync.RWMutex

	customers  map[string]market.Customer
	companies  map[string]market.Company
	products   map[string]market.Product
	offers     map[string]market.Offer
	purchases  map[string]market.Purchase
	categories map[string]market.Category
	links      map[string]market.ProductCategory
	audits     []ledger.AuditLog
}

func New() *Store {
	return &Store{
		customers:  make(map[string]market.Customer),
		companies:  make(map[string]market.Company),
		products:   make(map[string]market.Product),
		offers:     make(map[string]market.Offer),
		purchases:  make(map[string]market.Purchase),
		categories: make(map[string]market.Category),
		links:      make(map[string]market.ProductCategory),
	}
}

// Seed loads rows directly, bypassing the unit of work. Test setup only.
func (s *Store) Seed(entities ...ledger.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.put(e)
	}
}

func (s *Store) put(e ledger.Entity) {
	switch v := e.(type) {
	case *market.Customer:
		s.customers[v.ID] = *v
	case *market.Company:
		s.companies[v.ID] = *v
	case *market.Product:
		s.products[v.ID] = *v
	case *market.Offer:
		s.offers[v.ID] = *v
	case *market.Purchase:
		s.purchases[v.ID] = *v
	case *market.Category:
		s.categories[v.ID] = *v
	case *market.ProductCategory:
		s.links[v.EntityKey()] = *v
	}
}

func (s *Store) exists(e ledger.Entity) bool {
	switch v := e.(type) {
	case *market.Customer:
		_, ok := s.customers[v.ID]
		return ok
	case *market.Company:
		_, ok := s.companies[v.ID]
		return ok
	case *market.Product:
		_, ok := s.products[v.ID]
		return ok
	case *market.Offer:
		_, ok := s.offers[v.ID]
		return ok
	case *market.Purchase:
		_, ok := s.purchases[v.ID]
		return ok
	case *market.Category:
		_, ok := s.categories[v.ID]
		return ok
	case *market.ProductCategory:
		_, ok := s.links[v.EntityKey()]
		return ok
	}
	return false
}

// =============================================================================
// FLUSHER - all-or-nothing commit
// =============================================================================

// Flush validates every entry before applying any, so a version conflict
// or duplicate insert leaves the store untouched.
func (s *Store) Flush(ctx context.Context, entries []*ledger.Entry, audits []ledger.AuditLog) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		switch entry.State {
		case ledger.StateAdded:
			if s.exists(entry.Entity) {
				return 0, ledger.ErrAlreadyExists
			}
		case ledger.StateModified:
			if offer, ok := entry.Entity.(*market.Offer); ok {
				stored, found := s.offers[offer.ID]
				if !found || stored.Version != offer.Version {
					return 0, ledger.ErrConcurrentModification
				}
			}
		case ledger.StateDeleted:
			return 0, fmt.Errorf("memory: physical delete reached the store for %s %q",
				entry.Entity.EntityName(), entry.Entity.EntityKey())
		}
	}

	rows := 0
	for _, entry := range entries {
		switch entry.State {
		case ledger.StateAdded, ledger.StateModified:
			if offer, ok := entry.Entity.(*market.Offer); ok && entry.State == ledger.StateModified {
				offer.Version++
			}
			s.put(entry.Entity)
			rows++
		}
	}

	s.audits = append(s.audits, audits...)
	return rows, nil
}

// =============================================================================
// REPOSITORIES
// =============================================================================

func (s *Store) Customers() market.CustomerRepository                { return customerRepo{s} }
func (s *Store) Companies() market.CompanyRepository                 { return companyRepo{s} }
func (s *Store) Products() market.ProductRepository                  { return productRepo{s} }
func (s *Store) Offers() market.OfferRepository                      { return offerRepo{s} }
func (s *Store) Purchases() market.PurchaseRepository                { return purchaseRepo{s} }
func (s *Store) Categories() market.CategoryRepository               { return categoryRepo{s} }
func (s *Store) ProductCategories() market.ProductCategoryRepository { return linkRepo{s} }
func (s *Store) Audits() market.AuditReader                          { return auditRepo{s} }

type customerRepo struct{ s *Store }

func (r customerRepo) GetByID(_ context.Context, id string, _ bool) (*market.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.customers[id]; ok && !c.IsDeleted() {
		clone := c
		return &clone, nil
	}
	return nil, nil
}

type companyRepo struct{ s *Store }

func (r companyRepo) GetByID(_ context.Context, id string, _ bool) (*market.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.companies[id]; ok && !c.IsDeleted() {
		clone := c
		return &clone, nil
	}
	return nil, nil
}

type productRepo struct{ s *Store }

func (r productRepo) GetByID(_ context.Context, id string, _ bool) (*market.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.products[id]; ok && !p.IsDeleted() {
		clone := p
		return &clone, nil
	}
	return nil, nil
}

func (r productRepo) ListByCompany(_ context.Context, companyID string) ([]*market.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.Product
	for _, p := range r.s.products {
		if p.CompanyID == companyID && !p.IsDeleted() {
			clone := p
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

type offerRepo struct{ s *Store }

func (r offerRepo) GetByID(_ context.Context, id string, _ bool) (*market.Offer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if o, ok := r.s.offers[id]; ok && !o.IsDeleted() {
		clone := o
		return &clone, nil
	}
	return nil, nil
}

func (r offerRepo) ListByProduct(_ context.Context, productID string) ([]*market.Offer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.Offer
	for _, o := range r.s.offers {
		if o.ProductID == productID && !o.IsDeleted() {
			clone := o
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

func (r offerRepo) ListByStatus(_ context.Context, status market.OfferStatus) ([]*market.Offer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.Offer
	for _, o := range r.s.offers {
		if o.Status == status && !o.IsDeleted() {
			clone := o
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

type purchaseRepo struct{ s *Store }

func (r purchaseRepo) GetByID(_ context.Context, id string, _ bool) (*market.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.purchases[id]; ok && !p.IsDeleted() {
		clone := p
		return &clone, nil
	}
	return nil, nil
}

func (r purchaseRepo) ListByOffer(_ context.Context, offerID string) ([]*market.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.Purchase
	for _, p := range r.s.purchases {
		if p.OfferID == offerID && !p.IsDeleted() {
			clone := p
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

func (r purchaseRepo) ListByCustomer(_ context.Context, customerID string) ([]*market.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.Purchase
	for _, p := range r.s.purchases {
		if p.CustomerID == customerID && !p.IsDeleted() {
			clone := p
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

type categoryRepo struct{ s *Store }

func (r categoryRepo) GetByID(_ context.Context, id string, _ bool) (*market.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.categories[id]; ok && !c.IsDeleted() {
		clone := c
		return &clone, nil
	}
	return nil, nil
}

type linkRepo struct{ s *Store }

func (r linkRepo) ListByProduct(_ context.Context, productID string) ([]*market.ProductCategory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*market.ProductCategory
	for _, l := range r.s.links {
		if l.ProductID == productID && !l.IsDeleted() {
			clone := l
			out = append(out, &clone)
		}
	}
	sortByKey(out)
	return out, nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) ListByEntity(_ context.Context, entityName, entityID string) ([]ledger.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []ledger.AuditLog
	for _, a := range r.s.audits {
		if a.EntityName == entityName && a.EntityID == entityID {
			out = append(out, a)
		}
	}
	return out, nil
}

// AllAudits returns every audit row, oldest first. Test helper.
func (s *Store) AllAudits() []ledger.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.AuditLog, len(s.audits))
	copy(out, s.audits)
	return out
}

// sortByKey keeps map iteration order out of the results.
func sortByKey[T ledger.Entity](items []T) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].EntityKey() < items[j].EntityKey()
	})
}
