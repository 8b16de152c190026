/*
Package sqlite provides the SQLite-backed implementation of market.Store.

PURPOSE:
  Implements every repository plus the ledger.Flusher commit boundary
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

SOFT-DELETE LAYOUT:
  Every entity table carries created_at_utc, updated_at_utc (nullable)
  and deleted_at_utc (nullable). Default reads filter
  deleted_at_utc IS NULL. Tombstoned rows are physically retained and
  remain reachable through the audit trail.

OPTIMISTIC CONCURRENCY:
  offers carries a version column. Updates assert the loaded version and
  bump it; zero rows affected surfaces ledger.ErrConcurrentModification
  and the whole transaction rolls back. This closes the read-then-write
  oversell race two concurrent purchases would otherwise hit.

FLUSH CONTRACT:
  Flush commits one processed unit of work: entity inserts and updates
  plus the staged audit rows, inside a single database transaction.
  audit_logs is append-only:
  - No UPDATE statements on audit_logs
  - No DELETE statements on audit_logs

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/market.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := market.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - market/repository.go: Interface definitions
  - store/memory: In-memory implementation used by the engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
)

// Store implements market.Store over SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT
	);

	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_products_company
		ON products(company_id) WHERE deleted_at_utc IS NULL;

	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_quantity INTEGER NOT NULL,
		quantity_available INTEGER NOT NULL,
		start_date_utc TEXT NOT NULL,
		expiry_date_utc TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT,
		CHECK (quantity_available >= 0),
		CHECK (quantity_available <= total_quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_offers_product
		ON offers(product_id) WHERE deleted_at_utc IS NULL;
	CREATE INDEX IF NOT EXISTS idx_offers_status
		ON offers(status) WHERE deleted_at_utc IS NULL;

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		total_price TEXT NOT NULL,
		purchase_date_utc TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_offer
		ON purchases(offer_id) WHERE deleted_at_utc IS NULL;
	CREATE INDEX IF NOT EXISTS idx_purchases_customer
		ON purchases(customer_id) WHERE deleted_at_utc IS NULL;

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT
	);

	CREATE TABLE IF NOT EXISTS product_categories (
		product_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		created_at_utc TEXT NOT NULL,
		updated_at_utc TEXT,
		deleted_at_utc TEXT,
		PRIMARY KEY (product_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		changes TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_logs(entity_name, entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FLUSHER - one physical transaction per unit of work
// =============================================================================

// Flush writes a processed unit of work atomically: entity inserts and
// updates plus the staged audit rows. Returns the number of entity rows
// affected; audit rows are not counted.
func (s *Store) Flush(ctx context.Context, entries []*ledger.Entry, audits []ledger.AuditLog) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows := 0
	for _, entry := range entries {
		switch entry.State {
		case ledger.StateUnchanged:
			continue
		case ledger.StateDeleted:
			// The cascade pass rewrites every delete into a tombstone
			// update before commit. A delete reaching the store is a
			// sequencing bug, not a request we honor.
			return 0, fmt.Errorf("physical delete reached the store for %s %q",
				entry.Entity.EntityName(), entry.Entity.EntityKey())
		}

		n, err := s.flushEntity(ctx, tx, entry)
		if err != nil {
			return 0, err
		}
		rows += n
	}

	for _, a := range audits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_logs (id, user_id, action_type, entity_name, entity_id, changes, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.UserID, string(a.Action), a.EntityName, a.EntityID, a.Changes,
			formatTime(a.Timestamp),
		); err != nil {
			return 0, fmt.Errorf("failed to append audit row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return rows, nil
}

func (s *Store) flushEntity(ctx context.Context, tx *sql.Tx, entry *ledger.Entry) (int, error) {
	insert := entry.State == ledger.StateAdded

	var (
		res sql.Result
		err error
	)

	switch e := entry.Entity.(type) {
	case *market.Customer:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO customers (id, name, balance, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, e.Name, e.Balance.String(),
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE customers SET name = ?, balance = ?, updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ?`,
				e.Name, e.Balance.String(), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID)
		}

	case *market.Company:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO companies (id, name, balance, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, e.Name, e.Balance.String(),
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE companies SET name = ?, balance = ?, updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ?`,
				e.Name, e.Balance.String(), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID)
		}

	case *market.Product:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO products (id, company_id, name, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, e.CompanyID, e.Name,
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE products SET company_id = ?, name = ?, updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ?`,
				e.CompanyID, e.Name, nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID)
		}

	case *market.Offer:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO offers (id, product_id, unit_price, total_quantity, quantity_available,
					start_date_utc, expiry_date_utc, status, version, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.ProductID, e.UnitPrice.String(), e.TotalQuantity, e.QuantityAvailable,
				formatTime(e.StartDateUTC), formatTime(e.ExpiryDateUTC), string(e.Status), e.Version,
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			// Optimistic concurrency: assert the loaded version, bump it.
			res, err = tx.ExecContext(ctx, `
				UPDATE offers SET product_id = ?, unit_price = ?, total_quantity = ?, quantity_available = ?,
					start_date_utc = ?, expiry_date_utc = ?, status = ?, version = version + 1,
					updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ? AND version = ?`,
				e.ProductID, e.UnitPrice.String(), e.TotalQuantity, e.QuantityAvailable,
				formatTime(e.StartDateUTC), formatTime(e.ExpiryDateUTC), string(e.Status),
				nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID, e.Version)
			if err == nil {
				n, raErr := res.RowsAffected()
				if raErr != nil {
					return 0, raErr
				}
				if n == 0 {
					return 0, ledger.ErrConcurrentModification
				}
			}
		}

	case *market.Purchase:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO purchases (id, offer_id, customer_id, quantity, total_price,
					purchase_date_utc, status, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.OfferID, e.CustomerID, e.Quantity, e.TotalPrice.String(),
				formatTime(e.PurchaseDateUTC), string(e.Status),
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE purchases SET status = ?, updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ?`,
				string(e.Status), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID)
		}

	case *market.Category:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO categories (id, name, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?)`,
				e.ID, e.Name, formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE categories SET name = ?, updated_at_utc = ?, deleted_at_utc = ?
				WHERE id = ?`,
				e.Name, nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ID)
		}

	case *market.ProductCategory:
		if insert {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO product_categories (product_id, category_id, created_at_utc, updated_at_utc, deleted_at_utc)
				VALUES (?, ?, ?, ?, ?)`,
				e.ProductID, e.CategoryID,
				formatTime(e.CreatedAtUTC), nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE product_categories SET updated_at_utc = ?, deleted_at_utc = ?
				WHERE product_id = ? AND category_id = ?`,
				nullTime(e.UpdatedAtUTC), nullTime(e.DeletedAtUTC), e.ProductID, e.CategoryID)
		}

	default:
		return 0, fmt.Errorf("unknown entity type %q", entry.Entity.EntityName())
	}

	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ledger.ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to flush %s %q: %w",
			entry.Entity.EntityName(), entry.Entity.EntityKey(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
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

func (r customerRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, created_at_utc, updated_at_utc, deleted_at_utc
		FROM customers WHERE id = ? AND deleted_at_utc IS NULL`, id)

	var (
		c       market.Customer
		balance string
	)
	err := row.Scan(&c.ID, &c.Name, &balance,
		timeScanner(&c.CreatedAtUTC), nullTimeScanner(&c.UpdatedAtUTC), nullTimeScanner(&c.DeletedAtUTC))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}
	if c.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	return &c, nil
}

type companyRepo struct{ s *Store }

func (r companyRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, created_at_utc, updated_at_utc, deleted_at_utc
		FROM companies WHERE id = ? AND deleted_at_utc IS NULL`, id)

	var (
		c       market.Company
		balance string
	)
	err := row.Scan(&c.ID, &c.Name, &balance,
		timeScanner(&c.CreatedAtUTC), nullTimeScanner(&c.UpdatedAtUTC), nullTimeScanner(&c.DeletedAtUTC))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan company: %w", err)
	}
	if c.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	return &c, nil
}

type productRepo struct{ s *Store }

const productColumns = `id, company_id, name, created_at_utc, updated_at_utc, deleted_at_utc`

func (r productRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ? AND deleted_at_utc IS NULL`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r productRepo) ListByCompany(ctx context.Context, companyID string) ([]*market.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE company_id = ? AND deleted_at_utc IS NULL ORDER BY id`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProduct(row scannable) (*market.Product, error) {
	var p market.Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name,
		timeScanner(&p.CreatedAtUTC), nullTimeScanner(&p.UpdatedAtUTC), nullTimeScanner(&p.DeletedAtUTC))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type offerRepo struct{ s *Store }

const offerColumns = `id, product_id, unit_price, total_quantity, quantity_available,
	start_date_utc, expiry_date_utc, status, version, created_at_utc, updated_at_utc, deleted_at_utc`

func (r offerRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Offer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = ? AND deleted_at_utc IS NULL`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (r offerRepo) ListByProduct(ctx context.Context, productID string) ([]*market.Offer, error) {
	return r.list(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE product_id = ? AND deleted_at_utc IS NULL ORDER BY id`,
		productID)
}

func (r offerRepo) ListByStatus(ctx context.Context, status market.OfferStatus) ([]*market.Offer, error) {
	return r.list(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE status = ? AND deleted_at_utc IS NULL ORDER BY id`,
		string(status))
}

func (r offerRepo) list(ctx context.Context, query string, args ...any) ([]*market.Offer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffer(row scannable) (*market.Offer, error) {
	var (
		o     market.Offer
		price string
	)
	err := row.Scan(&o.ID, &o.ProductID, &price, &o.TotalQuantity, &o.QuantityAvailable,
		timeScanner(&o.StartDateUTC), timeScanner(&o.ExpiryDateUTC), &o.Status, &o.Version,
		timeScanner(&o.CreatedAtUTC), nullTimeScanner(&o.UpdatedAtUTC), nullTimeScanner(&o.DeletedAtUTC))
	if err != nil {
		return nil, err
	}
	if o.UnitPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &o, nil
}

type purchaseRepo struct{ s *Store }

const purchaseColumns = `id, offer_id, customer_id, quantity, total_price,
	purchase_date_utc, status, created_at_utc, updated_at_utc, deleted_at_utc`

func (r purchaseRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = ? AND deleted_at_utc IS NULL`, id)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r purchaseRepo) ListByOffer(ctx context.Context, offerID string) ([]*market.Purchase, error) {
	return r.list(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE offer_id = ? AND deleted_at_utc IS NULL ORDER BY id`,
		offerID)
}

func (r purchaseRepo) ListByCustomer(ctx context.Context, customerID string) ([]*market.Purchase, error) {
	return r.list(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE customer_id = ? AND deleted_at_utc IS NULL ORDER BY id`,
		customerID)
}

func (r purchaseRepo) list(ctx context.Context, query string, args ...any) ([]*market.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(row scannable) (*market.Purchase, error) {
	var (
		p     market.Purchase
		price string
	)
	err := row.Scan(&p.ID, &p.OfferID, &p.CustomerID, &p.Quantity, &price,
		timeScanner(&p.PurchaseDateUTC), &p.Status,
		timeScanner(&p.CreatedAtUTC), nullTimeScanner(&p.UpdatedAtUTC), nullTimeScanner(&p.DeletedAtUTC))
	if err != nil {
		return nil, err
	}
	if p.TotalPrice, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return &p, nil
}

type categoryRepo struct{ s *Store }

func (r categoryRepo) GetByID(ctx context.Context, id string, _ bool) (*market.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at_utc, updated_at_utc, deleted_at_utc
		FROM categories WHERE id = ? AND deleted_at_utc IS NULL`, id)

	var c market.Category
	err := row.Scan(&c.ID, &c.Name,
		timeScanner(&c.CreatedAtUTC), nullTimeScanner(&c.UpdatedAtUTC), nullTimeScanner(&c.DeletedAtUTC))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}

type linkRepo struct{ s *Store }

func (r linkRepo) ListByProduct(ctx context.Context, productID string) ([]*market.ProductCategory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT product_id, category_id, created_at_utc, updated_at_utc, deleted_at_utc
		FROM product_categories WHERE product_id = ? AND deleted_at_utc IS NULL ORDER BY category_id`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.ProductCategory
	for rows.Next() {
		var l market.ProductCategory
		if err := rows.Scan(&l.ProductID, &l.CategoryID,
			timeScanner(&l.CreatedAtUTC), nullTimeScanner(&l.UpdatedAtUTC), nullTimeScanner(&l.DeletedAtUTC)); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

type auditRepo struct{ s *Store }

func (r auditRepo) ListByEntity(ctx context.Context, entityName, entityID string) ([]ledger.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, user_id, action_type, entity_name, entity_id, changes, timestamp
		FROM audit_logs WHERE entity_name = ? AND entity_id = ?
		ORDER BY timestamp ASC, id ASC`,
		entityName, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.AuditLog
	for rows.Next() {
		var a ledger.AuditLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.EntityName, &a.EntityID, &a.Changes,
			timeScanner(&a.Timestamp)); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scannable interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// timeScanner scans a required RFC3339 column into a time.Time.
func timeScanner(dst *time.Time) *timeScan { return &timeScan{dst: dst} }

type timeScan struct{ dst *time.Time }

func (ts *timeScan) Scan(src any) error {
	s, ok := src.(string)
	if !ok {
		b, isBytes := src.([]byte)
		if !isBytes {
			return fmt.Errorf("cannot scan %T as time", src)
		}
		s = string(b)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts.dst = t
	return nil
}

// nullTimeScanner scans a nullable RFC3339 column into a *time.Time.
func nullTimeScanner(dst **time.Time) *nullTimeScan { return &nullTimeScan{dst: dst} }

type nullTimeScan struct{ dst **time.Time }

func (ns *nullTimeScan) Scan(src any) error {
	if src == nil {
		*ns.dst = nil
		return nil
	}
	var t time.Time
	if err := (&timeScan{dst: &t}).Scan(src); err != nil {
		return err
	}
	*ns.dst = &t
	return nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal column %q: %w", s, err)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
