/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.TxStore and engine.CatalogStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

ATOMIC DECREMENTS:
  Stock and fund mutations are conditional UPDATEs:

    UPDATE products SET quantity = quantity + ?
    WHERE id = ? AND quantity + ? >= 0

  A zero rows-affected result means the mutation was refused. This is the
  authoritative negative-balance guard: two concurrent decrements can
  never both pass a stale check, because the check and the write are one
  statement.

FOLIO SERIALIZATION:
  The folio_sequences row is read and written inside the same WithTx as
  the movement insert. The store serializes writers (sync.Mutex here;
  row locks under PostgreSQL), so two issuances never observe the same
  next_folio.

KEY TABLES:
  products:        catalog rows mutated by stock movements
  fixed_funds:     per (requester, product) pre-authorized quotas
  movements:       inbound/outbound headers; (direction, series, folio)
                   is UNIQUE
  movement_lines:  line items; ON DELETE CASCADE from the header
  folio_sequences: one row per direction (series label + next folio)
  settings:        single-row global configuration

WAL MODE:
  SQLite is opened with WAL and foreign keys on, as for the rest of the
  stores in this codebase.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
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
	"github.com/warp/warehouse-engine/engine"
)

// Store implements engine.TxStore and engine.CatalogStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		unit_price TEXT NOT NULL DEFAULT '0',
		expiration TEXT,
		status TEXT NOT NULL DEFAULT 'normal'
	);

	CREATE TABLE IF NOT EXISTS fixed_funds (
		requester_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		available INTEGER NOT NULL DEFAULT 0 CHECK (available >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (requester_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		kind TEXT NOT NULL,
		fulfillment TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		notes TEXT,
		total TEXT NOT NULL DEFAULT '0',
		origin_id TEXT,
		requester_id TEXT,
		series TEXT NOT NULL DEFAULT '',
		folio TEXT NOT NULL,
		source_type TEXT,
		supplier_ref TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: no two movements share a folio within (direction, series)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_folio
		ON movements(direction, series, folio);

	-- For origin-group reconstruction
	CREATE INDEX IF NOT EXISTS idx_movements_origin
		ON movements(origin_id) WHERE origin_id IS NOT NULL AND origin_id != '';

	CREATE INDEX IF NOT EXISTS idx_movements_direction_created
		ON movements(direction, created_at DESC);

	CREATE TABLE IF NOT EXISTS movement_lines (
		id TEXT PRIMARY KEY,
		movement_id TEXT NOT NULL REFERENCES movements(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL DEFAULT '0',
		position INTEGER NOT NULL DEFAULT 0,
		fund_consumed INTEGER NOT NULL DEFAULT 0,
		lot TEXT,
		expiration TEXT,
		remaining INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_lines_movement
		ON movement_lines(movement_id);
	CREATE INDEX IF NOT EXISTS idx_lines_product
		ON movement_lines(product_id);

	CREATE TABLE IF NOT EXISTS folio_sequences (
		direction TEXT PRIMARY KEY,
		series TEXT NOT NULL DEFAULT '',
		next_folio INTEGER NOT NULL DEFAULT 1 CHECK (next_folio >= 1)
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		allow_requests_beyond_stock BOOLEAN NOT NULL DEFAULT FALSE,
		low_stock_threshold INTEGER NOT NULL DEFAULT 5,
		expiring_window_days INTEGER NOT NULL DEFAULT 30
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper
// works inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (engine.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the in-transaction view of the store. Every method delegates
// to the parent's query helpers over the open *sql.Tx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	return ts.parent.getProduct(ctx, ts.tx, id)
}
func (ts *txStore) ListProducts(ctx context.Context) ([]engine.Product, error) {
	return ts.parent.listProducts(ctx, ts.tx)
}
func (ts *txStore) AdjustStock(ctx context.Context, id engine.ProductID, delta int64) error {
	return ts.parent.adjustStock(ctx, ts.tx, id, delta)
}
func (ts *txStore) SetProductStatus(ctx context.Context, id engine.ProductID, status engine.ProductStatus) error {
	return ts.parent.setProductStatus(ctx, ts.tx, id, status)
}
func (ts *txStore) GetFund(ctx context.Context, r engine.RequesterID, p engine.ProductID) (*engine.FixedFund, error) {
	return ts.parent.getFund(ctx, ts.tx, r, p)
}
func (ts *txStore) AdjustFund(ctx context.Context, r engine.RequesterID, p engine.ProductID, delta int64) error {
	return ts.parent.adjustFund(ctx, ts.tx, r, p, delta)
}
func (ts *txStore) InsertMovement(ctx context.Context, m *engine.Movement) error {
	return ts.parent.insertMovement(ctx, ts.tx, m)
}
func (ts *txStore) GetMovement(ctx context.Context, id engine.MovementID) (*engine.Movement, error) {
	return ts.parent.getMovement(ctx, ts.tx, id)
}
func (ts *txStore) DeleteMovement(ctx context.Context, id engine.MovementID) error {
	return ts.parent.deleteMovement(ctx, ts.tx, id)
}
func (ts *txStore) ListByOrigin(ctx context.Context, origin engine.OriginID) ([]engine.Movement, error) {
	return ts.parent.listByOrigin(ctx, ts.tx, origin)
}
func (ts *txStore) ListMovements(ctx context.Context, d engine.Direction) ([]engine.Movement, error) {
	return ts.parent.listMovements(ctx, ts.tx, d)
}
func (ts *txStore) GetSequence(ctx context.Context, d engine.Direction) (*engine.FolioSequence, error) {
	return ts.parent.getSequence(ctx, ts.tx, d)
}
func (ts *txStore) SaveSequence(ctx context.Context, seq *engine.FolioSequence) error {
	return ts.parent.saveSequence(ctx, ts.tx, seq)
}
func (ts *txStore) FolioExists(ctx context.Context, d engine.Direction, series, folio string) (bool, error) {
	return ts.parent.folioExists(ctx, ts.tx, d, series, folio)
}
func (ts *txStore) MaxNumericFolio(ctx context.Context, d engine.Direction, series string) (int64, bool, error) {
	return ts.parent.maxNumericFolio(ctx, ts.tx, d, series)
}
func (ts *txStore) GetSettings(ctx context.Context) (engine.Settings, error) {
	return ts.parent.getSettings(ctx, ts.tx)
}
func (ts *txStore) SaveSettings(ctx context.Context, set engine.Settings) error {
	return ts.parent.saveSettings(ctx, ts.tx, set)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	return s.getProduct(ctx, s.db, id)
}

func (s *Store) getProduct(ctx context.Context, q dbtx, id engine.ProductID) (*engine.Product, error) {
	var (
		p          engine.Product
		price      string
		expiration sql.NullString
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, quantity, unit_price, expiration, status FROM products WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.Quantity, &price, &expiration, &p.Status)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	p.UnitPrice = mustDecimal(price)
	p.Expiration = parseNullTime(expiration)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]engine.Product, error) {
	return s.listProducts(ctx, s.db)
}

func (s *Store) listProducts(ctx context.Context, q dbtx) ([]engine.Product, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, quantity, unit_price, expiration, status FROM products ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []engine.Product
	for rows.Next() {
		var (
			p          engine.Product
			price      string
			expiration sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity, &price, &expiration, &p.Status); err != nil {
			return nil, err
		}
		p.UnitPrice = mustDecimal(price)
		p.Expiration = parseNullTime(expiration)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, id engine.ProductID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStock(ctx, s.db, id, delta)
}

// adjustStock is the atomic decrement primitive: the guard and the write
// are one statement, so a refusal can never race a concurrent mutation.
func (s *Store) adjustStock(ctx context.Context, q dbtx, id engine.ProductID, delta int64) error {
	res, err := q.ExecContext(ctx,
		"UPDATE products SET quantity = quantity + ? WHERE id = ? AND quantity + ? >= 0",
		delta, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		p, err := s.getProduct(ctx, q, id)
		if err != nil {
			return err
		}
		if p == nil {
			return engine.ErrProductNotFound
		}
		return engine.ErrInsufficientStock
	}
	return nil
}

func (s *Store) SetProductStatus(ctx context.Context, id engine.ProductID, status engine.ProductStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setProductStatus(ctx, s.db, id, status)
}

func (s *Store) setProductStatus(ctx context.Context, q dbtx, id engine.ProductID, status engine.ProductStatus) error {
	_, err := q.ExecContext(ctx, "UPDATE products SET status = ? WHERE id = ?", status, id)
	return err
}

// SaveProduct seeds a catalog row (engine.CatalogStore). The catalog is
// owned outside this core; this exists for dev tooling and tests.
func (s *Store) SaveProduct(ctx context.Context, p *engine.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, name, quantity, unit_price, expiration, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price,
			expiration = excluded.expiration,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Quantity, p.UnitPrice.String(),
		formatNullTime(p.Expiration), p.Status)
	return err
}

// =============================================================================
// FIXED FUNDS
// =============================================================================

func (s *Store) GetFund(ctx context.Context, r engine.RequesterID, p engine.ProductID) (*engine.FixedFund, error) {
	return s.getFund(ctx, s.db, r, p)
}

func (s *Store) getFund(ctx context.Context, q dbtx, r engine.RequesterID, p engine.ProductID) (*engine.FixedFund, error) {
	var f engine.FixedFund
	err := q.QueryRowContext(ctx,
		"SELECT requester_id, product_id, available, active FROM fixed_funds WHERE requester_id = ? AND product_id = ?",
		r, p,
	).Scan(&f.RequesterID, &f.ProductID, &f.Available, &f.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fixed fund: %w", err)
	}
	return &f, nil
}

func (s *Store) AdjustFund(ctx context.Context, r engine.RequesterID, p engine.ProductID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustFund(ctx, s.db, r, p, delta)
}

func (s *Store) adjustFund(ctx context.Context, q dbtx, r engine.RequesterID, p engine.ProductID, delta int64) error {
	res, err := q.ExecContext(ctx,
		"UPDATE fixed_funds SET available = available + ? WHERE requester_id = ? AND product_id = ? AND available + ? >= 0",
		delta, r, p, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust fund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrInsufficientFund
	}
	return nil
}

// SaveFund seeds a fund row (engine.CatalogStore).
func (s *Store) SaveFund(ctx context.Context, f *engine.FixedFund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO fixed_funds (requester_id, product_id, available, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(requester_id, product_id) DO UPDATE SET
			available = excluded.available,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, f.RequesterID, f.ProductID, f.Available, f.Active)
	return err
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (s *Store) InsertMovement(ctx context.Context, m *engine.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMovement(ctx, s.db, m)
}

func (s *Store) insertMovement(ctx context.Context, q dbtx, m *engine.Movement) error {
	if len(m.Lines) == 0 {
		return engine.ErrEmptyLines
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO movements
		(id, direction, kind, fulfillment, status, reason, notes, total,
		 origin_id, requester_id, series, folio, source_type, supplier_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Direction, m.Kind, m.Fulfillment, m.Status, m.Reason, m.Notes,
		m.Total.String(), nullString(string(m.OriginID)), nullString(string(m.RequesterID)),
		m.Series, m.Folio, nullString(m.SourceType), nullString(m.SupplierRef),
		m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.DuplicateFolioError{Direction: m.Direction, Series: m.Series, Folio: m.Folio}
		}
		return fmt.Errorf("failed to insert movement: %w", err)
	}

	for _, l := range m.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO movement_lines
			(id, movement_id, product_id, quantity, unit_price, position,
			 fund_consumed, lot, expiration, remaining)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, m.ID, l.ProductID, l.Quantity, l.UnitPrice.String(), l.Position,
			l.FundConsumed, nullString(l.Lot), formatNullTime(l.Expiration), l.Remaining)
		if err != nil {
			return fmt.Errorf("failed to insert movement line: %w", err)
		}
	}

	return nil
}

func (s *Store) GetMovement(ctx context.Context, id engine.MovementID) (*engine.Movement, error) {
	return s.getMovement(ctx, s.db, id)
}

const movementColumns = `
	id, direction, kind, fulfillment, status, reason, notes, total,
	origin_id, requester_id, series, folio, source_type, supplier_ref, created_at`

func (s *Store) getMovement(ctx context.Context, q dbtx, id engine.MovementID) (*engine.Movement, error) {
	row := q.QueryRowContext(ctx,
		"SELECT"+movementColumns+" FROM movements WHERE id = ?", id)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadLines(ctx, q, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMovement(ctx context.Context, id engine.MovementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMovement(ctx, s.db, id)
}

func (s *Store) deleteMovement(ctx context.Context, q dbtx, id engine.MovementID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM movements WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrMovementNotFound
	}
	// Lines cascade via the foreign key.
	return nil
}

func (s *Store) ListByOrigin(ctx context.Context, origin engine.OriginID) ([]engine.Movement, error) {
	return s.listByOrigin(ctx, s.db, origin)
}

func (s *Store) listByOrigin(ctx context.Context, q dbtx, origin engine.OriginID) ([]engine.Movement, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT"+movementColumns+" FROM movements WHERE origin_id = ? ORDER BY created_at ASC, rowid ASC",
		string(origin))
	if err != nil {
		return nil, fmt.Errorf("failed to query origin group: %w", err)
	}
	movements, err := collectMovements(rows)
	if err != nil {
		return nil, err
	}

	for i := range movements {
		if err := s.loadLines(ctx, q, &movements[i]); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

func (s *Store) ListMovements(ctx context.Context, d engine.Direction) ([]engine.Movement, error) {
	return s.listMovements(ctx, s.db, d)
}

func (s *Store) listMovements(ctx context.Context, q dbtx, d engine.Direction) ([]engine.Movement, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT"+movementColumns+" FROM movements WHERE direction = ? ORDER BY created_at DESC, rowid DESC",
		d)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	return collectMovements(rows)
}

// loadLines attaches line items with product names joined from the catalog.
func (s *Store) loadLines(ctx context.Context, q dbtx, m *engine.Movement) error {
	rows, err := q.QueryContext(ctx, `
		SELECT l.id, l.movement_id, l.product_id, COALESCE(p.name, ''),
		       l.quantity, l.unit_price, l.position, l.fund_consumed,
		       l.lot, l.expiration, l.remaining
		FROM movement_lines l
		LEFT JOIN products p ON p.id = l.product_id
		WHERE l.movement_id = ?
		ORDER BY l.position ASC`, m.ID)
	if err != nil {
		return fmt.Errorf("failed to query movement lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l          engine.Line
			price      string
			lot        sql.NullString
			expiration sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.MovementID, &l.ProductID, &l.ProductName,
			&l.Quantity, &price, &l.Position, &l.FundConsumed,
			&lot, &expiration, &l.Remaining); err != nil {
			return err
		}
		l.UnitPrice = mustDecimal(price)
		l.Lot = lot.String
		l.Expiration = parseNullTime(expiration)
		m.Lines = append(m.Lines, l)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*engine.Movement, error) {
	var (
		m           engine.Movement
		reason      sql.NullString
		notes       sql.NullString
		total       string
		origin      sql.NullString
		requester   sql.NullString
		sourceType  sql.NullString
		supplierRef sql.NullString
		createdAt   string
	)
	err := row.Scan(&m.ID, &m.Direction, &m.Kind, &m.Fulfillment, &m.Status,
		&reason, &notes, &total, &origin, &requester, &m.Series, &m.Folio,
		&sourceType, &supplierRef, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Reason = reason.String
	m.Notes = notes.String
	m.Total = mustDecimal(total)
	m.OriginID = engine.OriginID(origin.String)
	m.RequesterID = engine.RequesterID(requester.String)
	m.SourceType = sourceType.String
	m.SupplierRef = supplierRef.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &m, nil
}

func collectMovements(rows *sql.Rows) ([]engine.Movement, error) {
	defer rows.Close()

	var movements []engine.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	return movements, rows.Err()
}

// =============================================================================
// FOLIO SEQUENCES
// =============================================================================

func (s *Store) GetSequence(ctx context.Context, d engine.Direction) (*engine.FolioSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSequence(ctx, s.db, d)
}

// getSequence materializes the default {series: "", next: 1} row on first
// use so issuance always has something to lock and increment.
func (s *Store) getSequence(ctx context.Context, q dbtx, d engine.Direction) (*engine.FolioSequence, error) {
	_, err := q.ExecContext(ctx,
		"INSERT INTO folio_sequences (direction, series, next_folio) VALUES (?, '', 1) ON CONFLICT(direction) DO NOTHING",
		d)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize folio sequence: %w", err)
	}

	var seq engine.FolioSequence
	err = q.QueryRowContext(ctx,
		"SELECT direction, series, next_folio FROM folio_sequences WHERE direction = ?",
		d,
	).Scan(&seq.Direction, &seq.Series, &seq.Next)
	if err != nil {
		return nil, fmt.Errorf("failed to query folio sequence: %w", err)
	}
	return &seq, nil
}

func (s *Store) SaveSequence(ctx context.Context, seq *engine.FolioSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSequence(ctx, s.db, seq)
}

func (s *Store) saveSequence(ctx context.Context, q dbtx, seq *engine.FolioSequence) error {
	query := `
		INSERT INTO folio_sequences (direction, series, next_folio)
		VALUES (?, ?, ?)
		ON CONFLICT(direction) DO UPDATE SET
			series = excluded.series,
			next_folio = excluded.next_folio
	`
	_, err := q.ExecContext(ctx, query, seq.Direction, seq.Series, seq.Next)
	return err
}

func (s *Store) FolioExists(ctx context.Context, d engine.Direction, series, folio string) (bool, error) {
	return s.folioExists(ctx, s.db, d, series, folio)
}

func (s *Store) folioExists(ctx context.Context, q dbtx, d engine.Direction, series, folio string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movements WHERE direction = ? AND series = ? AND folio = ?",
		d, series, folio,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) MaxNumericFolio(ctx context.Context, d engine.Direction, series string) (int64, bool, error) {
	return s.maxNumericFolio(ctx, s.db, d, series)
}

// maxNumericFolio ignores folios carrying any non-digit character; legacy
// data may hold alphanumeric folios that reclaim must not touch.
func (s *Store) maxNumericFolio(ctx context.Context, q dbtx, d engine.Direction, series string) (int64, bool, error) {
	var max sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(CAST(folio AS INTEGER)) FROM movements
		WHERE direction = ? AND series = ?
		  AND folio != '' AND folio NOT GLOB '*[^0-9]*'`,
		d, series,
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max folio: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (engine.Settings, error) {
	return s.getSettings(ctx, s.db)
}

func (s *Store) getSettings(ctx context.Context, q dbtx) (engine.Settings, error) {
	var set engine.Settings
	err := q.QueryRowContext(ctx,
		"SELECT allow_requests_beyond_stock, low_stock_threshold, expiring_window_days FROM settings WHERE id = 1",
	).Scan(&set.AllowRequestsBeyondStock, &set.LowStockThreshold, &set.ExpiringWindowDays)

	if err == sql.ErrNoRows {
		return engine.DefaultSettings(), nil
	}
	if err != nil {
		return engine.Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	return set, nil
}

func (s *Store) SaveSettings(ctx context.Context, set engine.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSettings(ctx, s.db, set)
}

func (s *Store) saveSettings(ctx context.Context, q dbtx, set engine.Settings) error {
	query := `
		INSERT INTO settings (id, allow_requests_beyond_stock, low_stock_threshold, expiring_window_days)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			allow_requests_beyond_stock = excluded.allow_requests_beyond_stock,
			low_stock_threshold = excluded.low_stock_threshold,
			expiring_window_days = excluded.expiring_window_days
	`
	_, err := q.ExecContext(ctx, query,
		set.AllowRequestsBeyondStock, set.LowStockThreshold, set.ExpiringWindowDays)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
