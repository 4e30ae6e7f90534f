package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pricedesk/quotes-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_messages (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	sender           TEXT NOT NULL,
	content          TEXT NOT NULL,
	received_at      DATETIME NOT NULL,
	processed        INTEGER NOT NULL DEFAULT 0,
	processing_error TEXT
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS suppliers (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	product_id        TEXT NOT NULL REFERENCES products(id),
	supplier_id       TEXT NOT NULL REFERENCES suppliers(id),
	price             REAL NOT NULL CHECK (price > 0),
	conditions        TEXT,
	extracted_at      DATETIME NOT NULL,
	source_message_id TEXT NOT NULL REFERENCES raw_messages(id)
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_tenant ON raw_messages(tenant_id, processed);
CREATE INDEX IF NOT EXISTS idx_raw_messages_received ON raw_messages(tenant_id, received_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_products_tenant_name ON products(tenant_id, normalized_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_suppliers_tenant_name ON suppliers(tenant_id, normalized_name);
CREATE INDEX IF NOT EXISTS idx_quotes_tenant_product ON quotes(tenant_id, product_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg model.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_messages (id, tenant_id, sender, content, received_at, processed, processing_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TenantID, msg.Sender, msg.Content, msg.ReceivedAt.UTC(), msg.Processed, nullable(msg.ProcessingError),
	)
	return eris.Wrap(err, "sqlite: insert message")
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, sender, content, received_at, processed, processing_error
		 FROM raw_messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, tenantID string, filter MessageFilter) ([]model.RawMessage, error) {
	query := `SELECT id, tenant_id, sender, content, received_at, processed, processing_error
	          FROM raw_messages WHERE tenant_id = ?`
	args := []any{tenantID}

	order := ` ORDER BY received_at DESC, id DESC`
	if filter.Unprocessed {
		query += ` AND processed = 0`
		// Backlog reads stay in insertion order for batch processing.
		order = ` ORDER BY received_at ASC, id ASC`
	}
	if filter.Failed {
		query += ` AND processed = 1 AND processing_error IS NOT NULL AND processing_error != ''`
	}
	query += order
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var msgs []model.RawMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

func (s *SQLiteStore) CountUnprocessed(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_messages WHERE tenant_id = ? AND processed = 0`, tenantID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count unprocessed")
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_messages SET processed = 1, processing_error = ? WHERE id = ? AND processed = 0`,
		nullable(reason), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark processed %s", id)
	}
	return checkProcessedTransition(ctx, s.db, res, id)
}

func (s *SQLiteStore) ResetFailed(ctx context.Context, tenantID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_messages SET processed = 0, processing_error = NULL
		 WHERE tenant_id = ? AND processed = 1 AND processing_error IS NOT NULL AND processing_error != ''`,
		tenantID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset failed")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p model.Product, normalizedName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, tenant_id, name, normalized_name) VALUES (?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, normalizedName,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "sqlite: insert product")
}

func (s *SQLiteStore) FindProductByName(ctx context.Context, tenantID, normalizedName string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM products WHERE tenant_id = ? AND normalized_name = ?`,
		tenantID, normalizedName)
	var p model.Product
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: find product")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM products WHERE id = ?`, id)
	var p model.Product
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get product")
	}
	return &p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, tenantID string) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM products WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		products = append(products, p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) CreateSupplier(ctx context.Context, sup model.Supplier, normalizedName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppliers (id, tenant_id, name, normalized_name) VALUES (?, ?, ?, ?)`,
		sup.ID, sup.TenantID, sup.Name, normalizedName,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "sqlite: insert supplier")
}

func (s *SQLiteStore) FindSupplierByName(ctx context.Context, tenantID, normalizedName string) (*model.Supplier, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE tenant_id = ? AND normalized_name = ?`,
		tenantID, normalizedName)
	var sup model.Supplier
	if err := row.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: find supplier")
	}
	return &sup, nil
}

func (s *SQLiteStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE id = ?`, id)
	var sup model.Supplier
	if err := row.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get supplier")
	}
	return &sup, nil
}

func (s *SQLiteStore) ListSuppliers(ctx context.Context, tenantID string) ([]model.Supplier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list suppliers")
	}
	defer rows.Close()

	var suppliers []model.Supplier
	for rows.Next() {
		var sup model.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan supplier")
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, eris.Wrap(rows.Err(), "sqlite: list suppliers iterate")
}

func (s *SQLiteStore) CommitQuote(ctx context.Context, q model.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit quote")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE raw_messages SET processed = 1, processing_error = NULL WHERE id = ? AND processed = 0`,
		q.SourceMessageID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: claim message")
	}
	if err := checkProcessedTransition(ctx, tx, res, q.SourceMessageID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO quotes (id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.TenantID, q.ProductID, q.SupplierID, q.Price, nullable(q.Conditions), q.ExtractedAt.UTC(), q.SourceMessageID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert quote")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit quote")
}

func (s *SQLiteStore) ListQuotesByProduct(ctx context.Context, tenantID, productID string) ([]model.Quote, error) {
	return s.listQuotes(ctx,
		`SELECT id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id
		 FROM quotes WHERE tenant_id = ? AND product_id = ? ORDER BY extracted_at ASC, id ASC`,
		tenantID, productID)
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, tenantID string) ([]model.Quote, error) {
	return s.listQuotes(ctx,
		`SELECT id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id
		 FROM quotes WHERE tenant_id = ? ORDER BY extracted_at ASC, id ASC`,
		tenantID)
}

func (s *SQLiteStore) listQuotes(ctx context.Context, query string, args ...any) ([]model.Quote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotes")
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var conditions sql.NullString
		if err := rows.Scan(&q.ID, &q.TenantID, &q.ProductID, &q.SupplierID, &q.Price, &conditions, &q.ExtractedAt, &q.SourceMessageID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quote")
		}
		q.Conditions = conditions.String
		quotes = append(quotes, q)
	}
	return quotes, eris.Wrap(rows.Err(), "sqlite: list quotes iterate")
}

// helpers

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkProcessedTransition distinguishes "already processed" from
// "no such message" after a conditional processed-flag update.
func checkProcessedTransition(ctx context.Context, db execQuerier, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_messages WHERE id = ?`, id).Scan(&exists); err != nil {
		return eris.Wrap(err, "check message exists")
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*model.RawMessage, error) {
	var m model.RawMessage
	var procErr sql.NullString
	err := row.Scan(&m.ID, &m.TenantID, &m.Sender, &m.Content, &m.ReceivedAt, &m.Processed, &procErr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan message")
	}
	m.ProcessingError = procErr.String
	return &m, nil
}
