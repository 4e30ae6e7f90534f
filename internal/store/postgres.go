package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pricedesk/quotes-cli/internal/db"
	"github.com/pricedesk/quotes-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_message":    `INSERT INTO raw_messages (id, tenant_id, sender, content, received_at, processed, processing_error) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"mark_processed":    `UPDATE raw_messages SET processed = true, processing_error = $1 WHERE id = $2 AND processed = false`,
	"count_unprocessed": `SELECT COUNT(*) FROM raw_messages WHERE tenant_id = $1 AND processed = false`,
	"find_product":      `SELECT id, tenant_id, name FROM products WHERE tenant_id = $1 AND normalized_name = $2`,
	"find_supplier":     `SELECT id, tenant_id, name FROM suppliers WHERE tenant_id = $1 AND normalized_name = $2`,
	"quotes_by_product": `SELECT id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id FROM quotes WHERE tenant_id = $1 AND product_id = $2 ORDER BY extracted_at ASC, id ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_messages (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	sender           TEXT NOT NULL,
	content          TEXT NOT NULL,
	received_at      TIMESTAMPTZ NOT NULL,
	processed        BOOLEAN NOT NULL DEFAULT false,
	processing_error TEXT
);

CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	UNIQUE (tenant_id, normalized_name)
);

CREATE TABLE IF NOT EXISTS suppliers (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	UNIQUE (tenant_id, normalized_name)
);

CREATE TABLE IF NOT EXISTS quotes (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	product_id        TEXT NOT NULL REFERENCES products(id),
	supplier_id       TEXT NOT NULL REFERENCES suppliers(id),
	price             NUMERIC NOT NULL CHECK (price > 0),
	conditions        TEXT,
	extracted_at      TIMESTAMPTZ NOT NULL,
	source_message_id TEXT NOT NULL REFERENCES raw_messages(id)
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_tenant ON raw_messages(tenant_id, processed);
CREATE INDEX IF NOT EXISTS idx_raw_messages_received ON raw_messages(tenant_id, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_quotes_tenant_product ON quotes(tenant_id, product_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg model.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_messages (id, tenant_id, sender, content, received_at, processed, processing_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.TenantID, msg.Sender, msg.Content, msg.ReceivedAt.UTC(), msg.Processed, nullable(msg.ProcessingError),
	)
	return eris.Wrap(err, "postgres: insert message")
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, sender, content, received_at, processed, processing_error
		 FROM raw_messages WHERE id = $1`, id)
	return scanPgMessage(row)
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID string, filter MessageFilter) ([]model.RawMessage, error) {
	query := `SELECT id, tenant_id, sender, content, received_at, processed, processing_error
	          FROM raw_messages WHERE tenant_id = $1`
	args := []any{tenantID}

	order := ` ORDER BY received_at DESC, id DESC`
	if filter.Unprocessed {
		query += ` AND processed = false`
		order = ` ORDER BY received_at ASC, id ASC`
	}
	if filter.Failed {
		query += ` AND processed = true AND COALESCE(processing_error, '') != ''`
	}
	query += order
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var msgs []model.RawMessage
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

func (s *PostgresStore) CountUnprocessed(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_messages WHERE tenant_id = $1 AND processed = false`, tenantID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count unprocessed")
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_messages SET processed = true, processing_error = $1 WHERE id = $2 AND processed = false`,
		nullable(reason), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark processed %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.classifyMissedTransition(ctx, id)
}

// classifyMissedTransition distinguishes "already processed" from
// "no such message" after a conditional update touched zero rows.
func (s *PostgresStore) classifyMissedTransition(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_messages WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return eris.Wrap(err, "postgres: check message exists")
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) ResetFailed(ctx context.Context, tenantID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_messages SET processed = false, processing_error = NULL
		 WHERE tenant_id = $1 AND processed = true AND COALESCE(processing_error, '') != ''`,
		tenantID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset failed")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p model.Product, normalizedName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, tenant_id, name, normalized_name) VALUES ($1, $2, $3, $4)`,
		p.ID, p.TenantID, p.Name, normalizedName,
	)
	if isPgUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "postgres: insert product")
}

func (s *PostgresStore) FindProductByName(ctx context.Context, tenantID, normalizedName string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM products WHERE tenant_id = $1 AND normalized_name = $2`,
		tenantID, normalizedName)
	var p model.Product
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: find product")
	}
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM products WHERE id = $1`, id)
	var p model.Product
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get product")
	}
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, tenantID string) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name FROM products WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		products = append(products, p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func (s *PostgresStore) CreateSupplier(ctx context.Context, sup model.Supplier, normalizedName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppliers (id, tenant_id, name, normalized_name) VALUES ($1, $2, $3, $4)`,
		sup.ID, sup.TenantID, sup.Name, normalizedName,
	)
	if isPgUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "postgres: insert supplier")
}

func (s *PostgresStore) FindSupplierByName(ctx context.Context, tenantID, normalizedName string) (*model.Supplier, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE tenant_id = $1 AND normalized_name = $2`,
		tenantID, normalizedName)
	var sup model.Supplier
	if err := row.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: find supplier")
	}
	return &sup, nil
}

func (s *PostgresStore) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE id = $1`, id)
	var sup model.Supplier
	if err := row.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get supplier")
	}
	return &sup, nil
}

func (s *PostgresStore) ListSuppliers(ctx context.Context, tenantID string) ([]model.Supplier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name FROM suppliers WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list suppliers")
	}
	defer rows.Close()

	var suppliers []model.Supplier
	for rows.Next() {
		var sup model.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan supplier")
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, eris.Wrap(rows.Err(), "postgres: list suppliers iterate")
}

func (s *PostgresStore) CommitQuote(ctx context.Context, q model.Quote) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit quote")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE raw_messages SET processed = true, processing_error = NULL WHERE id = $1 AND processed = false`,
		q.SourceMessageID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: claim message")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM raw_messages WHERE id = $1)`, q.SourceMessageID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "postgres: check message exists")
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quotes (id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.TenantID, q.ProductID, q.SupplierID, q.Price, nullable(q.Conditions), q.ExtractedAt.UTC(), q.SourceMessageID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert quote")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit quote")
}

func (s *PostgresStore) ListQuotesByProduct(ctx context.Context, tenantID, productID string) ([]model.Quote, error) {
	return s.queryQuotes(ctx,
		`SELECT id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id
		 FROM quotes WHERE tenant_id = $1 AND product_id = $2 ORDER BY extracted_at ASC, id ASC`,
		tenantID, productID)
}

func (s *PostgresStore) ListQuotes(ctx context.Context, tenantID string) ([]model.Quote, error) {
	return s.queryQuotes(ctx,
		`SELECT id, tenant_id, product_id, supplier_id, price, conditions, extracted_at, source_message_id
		 FROM quotes WHERE tenant_id = $1 ORDER BY extracted_at ASC, id ASC`,
		tenantID)
}

func (s *PostgresStore) queryQuotes(ctx context.Context, query string, args ...any) ([]model.Quote, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotes")
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var conditions *string
		if err := rows.Scan(&q.ID, &q.TenantID, &q.ProductID, &q.SupplierID, &q.Price, &conditions, &q.ExtractedAt, &q.SourceMessageID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quote")
		}
		if conditions != nil {
			q.Conditions = *conditions
		}
		quotes = append(quotes, q)
	}
	return quotes, eris.Wrap(rows.Err(), "postgres: list quotes iterate")
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgMessage(row pgx.Row) (*model.RawMessage, error) {
	var m model.RawMessage
	var procErr *string
	err := row.Scan(&m.ID, &m.TenantID, &m.Sender, &m.Content, &m.ReceivedAt, &m.Processed, &procErr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan message")
	}
	if procErr != nil {
		m.ProcessingError = *procErr
	}
	return &m, nil
}
