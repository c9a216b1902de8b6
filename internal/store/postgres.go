package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/agroamigo/sipsa-pipeline/internal/db"
	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	batch   int
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. Price records
// are bulk-inserted in batches of insertBatchSize rows.
func NewPostgres(ctx context.Context, connString string, insertBatchSize int, poolCfg *PoolConfig) (*PostgresStore, error) {
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, batch: insertBatchSize, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS source_entries (
	id            TEXT PRIMARY KEY,
	source_url    TEXT NOT NULL UNIQUE,
	source_page   TEXT,
	filename      TEXT NOT NULL,
	category      TEXT NOT NULL,
	format        TEXT NOT NULL,
	storage_path  TEXT NOT NULL,
	bulletin_date DATE,
	processed     BOOLEAN NOT NULL DEFAULT FALSE,
	downloaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_entries_processed ON source_entries(processed);
CREATE INDEX IF NOT EXISTS idx_entries_date ON source_entries(bulletin_date);

CREATE TABLE IF NOT EXISTS extracted_documents (
	id            TEXT PRIMARY KEY,
	entry_id      TEXT NOT NULL REFERENCES source_entries(id),
	archive_path  TEXT NOT NULL,
	filename      TEXT NOT NULL,
	storage_path  TEXT NOT NULL UNIQUE,
	place         TEXT,
	submarket     TEXT,
	bulletin_date DATE,
	processed     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_entry ON extracted_documents(entry_id);
CREATE INDEX IF NOT EXISTS idx_documents_processed ON extracted_documents(processed);

CREATE TABLE IF NOT EXISTS price_records (
	id            TEXT PRIMARY KEY,
	entry_id      TEXT NOT NULL,
	document_id   TEXT,
	product       TEXT NOT NULL,
	presentation  TEXT,
	units         TEXT,
	category      TEXT,
	subcategory   TEXT,
	place         TEXT,
	submarket     TEXT,
	min_price     DOUBLE PRECISION NOT NULL,
	max_price     DOUBLE PRECISION NOT NULL,
	round         INTEGER NOT NULL DEFAULT 1,
	bulletin_date DATE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prices_entry ON price_records(entry_id);
CREATE INDEX IF NOT EXISTS idx_prices_date ON price_records(bulletin_date);
CREATE INDEX IF NOT EXISTS idx_prices_product ON price_records(product);

CREATE TABLE IF NOT EXISTS download_errors (
	id          TEXT PRIMARY KEY,
	source_url  TEXT NOT NULL,
	filename    TEXT,
	kind        TEXT NOT NULL,
	detail      TEXT,
	resolved    BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_download_errors_kind ON download_errors(kind) WHERE NOT resolved;

CREATE TABLE IF NOT EXISTS processing_errors (
	id          TEXT PRIMARY KEY,
	entry_id    TEXT NOT NULL,
	document_id TEXT,
	kind        TEXT NOT NULL,
	detail      TEXT,
	resolved    BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_errors_kind ON processing_errors(kind) WHERE NOT resolved;
CREATE INDEX IF NOT EXISTS idx_processing_errors_entry ON processing_errors(entry_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

const entryColumns = `id, source_url, source_page, filename, category, format, storage_path, bulletin_date, processed, downloaded_at, processed_at`

func (s *PostgresStore) CreateEntry(ctx context.Context, entry *model.SourceEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_entries (id, source_url, source_page, filename, category, format, storage_path, bulletin_date, processed, downloaded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.SourceURL, entry.SourcePage, entry.Filename, string(entry.Category),
		string(entry.Format), entry.StoragePath, entry.BulletinDate, entry.Processed, entry.DownloadedAt,
	)
	return eris.Wrapf(err, "postgres: insert entry %s", entry.SourceURL)
}

func scanEntry(row pgx.Row) (*model.SourceEntry, error) {
	var e model.SourceEntry
	var category, format string
	err := row.Scan(&e.ID, &e.SourceURL, &e.SourcePage, &e.Filename, &category, &format,
		&e.StoragePath, &e.BulletinDate, &e.Processed, &e.DownloadedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	e.Category = model.Category(category)
	e.Format = model.FileFormat(format)
	return &e, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*model.SourceEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry %s", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEntryByURL(ctx context.Context, sourceURL string) (*model.SourceEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE source_url = $1`, sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entry by url %s", sourceURL)
	}
	return e, nil
}

func (s *PostgresStore) listEntries(ctx context.Context, query string, args ...any) ([]model.SourceEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var entries []model.SourceEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list entries")
}

func (s *PostgresStore) ListPendingEntries(ctx context.Context) ([]model.SourceEntry, error) {
	return s.listEntries(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE NOT processed ORDER BY downloaded_at`)
}

func (s *PostgresStore) ListEntriesByDate(ctx context.Context, date time.Time) ([]model.SourceEntry, error) {
	return s.listEntries(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE bulletin_date = $1 ORDER BY downloaded_at`, date)
}

func (s *PostgresStore) MarkEntryProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE source_entries SET processed = TRUE, processed_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark entry processed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: entry not found: %s", id)
	}
	return nil
}

const documentColumns = `id, entry_id, archive_path, filename, storage_path, place, submarket, bulletin_date, processed, created_at`

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.ExtractedDocument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extracted_documents (id, entry_id, archive_path, filename, storage_path, place, submarket, bulletin_date, processed, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.EntryID, doc.ArchivePath, doc.Filename, doc.StoragePath,
		doc.Place, doc.Submarket, doc.BulletinDate, doc.Processed, doc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert document %s", doc.StoragePath)
}

func scanDocument(row pgx.Row) (*model.ExtractedDocument, error) {
	var d model.ExtractedDocument
	err := row.Scan(&d.ID, &d.EntryID, &d.ArchivePath, &d.Filename, &d.StoragePath,
		&d.Place, &d.Submarket, &d.BulletinDate, &d.Processed, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.ExtractedDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return d, nil
}

func (s *PostgresStore) GetDocumentByPath(ctx context.Context, storagePath string) (*model.ExtractedDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE storage_path = $1`, storagePath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document by path %s", storagePath)
	}
	return d, nil
}

func (s *PostgresStore) ListDocumentsByEntry(ctx context.Context, entryID string) ([]model.ExtractedDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE entry_id = $1 ORDER BY created_at`, entryID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.ExtractedDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents")
}

func (s *PostgresStore) MarkDocumentProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extracted_documents SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark document processed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: document not found: %s", id)
	}
	return nil
}

var priceRecordColumns = []string{
	"id", "entry_id", "document_id", "product", "presentation", "units",
	"category", "subcategory", "place", "submarket", "min_price", "max_price",
	"round", "bulletin_date", "created_at",
}

// InsertPriceRecords bulk-inserts records via the COPY protocol, batched so
// a failure mid-stream loses at most one batch.
func (s *PostgresStore) InsertPriceRecords(ctx context.Context, records []model.PriceRecord) (int64, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.ID, r.EntryID, r.DocumentID, r.Product, r.Presentation, r.Units,
			r.Category, r.Subcategory, r.Place, r.Submarket, r.MinPrice, r.MaxPrice,
			r.Round, r.BulletinDate, r.CreatedAt,
		}
	}
	n, err := db.CopyFromBatches(ctx, s.pool, "price_records", priceRecordColumns, rows, s.batch)
	return n, eris.Wrap(err, "postgres: insert price records")
}

func (s *PostgresStore) LogDownloadError(ctx context.Context, de *model.DownloadError) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO download_errors (id, source_url, filename, kind, detail, resolved, retry_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		de.ID, de.SourceURL, de.Filename, de.Kind, de.Detail, de.Resolved, de.RetryCount, de.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: log download error %s", de.Kind)
}

func (s *PostgresStore) LogProcessingError(ctx context.Context, pe *model.ProcessingError) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_errors (id, entry_id, document_id, kind, detail, resolved, retry_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pe.ID, pe.EntryID, pe.DocumentID, pe.Kind, pe.Detail, pe.Resolved, pe.RetryCount, pe.CreatedAt, pe.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: log processing error %s", pe.Kind)
}

func errorFilterClause(filter ErrorFilter, argIdx int) (string, []any) {
	clause := ""
	var args []any
	if filter.Kind != "" {
		clause = fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	clause += fmt.Sprintf(` ORDER BY created_at LIMIT $%d`, argIdx+len(args))
	args = append(args, limit)
	return clause, args
}

func (s *PostgresStore) ListUnresolvedDownloadErrors(ctx context.Context, filter ErrorFilter) ([]model.DownloadError, error) {
	clause, args := errorFilterClause(filter, 1)
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_url, filename, kind, detail, resolved, retry_count, created_at FROM download_errors WHERE NOT resolved`+clause,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list download errors")
	}
	defer rows.Close()

	var out []model.DownloadError
	for rows.Next() {
		var de model.DownloadError
		if err := rows.Scan(&de.ID, &de.SourceURL, &de.Filename, &de.Kind, &de.Detail,
			&de.Resolved, &de.RetryCount, &de.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan download error")
		}
		out = append(out, de)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list download errors")
}

func (s *PostgresStore) ListUnresolvedProcessingErrors(ctx context.Context, filter ErrorFilter) ([]model.ProcessingError, error) {
	clause, args := errorFilterClause(filter, 1)
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_id, document_id, kind, detail, resolved, retry_count, created_at, updated_at FROM processing_errors WHERE NOT resolved`+clause,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processing errors")
	}
	defer rows.Close()

	var out []model.ProcessingError
	for rows.Next() {
		var pe model.ProcessingError
		if err := rows.Scan(&pe.ID, &pe.EntryID, &pe.DocumentID, &pe.Kind, &pe.Detail,
			&pe.Resolved, &pe.RetryCount, &pe.CreatedAt, &pe.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processing error")
		}
		out = append(out, pe)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list processing errors")
}

func (s *PostgresStore) IncrementProcessingErrorRetry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_errors SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	return eris.Wrapf(err, "postgres: increment retry %s", id)
}

func (s *PostgresStore) ResolveProcessingError(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_errors SET resolved = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	return eris.Wrapf(err, "postgres: resolve error %s", id)
}

func (s *PostgresStore) Status(ctx context.Context) (*model.Status, error) {
	var st model.Status
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM source_entries),
		(SELECT count(*) FROM source_entries WHERE processed),
		(SELECT count(*) FROM source_entries WHERE NOT processed),
		(SELECT count(*) FROM extracted_documents),
		(SELECT count(*) FROM price_records),
		(SELECT count(*) FROM processing_errors WHERE NOT resolved) +
		(SELECT count(*) FROM download_errors WHERE NOT resolved)`,
	).Scan(&st.TotalEntries, &st.ProcessedEntries, &st.PendingEntries,
		&st.ExtractedDocs, &st.PriceRecords, &st.UnresolvedErrors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status")
	}
	return &st, nil
}
