package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// single-process alternative to Postgres and shares its schema shape.
type SQLiteStore struct {
	db    *sql.DB
	batch int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, insertBatchSize int) (*SQLiteStore, error) {
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
	if insertBatchSize <= 0 {
		insertBatchSize = 100
	}
	return &SQLiteStore{db: db, batch: insertBatchSize}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS source_entries (
	id            TEXT PRIMARY KEY,
	source_url    TEXT NOT NULL UNIQUE,
	source_page   TEXT,
	filename      TEXT NOT NULL,
	category      TEXT NOT NULL,
	format        TEXT NOT NULL,
	storage_path  TEXT NOT NULL,
	bulletin_date DATETIME,
	processed     INTEGER NOT NULL DEFAULT 0,
	downloaded_at DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at  DATETIME
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
	bulletin_date DATETIME,
	processed     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
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
	min_price     REAL NOT NULL,
	max_price     REAL NOT NULL,
	round         INTEGER NOT NULL DEFAULT 1,
	bulletin_date DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
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
	resolved    INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_download_errors_kind ON download_errors(kind);

CREATE TABLE IF NOT EXISTS processing_errors (
	id          TEXT PRIMARY KEY,
	entry_id    TEXT NOT NULL,
	document_id TEXT,
	kind        TEXT NOT NULL,
	detail      TEXT,
	resolved    INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_processing_errors_kind ON processing_errors(kind);
CREATE INDEX IF NOT EXISTS idx_processing_errors_entry ON processing_errors(entry_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %s", kind, id)
	}
	return nil
}

func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *model.SourceEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_entries (id, source_url, source_page, filename, category, format, storage_path, bulletin_date, processed, downloaded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SourceURL, entry.SourcePage, entry.Filename, string(entry.Category),
		string(entry.Format), entry.StoragePath, entry.BulletinDate, entry.Processed, entry.DownloadedAt,
	)
	return eris.Wrapf(err, "sqlite: insert entry %s", entry.SourceURL)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(row rowScanner) (*model.SourceEntry, error) {
	var e model.SourceEntry
	var category, format string
	var sourcePage sql.NullString
	var bulletinDate, processedAt sql.NullTime
	err := row.Scan(&e.ID, &e.SourceURL, &sourcePage, &e.Filename, &category, &format,
		&e.StoragePath, &bulletinDate, &e.Processed, &e.DownloadedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	e.SourcePage = sourcePage.String
	e.Category = model.Category(category)
	e.Format = model.FileFormat(format)
	if bulletinDate.Valid {
		d := bulletinDate.Time
		e.BulletinDate = &d
	}
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*model.SourceEntry, error) {
	e, err := scanEntryRow(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) GetEntryByURL(ctx context.Context, sourceURL string) (*model.SourceEntry, error) {
	e, err := scanEntryRow(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE source_url = ?`, sourceURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entry by url %s", sourceURL)
	}
	return e, nil
}

func (s *SQLiteStore) listEntries(ctx context.Context, query string, args ...any) ([]model.SourceEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var entries []model.SourceEntry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list entries")
}

func (s *SQLiteStore) ListPendingEntries(ctx context.Context) ([]model.SourceEntry, error) {
	return s.listEntries(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE processed = 0 ORDER BY downloaded_at`)
}

func (s *SQLiteStore) ListEntriesByDate(ctx context.Context, date time.Time) ([]model.SourceEntry, error) {
	return s.listEntries(ctx,
		`SELECT `+entryColumns+` FROM source_entries WHERE date(bulletin_date) = date(?) ORDER BY downloaded_at`, date)
}

func (s *SQLiteStore) MarkEntryProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE source_entries SET processed = 1, processed_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark entry processed %s", id)
	}
	return checkRowsAffected(res, "entry", id)
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.ExtractedDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extracted_documents (id, entry_id, archive_path, filename, storage_path, place, submarket, bulletin_date, processed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.EntryID, doc.ArchivePath, doc.Filename, doc.StoragePath,
		doc.Place, doc.Submarket, doc.BulletinDate, doc.Processed, doc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert document %s", doc.StoragePath)
}

func scanDocumentRow(row rowScanner) (*model.ExtractedDocument, error) {
	var d model.ExtractedDocument
	var place, submarket sql.NullString
	var bulletinDate sql.NullTime
	err := row.Scan(&d.ID, &d.EntryID, &d.ArchivePath, &d.Filename, &d.StoragePath,
		&place, &submarket, &bulletinDate, &d.Processed, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Place = place.String
	d.Submarket = submarket.String
	if bulletinDate.Valid {
		t := bulletinDate.Time
		d.BulletinDate = &t
	}
	return &d, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.ExtractedDocument, error) {
	d, err := scanDocumentRow(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, storagePath string) (*model.ExtractedDocument, error) {
	d, err := scanDocumentRow(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE storage_path = ?`, storagePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document by path %s", storagePath)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocumentsByEntry(ctx context.Context, entryID string) ([]model.ExtractedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM extracted_documents WHERE entry_id = ? ORDER BY created_at`, entryID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.ExtractedDocument
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents")
}

func (s *SQLiteStore) MarkDocumentProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extracted_documents SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark document processed %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

// InsertPriceRecords inserts records in batched transactions. SQLite has no
// COPY protocol so each batch is one multi-statement transaction.
func (s *SQLiteStore) InsertPriceRecords(ctx context.Context, records []model.PriceRecord) (int64, error) {
	var inserted int64
	for start := 0; start < len(records); start += s.batch {
		end := start + s.batch
		if end > len(records) {
			end = len(records)
		}
		n, err := s.insertPriceBatch(ctx, records[start:end])
		inserted += n
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: insert price records")
		}
	}
	return inserted, nil
}

func (s *SQLiteStore) insertPriceBatch(ctx context.Context, records []model.PriceRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_records (id, entry_id, document_id, product, presentation, units, category, subcategory, place, submarket, min_price, max_price, round, bulletin_date, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.EntryID, r.DocumentID, r.Product, r.Presentation, r.Units,
			r.Category, r.Subcategory, r.Place, r.Submarket, r.MinPrice, r.MaxPrice,
			r.Round, r.BulletinDate, r.CreatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "insert record %s", r.Product)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "commit")
	}
	return int64(len(records)), nil
}

func (s *SQLiteStore) LogDownloadError(ctx context.Context, de *model.DownloadError) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_errors (id, source_url, filename, kind, detail, resolved, retry_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		de.ID, de.SourceURL, de.Filename, de.Kind, de.Detail, de.Resolved, de.RetryCount, de.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: log download error %s", de.Kind)
}

func (s *SQLiteStore) LogProcessingError(ctx context.Context, pe *model.ProcessingError) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_errors (id, entry_id, document_id, kind, detail, resolved, retry_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pe.ID, pe.EntryID, pe.DocumentID, pe.Kind, pe.Detail, pe.Resolved, pe.RetryCount, pe.CreatedAt, pe.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: log processing error %s", pe.Kind)
}

func sqliteErrorFilter(filter ErrorFilter) (string, []any) {
	clause := ""
	var args []any
	if filter.Kind != "" {
		clause = ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	clause += fmt.Sprintf(` ORDER BY created_at LIMIT %d`, limit)
	return clause, args
}

func (s *SQLiteStore) ListUnresolvedDownloadErrors(ctx context.Context, filter ErrorFilter) ([]model.DownloadError, error) {
	clause, args := sqliteErrorFilter(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_url, filename, kind, detail, resolved, retry_count, created_at FROM download_errors WHERE resolved = 0`+clause,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list download errors")
	}
	defer rows.Close()

	var out []model.DownloadError
	for rows.Next() {
		var de model.DownloadError
		var filename, detail sql.NullString
		if err := rows.Scan(&de.ID, &de.SourceURL, &filename, &de.Kind, &detail,
			&de.Resolved, &de.RetryCount, &de.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan download error")
		}
		de.Filename = filename.String
		de.Detail = detail.String
		out = append(out, de)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list download errors")
}

func (s *SQLiteStore) ListUnresolvedProcessingErrors(ctx context.Context, filter ErrorFilter) ([]model.ProcessingError, error) {
	clause, args := sqliteErrorFilter(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entry_id, document_id, kind, detail, resolved, retry_count, created_at, updated_at FROM processing_errors WHERE resolved = 0`+clause,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processing errors")
	}
	defer rows.Close()

	var out []model.ProcessingError
	for rows.Next() {
		var pe model.ProcessingError
		var documentID, detail sql.NullString
		if err := rows.Scan(&pe.ID, &pe.EntryID, &documentID, &pe.Kind, &detail,
			&pe.Resolved, &pe.RetryCount, &pe.CreatedAt, &pe.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processing error")
		}
		pe.DocumentID = documentID.String
		pe.Detail = detail.String
		out = append(out, pe)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list processing errors")
}

func (s *SQLiteStore) IncrementProcessingErrorRetry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_errors SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return eris.Wrapf(err, "sqlite: increment retry %s", id)
}

func (s *SQLiteStore) ResolveProcessingError(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_errors SET resolved = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return eris.Wrapf(err, "sqlite: resolve error %s", id)
}

func (s *SQLiteStore) Status(ctx context.Context) (*model.Status, error) {
	var st model.Status
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM source_entries),
		(SELECT count(*) FROM source_entries WHERE processed = 1),
		(SELECT count(*) FROM source_entries WHERE processed = 0),
		(SELECT count(*) FROM extracted_documents),
		(SELECT count(*) FROM price_records),
		(SELECT count(*) FROM processing_errors WHERE resolved = 0) +
		(SELECT count(*) FROM download_errors WHERE resolved = 0)`,
	).Scan(&st.TotalEntries, &st.ProcessedEntries, &st.PendingEntries,
		&st.ExtractedDocs, &st.PriceRecords, &st.UnresolvedErrors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status")
	}
	return &st, nil
}
