package store

import (
	"context"
	"time"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

// ErrorFilter specifies criteria for listing unresolved errors.
type ErrorFilter struct {
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the bulletin pipeline.
type Store interface {
	// Source entries
	CreateEntry(ctx context.Context, entry *model.SourceEntry) error
	GetEntry(ctx context.Context, id string) (*model.SourceEntry, error)
	GetEntryByURL(ctx context.Context, sourceURL string) (*model.SourceEntry, error)
	ListPendingEntries(ctx context.Context) ([]model.SourceEntry, error)
	ListEntriesByDate(ctx context.Context, date time.Time) ([]model.SourceEntry, error)
	MarkEntryProcessed(ctx context.Context, id string) error

	// Extracted documents
	CreateDocument(ctx context.Context, doc *model.ExtractedDocument) error
	GetDocument(ctx context.Context, id string) (*model.ExtractedDocument, error)
	GetDocumentByPath(ctx context.Context, storagePath string) (*model.ExtractedDocument, error)
	ListDocumentsByEntry(ctx context.Context, entryID string) ([]model.ExtractedDocument, error)
	MarkDocumentProcessed(ctx context.Context, id string) error

	// Price records
	InsertPriceRecords(ctx context.Context, records []model.PriceRecord) (int64, error)

	// Errors
	LogDownloadError(ctx context.Context, de *model.DownloadError) error
	LogProcessingError(ctx context.Context, pe *model.ProcessingError) error
	ListUnresolvedDownloadErrors(ctx context.Context, filter ErrorFilter) ([]model.DownloadError, error)
	ListUnresolvedProcessingErrors(ctx context.Context, filter ErrorFilter) ([]model.ProcessingError, error)
	IncrementProcessingErrorRetry(ctx context.Context, id string) error
	ResolveProcessingError(ctx context.Context, id string) error

	// Status
	Status(ctx context.Context) (*model.Status, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
