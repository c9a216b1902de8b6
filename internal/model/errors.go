package model

import "time"

// Error kinds are open string sets, not closed enums: new defect shapes get
// new constants without a migration.
const (
	// Download-phase kinds.
	ErrKindHTTP           = "http_error"
	ErrKindUpload         = "upload_error"
	ErrKindUploadConflict = "upload_conflict"
	ErrKindDateUnparsable = "date_unparsable"
	ErrKindEntryCreate    = "entry_create_failed"

	// Processing-phase kinds.
	ErrKindInvalidHeaders    = "invalid_headers"
	ErrKindMissingCategory   = "missing_category"
	ErrKindNonNumericPrice   = "non_numeric_price"
	ErrKindNoPricesExtracted = "no_prices_extracted"
	ErrKindMissingDate       = "missing_date"
	ErrKindMissingLocation   = "missing_location"
	ErrKindDocumentParse     = "document_parse_error"
	ErrKindCorruptedDocument = "corrupted_document"
	ErrKindUnusedStackItems  = "unused_stack_items"
	ErrKindDownloadFailed    = "download_failed"
	ErrKindProcessingFailed  = "processing_failed"
)

// ProcessingError is a recorded defect raised while turning a stored file into
// price records. Defects never abort processing; they accumulate here.
type ProcessingError struct {
	ID         string    `json:"id"`
	EntryID    string    `json:"entry_id"`
	DocumentID string    `json:"document_id,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	Resolved   bool      `json:"resolved"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DownloadError is a recorded defect from the scrape/download phase, keyed by
// source URL rather than by entry.
type DownloadError struct {
	ID         string    `json:"id"`
	SourceURL  string    `json:"source_url"`
	Filename   string    `json:"filename,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	Resolved   bool      `json:"resolved"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}
