package model

import "time"

// Category classifies a published file by its role on the SIPSA site.
type Category string

const (
	// CategoryAnnex is the daily price annex (spreadsheet or PDF).
	CategoryAnnex Category = "annex"
	// CategoryRegionalReport is the per-city market report bundle.
	CategoryRegionalReport Category = "regional_report"
	// CategoryBulletin is the narrative bulletin PDF. Tracked but not parsed.
	CategoryBulletin Category = "bulletin"
	// CategoryUnknown is assigned when no keyword matched.
	CategoryUnknown Category = "unknown"
)

// FileFormat is the physical shape of a source file.
type FileFormat string

const (
	FormatPDF         FileFormat = "pdf"
	FormatSpreadsheet FileFormat = "spreadsheet"
	FormatArchive     FileFormat = "archive"
)

// FileReference is a link discovered on a publication page before download.
// References are ephemeral: consumed by the download step, never persisted.
type FileReference struct {
	URL        string     `json:"url"`
	Text       string     `json:"text"`
	Category   Category   `json:"category"`
	Format     FileFormat `json:"format"`
	Date       *time.Time `json:"date,omitempty"` // from surrounding page context, if any
	SourcePage string     `json:"source_page"`
}

// SourceEntry is one downloaded source file and its processing state.
// Origin URL is the dedup key: an entry is never created twice for one URL.
type SourceEntry struct {
	ID           string     `json:"id"`
	SourceURL    string     `json:"source_url"`
	SourcePage   string     `json:"source_page,omitempty"`
	Filename     string     `json:"filename"`
	Category     Category   `json:"category"`
	Format       FileFormat `json:"format"`
	StoragePath  string     `json:"storage_path"`
	BulletinDate *time.Time `json:"bulletin_date,omitempty"`
	Processed    bool       `json:"processed"`
	DownloadedAt time.Time  `json:"downloaded_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// ExtractedDocument is a per-city PDF pulled out of a regional archive.
// Documents are deduplicated by StoragePath across repeated expansions.
type ExtractedDocument struct {
	ID           string     `json:"id"`
	EntryID      string     `json:"entry_id"`
	ArchivePath  string     `json:"archive_path"` // member path inside the archive
	Filename     string     `json:"filename"`
	StoragePath  string     `json:"storage_path"`
	Place        string     `json:"place"`
	Submarket    string     `json:"submarket,omitempty"`
	BulletinDate *time.Time `json:"bulletin_date,omitempty"`
	Processed    bool       `json:"processed"`
	CreatedAt    time.Time  `json:"created_at"`
}
