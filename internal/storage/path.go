package storage

import (
	"fmt"
	"time"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

// SourcePath derives the storage key for a downloaded source file,
// partitioned by bulletin date and category. Files whose date could not be
// resolved land under unknown_date so they are still visible.
func SourcePath(date *time.Time, category model.Category, filename string) string {
	if date == nil {
		return fmt.Sprintf("unknown_date/%s/%s", category, filename)
	}
	return fmt.Sprintf("%d/%02d/%02d/%s/%s", date.Year(), int(date.Month()), date.Day(), category, filename)
}

// ExtractedPath derives the storage key for a per-city PDF pulled out of a
// regional archive. The key is deterministic so repeated expansions of the
// same archive collide instead of duplicating.
func ExtractedPath(date *time.Time, filename string) string {
	if date == nil {
		return "extracted/unknown_date/" + filename
	}
	return fmt.Sprintf("extracted/%d/%02d/%02d/%s", date.Year(), int(date.Month()), date.Day(), filename)
}
