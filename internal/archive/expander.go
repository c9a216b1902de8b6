// Package archive expands regional-report ZIP archives into individually
// tracked per-city documents.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/fetcher"
	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/storage"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
)

// Member filenames end with the bulletin date: "Cali, Cavasa-15-03-2021.pdf".
var memberDateRe = regexp.MustCompile(`-(\d{1,2})-(\d{1,2})-(\d{4})$`)

var memberExtensions = map[string]bool{".pdf": true, ".xls": true, ".xlsx": true}

// Result reports what one expansion found. The archive entry may be marked
// processed only when Success reports true: a member whose upload failed
// would otherwise be lost.
type Result struct {
	Found            int
	AlreadyProcessed int
	NewlyExtracted   int
	FailedUploads    int

	// Documents still needing price extraction: newly created ones plus
	// previously created ones never successfully processed.
	Pending []model.ExtractedDocument
}

// Success reports whether every member was either handled or already known.
func (r *Result) Success() bool {
	return r.FailedUploads == 0
}

// Expander downloads archive entries and registers their members.
type Expander struct {
	objects storage.ObjectStore
	db      store.Store
	tempDir string
}

// NewExpander creates an Expander. Scratch space defaults to the system
// temp directory.
func NewExpander(objects storage.ObjectStore, db store.Store, tempDir string) *Expander {
	return &Expander{objects: objects, db: db, tempDir: tempDir}
}

// Expand downloads the archive behind entry, decompresses it, and creates
// an ExtractedDocument per member. Members are deduplicated by their
// deterministic storage path, so re-expanding an archive never duplicates.
// A corrupt archive is an error; per-member upload failures are counted and
// logged but do not abort the rest.
func (e *Expander) Expand(ctx context.Context, entry *model.SourceEntry) (*Result, error) {
	scratch, err := os.MkdirTemp(e.tempDir, "sipsa-archive-*")
	if err != nil {
		return nil, eris.Wrap(err, "archive: create scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	zipPath := filepath.Join(scratch, "archive.zip")
	if err := e.objects.DownloadToFile(ctx, entry.StoragePath, zipPath); err != nil {
		return nil, eris.Wrapf(err, "archive: download %s", entry.StoragePath)
	}

	destDir := filepath.Join(scratch, "members")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "archive: create member dir")
	}
	extracted, err := fetcher.ExtractZIP(zipPath, destDir)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: decompress %s", entry.Filename)
	}

	res := &Result{}
	for _, memberPath := range extracted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !memberExtensions[strings.ToLower(filepath.Ext(memberPath))] {
			continue
		}
		res.Found++
		if err := e.registerMember(ctx, entry, destDir, memberPath, res); err != nil {
			zap.L().Warn("archive member not registered",
				zap.String("archive", entry.Filename),
				zap.String("member", filepath.Base(memberPath)),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("expanded archive",
		zap.String("archive", entry.Filename),
		zap.Int("found", res.Found),
		zap.Int("already_processed", res.AlreadyProcessed),
		zap.Int("newly_extracted", res.NewlyExtracted),
		zap.Int("failed_uploads", res.FailedUploads),
	)
	return res, nil
}

func (e *Expander) registerMember(ctx context.Context, entry *model.SourceEntry, destDir, memberPath string, res *Result) error {
	filename := filepath.Base(memberPath)
	relPath, err := filepath.Rel(destDir, memberPath)
	if err != nil {
		relPath = filename
	}

	place, submarket, date := parseMemberName(filename)
	if date == nil {
		date = entry.BulletinDate
	}
	storagePath := storage.ExtractedPath(date, filename)

	existing, err := e.db.GetDocumentByPath(ctx, storagePath)
	if err != nil {
		return eris.Wrapf(err, "archive: look up document %s", storagePath)
	}
	if existing != nil {
		if existing.Processed {
			res.AlreadyProcessed++
			return nil
		}
		res.Pending = append(res.Pending, *existing)
		return nil
	}

	data, err := os.ReadFile(memberPath)
	if err != nil {
		res.FailedUploads++
		e.logMemberDefect(ctx, entry, relPath, err.Error())
		return nil
	}
	if err := e.objects.Upload(ctx, storagePath, data, "application/pdf"); err != nil && !errors.Is(err, storage.ErrConflict) {
		// A conflict means the object is already there and only the
		// index row is missing.
		res.FailedUploads++
		e.logMemberDefect(ctx, entry, relPath, err.Error())
		return nil
	}

	doc := &model.ExtractedDocument{
		ID:           uuid.NewString(),
		EntryID:      entry.ID,
		ArchivePath:  relPath,
		Filename:     filename,
		StoragePath:  storagePath,
		Place:        place,
		Submarket:    submarket,
		BulletinDate: date,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.db.CreateDocument(ctx, doc); err != nil {
		res.FailedUploads++
		e.logMemberDefect(ctx, entry, relPath, err.Error())
		return nil
	}
	res.NewlyExtracted++
	res.Pending = append(res.Pending, *doc)
	return nil
}

func (e *Expander) logMemberDefect(ctx context.Context, entry *model.SourceEntry, member, detail string) {
	now := time.Now().UTC()
	pe := &model.ProcessingError{
		ID:        uuid.NewString(),
		EntryID:   entry.ID,
		Kind:      model.ErrKindUpload,
		Detail:    fmt.Sprintf("member %s: %s", member, detail),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.LogProcessingError(ctx, pe); err != nil {
		zap.L().Error("member defect not recorded", zap.String("member", member), zap.Error(err))
	}
}

// parseMemberName splits "Cali, Cavasa-15-03-2021.pdf" into place,
// submarket and date. The date suffix is optional; so is the comma.
func parseMemberName(filename string) (place, submarket string, date *time.Time) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if m := memberDateRe.FindStringSubmatch(name); m != nil {
		day, month, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			date = &d
		}
		name = strings.TrimSuffix(name, m[0])
	}

	name = strings.TrimSpace(name)
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:]), date
	}
	return name, "", date
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
