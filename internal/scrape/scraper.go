package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/fetcher"
	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/storage"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
)

// Options configures a Scraper.
type Options struct {
	CurrentPage      string
	HistoricalPage   string
	IncludeBulletins bool
}

// Scraper discovers bulletin files on the publication site, downloads them,
// and registers one SourceEntry per unique file URL. Discovery failures are
// recorded as DownloadError rows instead of aborting the pass.
type Scraper struct {
	fetch   fetcher.Fetcher
	objects storage.ObjectStore
	db      store.Store
	opts    Options
}

// New creates a Scraper over the given collaborators.
func New(fetch fetcher.Fetcher, objects storage.ObjectStore, db store.Store, opts Options) *Scraper {
	return &Scraper{fetch: fetch, objects: objects, db: db, opts: opts}
}

// ScrapeCurrent collects every file linked from the current-publication page.
func (s *Scraper) ScrapeCurrent(ctx context.Context) (model.Summary, error) {
	var sum model.Summary
	body, err := s.fetch.DownloadBytes(ctx, s.opts.CurrentPage)
	if err != nil {
		return sum, eris.Wrap(err, "scrape: fetch current page")
	}
	refs, err := ClassifyPage(string(body), s.opts.CurrentPage, nil)
	if err != nil {
		return sum, err
	}
	s.downloadRefs(ctx, refs, &sum)
	return sum, nil
}

// ScrapeHistorical walks the archive, month by month, over the given range.
// A month whose candidate pages all fail to load is counted as one failure
// and the walk continues.
func (s *Scraper) ScrapeHistorical(ctx context.Context, from, to time.Time) (model.Summary, error) {
	var sum model.Summary
	body, err := s.fetch.DownloadBytes(ctx, s.opts.HistoricalPage)
	if err != nil {
		return sum, eris.Wrap(err, "scrape: fetch archive index")
	}
	months, err := HistoricalMonths(string(body), s.opts.HistoricalPage, from, to)
	if err != nil {
		return sum, err
	}

	for _, mp := range months {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		refs, err := s.monthRefs(ctx, mp)
		if err != nil {
			zap.L().Warn("month page unreachable",
				zap.Int("year", mp.Year),
				zap.String("month", mp.Month.String()),
				zap.Error(err),
			)
			sum.Failed++
			continue
		}
		refs = filterByRange(refs, from, to)
		s.downloadRefs(ctx, refs, &sum)
	}
	return sum, nil
}

// monthRefs loads the first reachable candidate page for a month and
// classifies it with the month itself as the layout target.
func (s *Scraper) monthRefs(ctx context.Context, mp MonthPage) ([]model.FileReference, error) {
	target := time.Date(mp.Year, mp.Month, 1, 0, 0, 0, 0, time.UTC)
	var lastErr error
	for _, pageURL := range mp.URLs {
		body, err := s.fetch.DownloadBytes(ctx, pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		return ClassifyPage(string(body), pageURL, &target)
	}
	if lastErr == nil {
		lastErr = eris.New("scrape: month has no candidate pages")
	}
	return nil, lastErr
}

// filterByRange drops references dated outside [from, to]. Undated
// references are kept; their dates resolve, or fail loudly, at download.
func filterByRange(refs []model.FileReference, from, to time.Time) []model.FileReference {
	kept := refs[:0]
	for _, ref := range refs {
		if ref.Date != nil && (ref.Date.Before(from) || ref.Date.After(to)) {
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}

func (s *Scraper) downloadRefs(ctx context.Context, refs []model.FileReference, sum *model.Summary) {
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return
		}
		sum.Total++
		switch s.downloadRef(ctx, ref) {
		case outcomeStored:
			sum.Succeeded++
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
			sum.ErrorsLogged++
		case outcomeStoredWithError:
			sum.Succeeded++
			sum.ErrorsLogged++
		}
	}
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeStoredWithError
)

// downloadRef fetches one file, uploads it, and creates its SourceEntry.
// An unparseable date or an upload conflict is logged but does not stop the
// entry from being created; fetch and upload failures do.
func (s *Scraper) downloadRef(ctx context.Context, ref model.FileReference) outcome {
	if ref.Category == model.CategoryBulletin && !s.opts.IncludeBulletins {
		return outcomeSkipped
	}

	existing, err := s.db.GetEntryByURL(ctx, ref.URL)
	if err != nil {
		zap.L().Error("entry lookup failed", zap.String("url", ref.URL), zap.Error(err))
		return outcomeFailed
	}
	if existing != nil {
		return outcomeSkipped
	}

	filename := FilenameFromURL(ref.URL)
	logged := false
	if ref.Date == nil {
		s.logDownloadError(ctx, ref, filename, model.ErrKindDateUnparsable,
			fmt.Sprintf("no date in row context or filename %q", filename))
		logged = true
	}

	body, err := s.fetch.DownloadBytes(ctx, ref.URL)
	if err != nil {
		s.logDownloadError(ctx, ref, filename, model.ErrKindHTTP, err.Error())
		return outcomeFailed
	}

	path := storage.SourcePath(ref.Date, ref.Category, filename)
	if err := s.objects.Upload(ctx, path, body, contentType(ref.Format)); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.logDownloadError(ctx, ref, filename, model.ErrKindUploadConflict,
				fmt.Sprintf("object already exists at %s", path))
			logged = true
		} else {
			s.logDownloadError(ctx, ref, filename, model.ErrKindUpload, err.Error())
			return outcomeFailed
		}
	}

	now := time.Now().UTC()
	entry := &model.SourceEntry{
		ID:           uuid.NewString(),
		SourceURL:    ref.URL,
		SourcePage:   ref.SourcePage,
		Filename:     filename,
		Category:     ref.Category,
		Format:       ref.Format,
		StoragePath:  path,
		BulletinDate: ref.Date,
		DownloadedAt: now,
	}
	if err := s.db.CreateEntry(ctx, entry); err != nil {
		s.logDownloadError(ctx, ref, filename, model.ErrKindEntryCreate, err.Error())
		return outcomeFailed
	}

	zap.L().Info("stored source file",
		zap.String("url", ref.URL),
		zap.String("path", path),
		zap.String("category", string(ref.Category)),
	)
	if logged {
		return outcomeStoredWithError
	}
	return outcomeStored
}

func (s *Scraper) logDownloadError(ctx context.Context, ref model.FileReference, filename, kind, detail string) {
	de := &model.DownloadError{
		ID:        uuid.NewString(),
		SourceURL: ref.URL,
		Filename:  filename,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.LogDownloadError(ctx, de); err != nil {
		zap.L().Error("download error not recorded",
			zap.String("url", ref.URL),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return
	}
	zap.L().Warn("download defect",
		zap.String("url", ref.URL),
		zap.String("kind", kind),
		zap.String("detail", detail),
	)
}

func contentType(format model.FileFormat) string {
	switch format {
	case model.FormatPDF:
		return "application/pdf"
	case model.FormatSpreadsheet:
		return "application/vnd.ms-excel"
	case model.FormatArchive:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
