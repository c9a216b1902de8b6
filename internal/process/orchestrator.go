// Package process drives pending source entries through extraction and
// persistence. Failures are classified per entry; one bad file never aborts
// a batch.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agroamigo/sipsa-pipeline/internal/archive"
	"github.com/agroamigo/sipsa-pipeline/internal/extract"
	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/storage"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
)

// Orchestrator coordinates the processing of downloaded source files.
type Orchestrator struct {
	db        store.Store
	objects   storage.ObjectStore
	extractor *extract.Extractor
	expander  *archive.Expander
	tempDir   string
}

// New creates an Orchestrator over the given collaborators.
func New(db store.Store, objects storage.ObjectStore, extractor *extract.Extractor, expander *archive.Expander, tempDir string) *Orchestrator {
	return &Orchestrator{
		db:        db,
		objects:   objects,
		extractor: extractor,
		expander:  expander,
		tempDir:   tempDir,
	}
}

// ProcessAllPending dispatches every pending entry across a bounded worker
// pool. A failing entry is logged and counted; the batch always runs to
// completion.
func (o *Orchestrator) ProcessAllPending(ctx context.Context, concurrency int) (model.Summary, error) {
	entries, err := o.db.ListPendingEntries(ctx)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "process: list pending entries")
	}
	return o.processBatch(ctx, entries, concurrency), nil
}

// ProcessByDate processes every entry whose bulletin date matches the given
// day, processed or not already pending.
func (o *Orchestrator) ProcessByDate(ctx context.Context, day time.Time, concurrency int) (model.Summary, error) {
	entries, err := o.db.ListEntriesByDate(ctx, day)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "process: list entries by date")
	}
	var pending []model.SourceEntry
	for _, e := range entries {
		if !e.Processed {
			pending = append(pending, e)
		}
	}
	return o.processBatch(ctx, pending, concurrency), nil
}

// ProcessEntry processes a single entry by id.
func (o *Orchestrator) ProcessEntry(ctx context.Context, entryID string) (model.Summary, error) {
	entry, err := o.db.GetEntry(ctx, entryID)
	if err != nil {
		return model.Summary{}, eris.Wrapf(err, "process: load entry %s", entryID)
	}
	if entry == nil {
		return model.Summary{}, eris.Errorf("process: no entry with id %s", entryID)
	}
	var sum model.Summary
	o.runEntry(ctx, *entry, &sum, &sync.Mutex{})
	return sum, nil
}

func (o *Orchestrator) processBatch(ctx context.Context, entries []model.SourceEntry, concurrency int) model.Summary {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		sum model.Summary
		mu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			o.runEntry(gctx, entry, &sum, &mu)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	zap.L().Info("processing batch done",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("prices_extracted", sum.PricesExtracted),
		zap.Int("errors_logged", sum.ErrorsLogged),
	)
	return sum
}

// runEntry processes one entry and folds its outcome into the shared
// summary. A panic-free failure is classified as processing_failed.
func (o *Orchestrator) runEntry(ctx context.Context, entry model.SourceEntry, sum *model.Summary, mu *sync.Mutex) {
	one, err := o.processEntry(ctx, entry)
	mu.Lock()
	defer mu.Unlock()
	sum.Add(one)
	sum.Total++
	if err != nil {
		sum.Failed++
		sum.ErrorsLogged++
		o.logEntryError(ctx, entry.ID, "", model.ErrKindProcessingFailed, err.Error())
		zap.L().Error("entry processing failed",
			zap.String("entry_id", entry.ID),
			zap.String("filename", entry.Filename),
			zap.Error(err),
		)
	}
}

// processEntry handles one entry end to end. The returned summary covers
// completed work; the error, if any, covers the entry as a whole.
func (o *Orchestrator) processEntry(ctx context.Context, entry model.SourceEntry) (model.Summary, error) {
	var sum model.Summary

	// Narrative bulletins are tracked but carry no price table.
	if entry.Category == model.CategoryBulletin {
		if err := o.db.MarkEntryProcessed(ctx, entry.ID); err != nil {
			return sum, eris.Wrap(err, "process: mark bulletin processed")
		}
		sum.Skipped++
		return sum, nil
	}

	if entry.Format == model.FormatArchive {
		return o.processArchive(ctx, entry)
	}

	records, warnings, err := o.extractEntryFile(ctx, entry)
	if err != nil {
		return sum, err
	}
	inserted, logged, err := o.persistResults(ctx, entry.ID, "", records, warnings)
	sum.PricesExtracted += inserted
	sum.ErrorsLogged += logged
	if err != nil {
		return sum, err
	}
	if err := o.db.MarkEntryProcessed(ctx, entry.ID); err != nil {
		return sum, eris.Wrap(err, "process: mark entry processed")
	}
	sum.Succeeded++
	return sum, nil
}

// processArchive expands the archive and processes every pending member. The
// entry flips to processed only when expansion had no failed uploads, so a
// partially expanded archive is retried by the next run.
func (o *Orchestrator) processArchive(ctx context.Context, entry model.SourceEntry) (model.Summary, error) {
	var sum model.Summary

	res, err := o.expander.Expand(ctx, &entry)
	if err != nil {
		return sum, err
	}

	docFailures := 0
	for _, doc := range res.Pending {
		inserted, logged, err := o.processDocument(ctx, doc)
		sum.PricesExtracted += inserted
		sum.ErrorsLogged += logged
		if err != nil {
			docFailures++
			o.logEntryError(ctx, entry.ID, doc.ID, model.ErrKindProcessingFailed, err.Error())
			sum.ErrorsLogged++
		}
	}

	if !res.Success() {
		sum.Failed++
		zap.L().Warn("archive partially expanded, left pending",
			zap.String("entry_id", entry.ID),
			zap.Int("failed_uploads", res.FailedUploads),
		)
		return sum, nil
	}
	if err := o.db.MarkEntryProcessed(ctx, entry.ID); err != nil {
		return sum, eris.Wrap(err, "process: mark archive processed")
	}
	if docFailures > 0 {
		zap.L().Warn("archive processed with document failures",
			zap.String("entry_id", entry.ID),
			zap.Int("failures", docFailures),
		)
	}
	sum.Succeeded++
	return sum, nil
}

// processDocument extracts one archive member and persists its records.
// Members are routed by extension: city reports are PDFs, but some archives
// carry the day's annex spreadsheet alongside them.
func (o *Orchestrator) processDocument(ctx context.Context, doc model.ExtractedDocument) (inserted, logged int, err error) {
	local, cleanup, err := o.fetchToTemp(ctx, doc.StoragePath, doc.Filename)
	if err != nil {
		return 0, 0, err
	}
	defer cleanup()

	hint := extract.Hint{
		Place:     doc.Place,
		Submarket: doc.Submarket,
		Date:      doc.BulletinDate,
	}
	var res *extract.Result
	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".xls", ".xlsx":
		res, err = o.extractor.ExtractSpreadsheet(ctx, local, hint)
	default:
		res, err = o.extractor.ExtractPDF(ctx, local, hint)
	}
	if err != nil {
		return 0, 0, err
	}

	inserted, logged, err = o.persistResults(ctx, doc.EntryID, doc.ID, res.Records, res.Warnings)
	if err != nil {
		return inserted, logged, err
	}
	if err := o.db.MarkDocumentProcessed(ctx, doc.ID); err != nil {
		return inserted, logged, eris.Wrap(err, "process: mark document processed")
	}
	return inserted, logged, nil
}

// extractEntryFile downloads a direct (non-archive) entry and runs the
// engine matching its format.
func (o *Orchestrator) extractEntryFile(ctx context.Context, entry model.SourceEntry) ([]model.PriceRecord, []extract.Warning, error) {
	local, cleanup, err := o.fetchToTemp(ctx, entry.StoragePath, entry.Filename)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	hint := extract.Hint{Date: entry.BulletinDate}
	var res *extract.Result
	switch entry.Format {
	case model.FormatPDF:
		res, err = o.extractor.ExtractPDF(ctx, local, hint)
	case model.FormatSpreadsheet:
		res, err = o.extractor.ExtractSpreadsheet(ctx, local, hint)
	default:
		return nil, nil, eris.Errorf("process: unsupported format %q", entry.Format)
	}
	if err != nil {
		return nil, nil, err
	}
	return res.Records, res.Warnings, nil
}

// fetchToTemp stages a stored object into the scratch directory.
func (o *Orchestrator) fetchToTemp(ctx context.Context, storagePath, filename string) (string, func(), error) {
	dir, err := os.MkdirTemp(o.tempDir, "sipsa-process-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "process: create scratch dir")
	}
	cleanup := func() { os.RemoveAll(dir) } //nolint:errcheck

	local := filepath.Join(dir, filename)
	if err := o.objects.DownloadToFile(ctx, storagePath, local); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "process: stage %s", storagePath)
	}
	return local, cleanup, nil
}

// persistResults inserts the extracted records and logs every warning as a
// processing error. A file that yielded nothing at all gets a
// no_prices_extracted defect so it shows up in the error listing.
func (o *Orchestrator) persistResults(ctx context.Context, entryID, docID string, records []model.PriceRecord, warnings []extract.Warning) (inserted, logged int, err error) {
	now := time.Now().UTC()
	for i := range records {
		records[i].ID = uuid.NewString()
		records[i].EntryID = entryID
		records[i].DocumentID = docID
		records[i].CreatedAt = now
	}

	if len(records) > 0 {
		n, err := o.db.InsertPriceRecords(ctx, records)
		if err != nil {
			return 0, 0, eris.Wrap(err, "process: insert price records")
		}
		inserted = int(n)
	}

	for _, w := range warnings {
		o.logEntryError(ctx, entryID, docID, w.Kind, w.Detail)
		logged++
	}
	if len(records) == 0 {
		o.logEntryError(ctx, entryID, docID, model.ErrKindNoPricesExtracted,
			fmt.Sprintf("extraction yielded no records (%d warnings)", len(warnings)))
		logged++
	}
	return inserted, logged, nil
}

func (o *Orchestrator) logEntryError(ctx context.Context, entryID, docID, kind, detail string) {
	now := time.Now().UTC()
	pe := &model.ProcessingError{
		ID:         uuid.NewString(),
		EntryID:    entryID,
		DocumentID: docID,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.db.LogProcessingError(ctx, pe); err != nil {
		zap.L().Error("processing error not recorded",
			zap.String("entry_id", entryID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
