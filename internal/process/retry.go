package process

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
)

// RetryUnresolvedErrors re-runs the minimal processing unit behind every
// unresolved error, optionally filtered by kind. The retry counter always
// advances; the error is resolved only when the retry yields at least one
// new price record.
func (o *Orchestrator) RetryUnresolvedErrors(ctx context.Context, kindFilter string) (model.Summary, error) {
	pending, err := o.db.ListUnresolvedProcessingErrors(ctx, store.ErrorFilter{Kind: kindFilter})
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "process: list unresolved errors")
	}

	var sum model.Summary
	for _, pe := range pending {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Total++
		if err := o.db.IncrementProcessingErrorRetry(ctx, pe.ID); err != nil {
			zap.L().Error("retry counter not advanced", zap.String("error_id", pe.ID), zap.Error(err))
		}

		inserted, err := o.retryUnit(ctx, pe)
		if err != nil {
			sum.Failed++
			zap.L().Warn("retry failed",
				zap.String("error_id", pe.ID),
				zap.String("kind", pe.Kind),
				zap.Error(err),
			)
			continue
		}
		sum.PricesExtracted += inserted
		if inserted > 0 {
			if err := o.db.ResolveProcessingError(ctx, pe.ID); err != nil {
				zap.L().Error("error not resolved", zap.String("error_id", pe.ID), zap.Error(err))
			}
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum, nil
}

// retryUnit reprocesses the specific document an error references, or the
// whole entry when the error is not document-scoped.
func (o *Orchestrator) retryUnit(ctx context.Context, pe model.ProcessingError) (int, error) {
	if pe.DocumentID != "" {
		doc, err := o.db.GetDocument(ctx, pe.DocumentID)
		if err != nil {
			return 0, eris.Wrapf(err, "process: load document %s", pe.DocumentID)
		}
		if doc == nil {
			return 0, eris.Errorf("process: no document with id %s", pe.DocumentID)
		}
		inserted, _, err := o.processDocument(ctx, *doc)
		return inserted, err
	}

	entry, err := o.db.GetEntry(ctx, pe.EntryID)
	if err != nil {
		return 0, eris.Wrapf(err, "process: load entry %s", pe.EntryID)
	}
	if entry == nil {
		return 0, eris.Errorf("process: no entry with id %s", pe.EntryID)
	}
	one, err := o.processEntry(ctx, *entry)
	return one.PricesExtracted, err
}
