package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agroamigo/sipsa-pipeline/internal/archive"
	"github.com/agroamigo/sipsa-pipeline/internal/extract"
	"github.com/agroamigo/sipsa-pipeline/internal/fetcher"
	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/process"
	"github.com/agroamigo/sipsa-pipeline/internal/scrape"
	"github.com/agroamigo/sipsa-pipeline/internal/storage"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
	"github.com/agroamigo/sipsa-pipeline/pkg/supabase"
)

// pipelineEnv holds the initialized store, object storage, and pipeline
// components needed by the scrape/process/serve commands.
type pipelineEnv struct {
	Store   store.Store
	Objects storage.ObjectStore
	Fetcher fetcher.Fetcher
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv validates config for the given mode and sets up the store and
// object storage. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	objects, err := initStorage()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:      cfg.Scrape.UserAgent,
		Timeout:        time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.Scrape.MaxRetries,
		RequestsPerSec: cfg.Scrape.RequestsPerSec,
	})

	return &pipelineEnv{Store: st, Objects: objects, Fetcher: f}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sipsa.db"
		}
		return store.NewSQLite(dsn, cfg.Process.InsertBatchSize)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Process.InsertBatchSize, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initStorage() (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "local":
		return storage.NewLocal(cfg.Storage.LocalDir)
	case "supabase":
		client := supabase.NewClient(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
		return storage.NewSupabase(client, cfg.Storage.Bucket), nil
	default:
		return nil, eris.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

func (pe *pipelineEnv) scraper() *scrape.Scraper {
	return scrape.New(pe.Fetcher, pe.Objects, pe.Store, scrape.Options{
		CurrentPage:      cfg.Source.BaseURL + cfg.Source.CurrentPage,
		HistoricalPage:   cfg.Source.BaseURL + cfg.Source.HistoricalPage,
		IncludeBulletins: cfg.Scrape.IncludeBulletins,
	})
}

func (pe *pipelineEnv) orchestrator() *process.Orchestrator {
	extractor := extract.New(cfg.Extract.PdfToTextPath)
	expander := archive.NewExpander(pe.Objects, pe.Store, cfg.Extract.TempDir)
	return process.New(pe.Store, pe.Objects, extractor, expander, cfg.Extract.TempDir)
}

// reportSummary prints the run summary as JSON and converts outright entry
// failures into a non-zero exit.
func reportSummary(sum model.Summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return eris.Wrap(err, "encode summary")
	}
	if sum.Failed > 0 {
		return eris.Errorf("%d of %d entries failed", sum.Failed, sum.Total)
	}
	return nil
}
