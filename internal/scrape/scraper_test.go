package scrape

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/storage"
	"github.com/agroamigo/sipsa-pipeline/internal/store"
)

type fakeFetcher struct {
	pages map[string][]byte
	fail  map[string]bool
}

func (f *fakeFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	b, err := f.DownloadBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeFetcher) DownloadBytes(_ context.Context, url string) ([]byte, error) {
	if f.fail[url] {
		return nil, eris.New("connection refused")
	}
	b, ok := f.pages[url]
	if !ok {
		return nil, eris.Errorf("not found: %s", url)
	}
	return b, nil
}

func (f *fakeFetcher) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	b, err := f.DownloadBytes(ctx, url)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), os.WriteFile(path, b, 0o644)
}

type fakeObjects struct {
	objects    map[string][]byte
	conflictOn map[string]bool
	failOn     map[string]bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects:    map[string][]byte{},
		conflictOn: map[string]bool{},
		failOn:     map[string]bool{},
	}
}

func (o *fakeObjects) Upload(_ context.Context, path string, data []byte, _ string) error {
	if o.failOn[path] {
		return eris.New("bucket unavailable")
	}
	if o.conflictOn[path] {
		return storage.ErrConflict
	}
	if _, ok := o.objects[path]; ok {
		return storage.ErrConflict
	}
	o.objects[path] = data
	return nil
}

func (o *fakeObjects) Download(_ context.Context, path string) ([]byte, error) {
	b, ok := o.objects[path]
	if !ok {
		return nil, eris.Errorf("no object at %s", path)
	}
	return b, nil
}

func (o *fakeObjects) DownloadToFile(ctx context.Context, path, dest string) error {
	b, err := o.Download(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, 0o644)
}

func (o *fakeObjects) Exists(_ context.Context, path string) (bool, error) {
	_, ok := o.objects[path]
	return ok, nil
}

func (o *fakeObjects) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for p := range o.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, nil
}

func (o *fakeObjects) Remove(_ context.Context, path string) error {
	delete(o.objects, path)
	return nil
}

type fakeStore struct {
	entries        map[string]*model.SourceEntry // by source URL
	documents      map[string]*model.ExtractedDocument
	downloadErrors []model.DownloadError
	procErrors     []model.ProcessingError
	records        []model.PriceRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:   map[string]*model.SourceEntry{},
		documents: map[string]*model.ExtractedDocument{},
	}
}

func (s *fakeStore) CreateEntry(_ context.Context, e *model.SourceEntry) error {
	s.entries[e.SourceURL] = e
	return nil
}

func (s *fakeStore) GetEntry(_ context.Context, id string) (*model.SourceEntry, error) {
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetEntryByURL(_ context.Context, url string) (*model.SourceEntry, error) {
	return s.entries[url], nil
}

func (s *fakeStore) ListPendingEntries(_ context.Context) ([]model.SourceEntry, error) {
	var out []model.SourceEntry
	for _, e := range s.entries {
		if !e.Processed {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListEntriesByDate(_ context.Context, day time.Time) ([]model.SourceEntry, error) {
	var out []model.SourceEntry
	for _, e := range s.entries {
		if e.BulletinDate != nil && e.BulletinDate.Equal(day) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkEntryProcessed(_ context.Context, id string) error {
	for _, e := range s.entries {
		if e.ID == id {
			e.Processed = true
		}
	}
	return nil
}

func (s *fakeStore) CreateDocument(_ context.Context, d *model.ExtractedDocument) error {
	s.documents[d.StoragePath] = d
	return nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (*model.ExtractedDocument, error) {
	for _, d := range s.documents {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetDocumentByPath(_ context.Context, path string) (*model.ExtractedDocument, error) {
	return s.documents[path], nil
}

func (s *fakeStore) ListDocumentsByEntry(_ context.Context, entryID string) ([]model.ExtractedDocument, error) {
	var out []model.ExtractedDocument
	for _, d := range s.documents {
		if d.EntryID == entryID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkDocumentProcessed(_ context.Context, id string) error {
	for _, d := range s.documents {
		if d.ID == id {
			d.Processed = true
		}
	}
	return nil
}

func (s *fakeStore) InsertPriceRecords(_ context.Context, records []model.PriceRecord) (int64, error) {
	s.records = append(s.records, records...)
	return int64(len(records)), nil
}

func (s *fakeStore) LogDownloadError(_ context.Context, de *model.DownloadError) error {
	s.downloadErrors = append(s.downloadErrors, *de)
	return nil
}

func (s *fakeStore) LogProcessingError(_ context.Context, pe *model.ProcessingError) error {
	s.procErrors = append(s.procErrors, *pe)
	return nil
}

func (s *fakeStore) ListUnresolvedDownloadErrors(_ context.Context, _ store.ErrorFilter) ([]model.DownloadError, error) {
	return s.downloadErrors, nil
}

func (s *fakeStore) ListUnresolvedProcessingErrors(_ context.Context, filter store.ErrorFilter) ([]model.ProcessingError, error) {
	var out []model.ProcessingError
	for _, pe := range s.procErrors {
		if pe.Resolved {
			continue
		}
		if filter.Kind != "" && pe.Kind != filter.Kind {
			continue
		}
		out = append(out, pe)
	}
	return out, nil
}

func (s *fakeStore) IncrementProcessingErrorRetry(_ context.Context, id string) error {
	for i := range s.procErrors {
		if s.procErrors[i].ID == id {
			s.procErrors[i].RetryCount++
		}
	}
	return nil
}

func (s *fakeStore) ResolveProcessingError(_ context.Context, id string) error {
	for i := range s.procErrors {
		if s.procErrors[i].ID == id {
			s.procErrors[i].Resolved = true
		}
	}
	return nil
}

func (s *fakeStore) Status(_ context.Context) (*model.Status, error) {
	return &model.Status{TotalEntries: int64(len(s.entries))}, nil
}

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Ping(context.Context) error    { return nil }
func (s *fakeStore) Close() error                  { return nil }

func (s *fakeStore) errorKinds() []string {
	var kinds []string
	for _, de := range s.downloadErrors {
		kinds = append(kinds, de.Kind)
	}
	return kinds
}

const currentPage = "https://www.dane.gov.co/sipsa"

func newTestScraper(pages map[string][]byte, objects *fakeObjects, db *fakeStore, includeBulletins bool) *Scraper {
	return New(
		&fakeFetcher{pages: pages},
		objects,
		db,
		Options{CurrentPage: currentPage, IncludeBulletins: includeBulletins},
	)
}

func TestScrapeCurrent_StoresAnnexAndRegional(t *testing.T) {
	pages := map[string][]byte{
		currentPage: []byte(fourColumnPage),
		"https://www.dane.gov.co/files/anexo_15mar2021.xlsx":   []byte("xlsx-bytes"),
		"https://www.dane.gov.co/files/ciudades_15mar2021.zip": []byte("zip-bytes"),
		"https://www.dane.gov.co/files/anexo_16mar2021.xlsx":   []byte("xlsx-bytes-16"),
	}
	objects := newFakeObjects()
	db := newFakeStore()

	sum, err := newTestScraper(pages, objects, db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 0, sum.Failed)
	require.Len(t, db.entries, 3)

	entry := db.entries["https://www.dane.gov.co/files/anexo_15mar2021.xlsx"]
	require.NotNil(t, entry)
	assert.Equal(t, "2021/03/15/annex/anexo_15mar2021.xlsx", entry.StoragePath)
	assert.False(t, entry.Processed)
	assert.Contains(t, objects.objects, entry.StoragePath)
	assert.Empty(t, db.downloadErrors)
}

func TestScrapeCurrent_SkipsAlreadyKnownURL(t *testing.T) {
	pages := map[string][]byte{
		currentPage: []byte(fourColumnPage),
		"https://www.dane.gov.co/files/ciudades_15mar2021.zip": []byte("zip-bytes"),
		"https://www.dane.gov.co/files/anexo_16mar2021.xlsx":   []byte("xlsx-bytes-16"),
	}
	db := newFakeStore()
	known := "https://www.dane.gov.co/files/anexo_15mar2021.xlsx"
	db.entries[known] = &model.SourceEntry{ID: "existing", SourceURL: known}

	sum, err := newTestScraper(pages, newFakeObjects(), db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, "existing", db.entries[known].ID, "existing entry untouched")
}

func TestScrapeCurrent_FetchFailureLogsHTTPError(t *testing.T) {
	pages := map[string][]byte{
		currentPage: []byte(fourColumnPage),
		"https://www.dane.gov.co/files/ciudades_15mar2021.zip": []byte("zip-bytes"),
		"https://www.dane.gov.co/files/anexo_16mar2021.xlsx":   []byte("xlsx-bytes-16"),
	}
	db := newFakeStore()
	sum, err := newTestScraper(pages, newFakeObjects(), db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	// anexo_15mar2021.xlsx has no page entry, so its fetch fails.
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Contains(t, db.errorKinds(), model.ErrKindHTTP)
	assert.NotContains(t, db.entries, "https://www.dane.gov.co/files/anexo_15mar2021.xlsx")
}

func TestScrapeCurrent_UndatedFileStillDownloads(t *testing.T) {
	page := `<div><a href="/files/anexo_sin_fecha.xlsx">Anexo</a></div>`
	fileURL := "https://www.dane.gov.co/files/anexo_sin_fecha.xlsx"
	pages := map[string][]byte{
		currentPage: []byte(page),
		fileURL:     []byte("xlsx-bytes"),
	}
	db := newFakeStore()
	objects := newFakeObjects()

	sum, err := newTestScraper(pages, objects, db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.ErrorsLogged)
	assert.Contains(t, db.errorKinds(), model.ErrKindDateUnparsable)

	entry := db.entries[fileURL]
	require.NotNil(t, entry)
	assert.Nil(t, entry.BulletinDate)
	assert.Equal(t, "unknown_date/annex/anexo_sin_fecha.xlsx", entry.StoragePath)
}

func TestScrapeCurrent_UploadConflictStillCreatesEntry(t *testing.T) {
	pages := map[string][]byte{
		currentPage: []byte(fourColumnPage),
		"https://www.dane.gov.co/files/anexo_15mar2021.xlsx":   []byte("xlsx-bytes"),
		"https://www.dane.gov.co/files/ciudades_15mar2021.zip": []byte("zip-bytes"),
		"https://www.dane.gov.co/files/anexo_16mar2021.xlsx":   []byte("xlsx-bytes-16"),
	}
	objects := newFakeObjects()
	objects.conflictOn["2021/03/15/annex/anexo_15mar2021.xlsx"] = true
	db := newFakeStore()

	sum, err := newTestScraper(pages, objects, db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 1, sum.ErrorsLogged)
	assert.Contains(t, db.errorKinds(), model.ErrKindUploadConflict)
	assert.Contains(t, db.entries, "https://www.dane.gov.co/files/anexo_15mar2021.xlsx")
}

func TestScrapeCurrent_UploadFailureSkipsEntry(t *testing.T) {
	pages := map[string][]byte{
		currentPage: []byte(fourColumnPage),
		"https://www.dane.gov.co/files/anexo_15mar2021.xlsx":   []byte("xlsx-bytes"),
		"https://www.dane.gov.co/files/ciudades_15mar2021.zip": []byte("zip-bytes"),
		"https://www.dane.gov.co/files/anexo_16mar2021.xlsx":   []byte("xlsx-bytes-16"),
	}
	objects := newFakeObjects()
	objects.failOn["2021/03/15/annex/anexo_15mar2021.xlsx"] = true
	db := newFakeStore()

	sum, err := newTestScraper(pages, objects, db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Contains(t, db.errorKinds(), model.ErrKindUpload)
	assert.NotContains(t, db.entries, "https://www.dane.gov.co/files/anexo_15mar2021.xlsx")
}

func TestScrapeCurrent_BulletinsExcludedByDefault(t *testing.T) {
	page := `<div>
<a href="/files/boletin_15mar2021.pdf">Bolet&iacute;n</a>
<a href="/files/anexo_15mar2021.xlsx">Anexo</a>
</div>`
	pages := map[string][]byte{
		currentPage: []byte(page),
		"https://www.dane.gov.co/files/anexo_15mar2021.xlsx": []byte("xlsx-bytes"),
	}
	db := newFakeStore()

	sum, err := newTestScraper(pages, newFakeObjects(), db, false).ScrapeCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Succeeded)
	assert.NotContains(t, db.entries, "https://www.dane.gov.co/files/boletin_15mar2021.pdf")
}

func TestScrapeCurrent_BulletinsIncludedOnRequest(t *testing.T) {
	page := `<div><a href="/files/boletin_15mar2021.pdf">Bolet&iacute;n</a></div>`
	bulletinURL := "https://www.dane.gov.co/files/boletin_15mar2021.pdf"
	pages := map[string][]byte{
		currentPage: []byte(page),
		bulletinURL: []byte("%PDF-1.4"),
	}
	db := newFakeStore()

	sum, err := newTestScraper(pages, newFakeObjects(), db, true).ScrapeCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	require.Contains(t, db.entries, bulletinURL)
	assert.Equal(t, model.CategoryBulletin, db.entries[bulletinURL].Category)
}

func TestScrapeHistorical_WalksMonthPages(t *testing.T) {
	historicalPage := "https://www.dane.gov.co/sipsa/historicos"
	monthPage := `<table>
<tr><td>10 de mayo de 2018</td><td>notas</td><td><a href="/files/anexo-10-05-2018.xls">Anexo</a></td></tr>
<tr><td>11 de mayo de 2018</td><td>notas</td><td><a href="/files/anexo-11-05-2018.xls">Anexo</a></td></tr>
</table>`
	pages := map[string][]byte{
		historicalPage: []byte(archiveIndex),
		"https://www.dane.gov.co/sipsa/boletines-mayoristas-mayo-de-2018": []byte(monthPage),
		"https://www.dane.gov.co/files/anexo-10-05-2018.xls":              []byte("xls-10"),
		"https://www.dane.gov.co/files/anexo-11-05-2018.xls":              []byte("xls-11"),
	}
	db := newFakeStore()
	objects := newFakeObjects()
	s := New(&fakeFetcher{pages: pages}, objects, db, Options{
		CurrentPage:    currentPage,
		HistoricalPage: historicalPage,
	})

	sum, err := s.ScrapeHistorical(context.Background(),
		date(2018, time.May, 1), date(2018, time.May, 10))
	require.NoError(t, err)

	// The 2018-05-11 annex is outside the requested range.
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	require.Len(t, db.entries, 1)
	entry := db.entries["https://www.dane.gov.co/files/anexo-10-05-2018.xls"]
	require.NotNil(t, entry)
	assert.Equal(t, "2018/05/10/annex/anexo-10-05-2018.xls", entry.StoragePath)
}

func TestScrapeHistorical_MonthFallbackURL(t *testing.T) {
	historicalPage := "https://www.dane.gov.co/sipsa/historicos"
	monthPage := `<table>
<tr><td>5 de junio de 2018</td><td>notas</td><td><a href="/files/anexo-5-06-2018.xls">Anexo</a></td></tr>
</table>`
	pages := map[string][]byte{
		historicalPage: []byte(archiveIndex),
		// Only the -1 republished variant of the month page exists.
		"https://www.dane.gov.co/sipsa/boletines-mayoristas-junio-de-2018-1": []byte(monthPage),
		"https://www.dane.gov.co/files/anexo-5-06-2018.xls":                  []byte("xls-5"),
	}
	db := newFakeStore()
	s := New(&fakeFetcher{pages: pages}, newFakeObjects(), db, Options{
		CurrentPage:    currentPage,
		HistoricalPage: historicalPage,
	})

	sum, err := s.ScrapeHistorical(context.Background(),
		date(2018, time.June, 1), date(2018, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Contains(t, db.entries, "https://www.dane.gov.co/files/anexo-5-06-2018.xls")
}
