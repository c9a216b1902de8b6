package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestSourcePath(t *testing.T) {
	assert.Equal(t, "2021/03/05/annex/anexo.xlsx",
		SourcePath(date(2021, time.March, 5), model.CategoryAnnex, "anexo.xlsx"))
	assert.Equal(t, "unknown_date/regional_report/ciudades.zip",
		SourcePath(nil, model.CategoryRegionalReport, "ciudades.zip"))
}

func TestExtractedPath(t *testing.T) {
	assert.Equal(t, "extracted/2021/03/05/bogota.pdf",
		ExtractedPath(date(2021, time.March, 5), "bogota.pdf"))
	assert.Equal(t, "extracted/unknown_date/bogota.pdf",
		ExtractedPath(nil, "bogota.pdf"))
}

func TestLocal_UploadDownload(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Upload(ctx, "2021/03/05/annex/a.pdf", []byte("pdf bytes"), "application/pdf"))

	data, err := l.Download(ctx, "2021/03/05/annex/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	ok, err := l.Exists(ctx, "2021/03/05/annex/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Exists(ctx, "2021/03/05/annex/missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_UploadConflict(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Upload(ctx, "a/b.txt", []byte("one"), "text/plain"))
	err = l.Upload(ctx, "a/b.txt", []byte("two"), "text/plain")
	assert.ErrorIs(t, err, ErrConflict)

	// First write wins
	data, err := l.Download(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestLocal_List(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Upload(ctx, "extracted/2021/03/05/a.pdf", []byte("a"), ""))
	require.NoError(t, l.Upload(ctx, "extracted/2021/03/05/b.pdf", []byte("b"), ""))
	require.NoError(t, l.Upload(ctx, "2021/03/05/annex/c.xlsx", []byte("c"), ""))

	paths, err := l.List(ctx, "extracted/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"extracted/2021/03/05/a.pdf", "extracted/2021/03/05/b.pdf"}, paths)
}

func TestLocal_Remove(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Upload(ctx, "a/b.txt", []byte("x"), ""))
	require.NoError(t, l.Remove(ctx, "a/b.txt"))
	require.NoError(t, l.Remove(ctx, "a/b.txt")) // idempotent

	ok, err := l.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_PathEscapeRejected(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = l.Upload(context.Background(), "../outside.txt", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes root")
}

func TestLocal_DownloadToFile(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Upload(ctx, "a/b.zip", []byte("zipdata"), "application/zip"))

	dest := t.TempDir() + "/nested/b.zip"
	require.NoError(t, l.DownloadToFile(ctx, "a/b.zip", dest))

	data, err := l.Download(ctx, "a/b.zip")
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))
	assert.FileExists(t, dest)
}
