package evidence

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pageproof/pkg/telemetry"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "evidence.db"), "http://localhost:8000/")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBoltStore_UploadAndGet(t *testing.T) {
	store := openStore(t)
	data := pngBytes(t)

	url, err := store.Upload(context.Background(), data, FolderCitations)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8000/evidence/citations/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	key := url[strings.LastIndex(url, "/")+1:]
	got, err := store.Get(FolderCitations, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, store.Count(FolderCitations))
}

func TestBoltStore_DistinctURLsForIdenticalContent(t *testing.T) {
	store := openStore(t)
	data := pngBytes(t)

	first, err := store.Upload(context.Background(), data, FolderScreenshots)
	require.NoError(t, err)
	second, err := store.Upload(context.Background(), data, FolderScreenshots)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, store.Count(FolderScreenshots))
}

func TestBoltStore_UploadFailuresWrapErrUpload(t *testing.T) {
	store := openStore(t)

	tests := []struct {
		name   string
		ctx    context.Context
		data   []byte
		folder string
	}{
		{name: "empty payload", ctx: context.Background(), data: nil, folder: FolderCitations},
		{name: "bad folder", ctx: context.Background(), data: []byte("x"), folder: "a/b"},
		{name: "cancelled", ctx: cancelledContext(), data: []byte("x"), folder: FolderCitations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upload(tt.ctx, tt.data, tt.folder)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUpload))
		})
	}
}

func TestBoltStore_UploadAfterCloseFails(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "evidence.db"), "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Upload(context.Background(), []byte("data"), FolderCitations)
	assert.True(t, errors.Is(err, ErrUpload))
}

func TestBoltStore_GetMissing(t *testing.T) {
	store := openStore(t)

	_, err := store.Get("nothing", "here.png")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStore_ServesStoredObjects(t *testing.T) {
	store := openStore(t)
	data := pngBytes(t)

	url, err := store.Upload(context.Background(), data, FolderPDFs)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route(RoutePrefix, store.Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	path := strings.TrimPrefix(url, "http://localhost:8000")
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)

	missing, err := http.Get(srv.URL + RoutePrefix + "/pdfs/missing.pdf")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestBoltStore_UploadIsTraced(t *testing.T) {
	var buf bytes.Buffer
	tracing, err := telemetry.Setup(telemetry.Options{Enabled: true, ServiceName: "evidence-test", Writer: &buf})
	require.NoError(t, err)

	store := openStore(t)
	_, err = store.Upload(context.Background(), pngBytes(t), FolderScreenshots)
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), pngBytes(t), "bad/folder")
	require.ErrorIs(t, err, ErrUpload)

	require.NoError(t, tracing.Shutdown(context.Background()))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, `"Name":"evidence.upload"`))
	assert.Contains(t, out, "pageproof.evidence.folder")
	assert.Contains(t, out, FolderScreenshots)
	assert.Contains(t, out, "invalid folder")
}
