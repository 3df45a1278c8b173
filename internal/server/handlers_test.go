package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	req        *models.IngestRequest
	uploadBody string
	err        error
	deleted    []string
	similar    []storage.ScoredChunk
}

func (f *fakeIngester) Ingest(_ context.Context, req *models.IngestRequest) (*ingest.Result, error) {
	f.req = req
	if req.FilePath != "" {
		b, _ := os.ReadFile(req.FilePath)
		f.uploadBody = string(b)
	}
	if f.err != nil {
		return nil, f.err
	}
	summary := &models.Transformation{ID: "sum", Title: "Summary"}
	broken := &models.Transformation{ID: "bad", Title: "Broken"}
	return &ingest.Result{
		Source: &models.Source{ID: "src1", Title: "Greeting", FullText: req.Content},
		Chunks: 2,
		Batch: &transform.Batch{Results: []transform.Result{
			{Transformation: summary, Insight: &models.Insight{ID: "i1", SourceID: "src1", Type: "Summary", Content: "short"}},
			{Transformation: broken, Err: &models.TransformationError{Title: "Broken", Err: context.DeadlineExceeded}},
		}},
	}, nil
}

func (f *fakeIngester) Transform(_ context.Context, sourceID string, ids []string) (*transform.Batch, error) {
	if len(ids) == 0 {
		return nil, models.NewInvalidInput("no transformations requested")
	}
	return &transform.Batch{Results: []transform.Result{{
		Transformation: &models.Transformation{ID: ids[0], Title: "Summary"},
		Insight:        &models.Insight{ID: "i2", SourceID: sourceID, Type: "Summary", Content: "again"},
	}}}, nil
}

func (f *fakeIngester) Embed(_ context.Context, sourceID string) (int, error) {
	if sourceID == "missing" {
		return 0, models.ErrNotFound
	}
	return 3, nil
}

func (f *fakeIngester) Delete(_ context.Context, sourceID string) error {
	f.deleted = append(f.deleted, sourceID)
	return nil
}

func (f *fakeIngester) Similar(context.Context, string, int) ([]storage.ScoredChunk, error) {
	return f.similar, nil
}

type harness struct {
	handler  http.Handler
	ingester *fakeIngester
	store    *storage.SQLiteStore
	index    *keyword.BleveIndex
	uploads  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		DatabasePath:   filepath.Join(dir, "kura.db"),
		BleveIndexPath: filepath.Join(dir, "bleve"),
	}}
	config.ApplyDefaults(cfg)
	cfg.Extraction.TempDir = dir

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	ing := &fakeIngester{}
	uploads := t.TempDir()
	srv := NewServer(ing, store, cfg, nil,
		WithKeywordIndex(idx, keyword.NewSuggester(idx)),
		WithUploadDir(uploads))
	return &harness{handler: srv.Handler(), ingester: ing, store: store, index: idx, uploads: uploads}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, contentType string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHandleHealth(t *testing.T) {
	h := newHarness(t)
	w, body := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleIngest(t *testing.T) {
	h := newHarness(t)
	w, body := h.do(t, http.MethodPost, "/api/v1/sources",
		[]byte(`{"content":"Hello world","embed":true,"transformations":["sum","bad"]}`), "application/json")

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Hello world", h.ingester.req.Content)
	assert.True(t, h.ingester.req.Embed)
	assert.Equal(t, []string{"sum", "bad"}, h.ingester.req.TransformationIDs)

	assert.Equal(t, "src1", body["source"].(map[string]interface{})["id"])
	assert.Len(t, body["insights"], 1)
	failed := body["failed_transformations"].([]interface{})
	require.Len(t, failed, 1)
	assert.Equal(t, "Broken", failed[0].(map[string]interface{})["title"])
	assert.EqualValues(t, 2, body["chunks"])
}

func TestHandleIngest_errorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", models.NewInvalidInput("no source provided"), http.StatusBadRequest},
		{"unsupported", &models.UnsupportedTypeError{Type: "application/x-weird"}, http.StatusUnsupportedMediaType},
		{"extraction", &models.ExtractionError{Extractor: "pdf", Err: errors.New("corrupt")}, http.StatusUnprocessableEntity},
		{"no content", models.ErrNoContent, http.StatusUnprocessableEntity},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ingester.err = tt.err
			w, body := h.do(t, http.MethodPost, "/api/v1/sources", []byte(`{"content":"x"}`), "application/json")
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleIngest_badJSON(t *testing.T) {
	h := newHarness(t)
	w, _ := h.do(t, http.MethodPost, "/api/v1/sources", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUpload(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("uploaded text"))
	require.NoError(t, mw.WriteField("notebook_id", "nb1"))
	require.NoError(t, mw.WriteField("embed", "true"))
	require.NoError(t, mw.WriteField("transformations", "sum, kw"))
	require.NoError(t, mw.Close())

	w, _ := h.do(t, http.MethodPost, "/api/v1/sources/upload", buf.Bytes(), mw.FormDataContentType())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := h.ingester.req
	assert.Equal(t, "notes.txt", filepath.Base(req.FilePath))
	assert.True(t, req.DeleteSource)
	assert.True(t, req.Embed)
	assert.Equal(t, "nb1", req.NotebookID)
	assert.Equal(t, []string{"sum", "kw"}, req.TransformationIDs)
	assert.Equal(t, "uploaded text", h.ingester.uploadBody)
	_, err = os.Stat(filepath.Dir(req.FilePath))
	assert.True(t, os.IsNotExist(err), "upload dir should be removed")
}

func TestHandleUpload_missingFile(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "x"))
	require.NoError(t, mw.Close())
	w, _ := h.do(t, http.MethodPost, "/api/v1/sources/upload", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSources(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.CreateSource(ctx, &models.Source{ID: "s1", Title: "Report", FullText: "body"}))
	require.NoError(t, h.store.CreateInsight(ctx, &models.Insight{ID: "i1", SourceID: "s1", Type: "Summary", Content: "short"}))

	w, body := h.do(t, http.MethodGet, "/api/v1/sources/s1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Report", body["title"])

	w, body = h.do(t, http.MethodGet, "/api/v1/sources/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["sources"], 1)

	w, body = h.do(t, http.MethodGet, "/api/v1/sources/s1/insights", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["insights"], 1)

	w, _ = h.do(t, http.MethodGet, "/api/v1/sources/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = h.do(t, http.MethodGet, "/api/v1/sources/nope/insights", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(t, http.MethodDelete, "/api/v1/sources/s1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"s1"}, h.ingester.deleted)
}

func TestHandleTransformationsAndEmbed(t *testing.T) {
	h := newHarness(t)

	w, _ := h.do(t, http.MethodPut, "/api/v1/transformations/sum",
		[]byte(`{"title":"Summary","prompt":"Summarize","apply_default":true}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = h.do(t, http.MethodPut, "/api/v1/transformations/empty", []byte(`{"title":"Empty"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := h.do(t, http.MethodGet, "/api/v1/transformations", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	ts := body["transformations"].([]interface{})
	require.Len(t, ts, 1)
	assert.Equal(t, "sum", ts[0].(map[string]interface{})["name"])

	w, body = h.do(t, http.MethodPost, "/api/v1/sources/s1/transformations", []byte(`{"transformations":["sum"]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["insights"], 1)
	w, _ = h.do(t, http.MethodPost, "/api/v1/sources/s1/transformations", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodPost, "/api/v1/sources/s1/embed", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["chunks"])
	w, _ = h.do(t, http.MethodPost, "/api/v1/sources/missing/embed", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := &models.Source{ID: "s1", Title: "Budget review", FullText: "The quarterly budget was approved."}
	require.NoError(t, h.store.CreateSource(ctx, src))
	require.NoError(t, h.index.IndexSource(ctx, src))

	w, body := h.do(t, http.MethodGet, "/api/v1/search?q=budget", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	hits := body["hits"].([]interface{})
	require.Len(t, hits, 1)
	assert.Equal(t, "Budget review", hits[0].(map[string]interface{})["title"])

	w, body = h.do(t, http.MethodGet, "/api/v1/search?q=budgte", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["hits"])
	assert.Equal(t, "budget", body["suggestion"])

	h.ingester.similar = []storage.ScoredChunk{{Chunk: &models.EmbeddingChunk{SourceID: "s1", Content: "quarterly budget"}, Score: 0.9}}
	w, body = h.do(t, http.MethodGet, "/api/v1/search?q=money&mode=semantic", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	hits = body["hits"].([]interface{})
	require.Len(t, hits, 1)
	assert.Equal(t, "Budget review", hits[0].(map[string]interface{})["title"])

	w, _ = h.do(t, http.MethodGet, "/api/v1/search", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateSource(context.Background(), &models.Source{ID: "s1", FullText: "x"}))
	inFlight := filepath.Join(h.uploads, "kura-upload-1")
	require.NoError(t, os.Mkdir(inFlight, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(inFlight, "notes.txt"), []byte("1234"), 0o600))

	w, body := h.do(t, http.MethodGet, "/api/v1/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["sources"])
	assert.EqualValues(t, 0, body["chunks"])
	usage := body["disk_usage"].(map[string]interface{})
	assert.Greater(t, usage["database_bytes"].(float64), 0.0)
	assert.Greater(t, usage["index_bytes"].(float64), 0.0)
	assert.EqualValues(t, 4, usage["scratch_bytes"])
	assert.Equal(t, usage["database_bytes"].(float64)+usage["index_bytes"].(float64)+4, body["disk_usage_bytes"])
	cfg := body["config"].(map[string]interface{})
	assert.Equal(t, "sqlite", cfg["storage_driver"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	r := httptest.NewRequest(http.MethodOptions, "/api/v1/sources", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST"))
}
