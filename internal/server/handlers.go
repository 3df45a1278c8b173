package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/transform"
	"go.uber.org/zap"
)

// IngestResponse is the body returned for a completed ingestion.
type IngestResponse struct {
	Source     *models.Source    `json:"source"`
	Insights   []*models.Insight `json:"insights,omitempty"`
	Failed     []FailedUnit      `json:"failed_transformations,omitempty"`
	Chunks     int               `json:"chunks"`
	EmbedError string            `json:"embed_error,omitempty"`
}

// FailedUnit names a transformation that did not produce an insight.
type FailedUnit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// NewIngestResponse flattens an ingestion result for the wire.
func NewIngestResponse(res *ingest.Result) *IngestResponse {
	out := &IngestResponse{Source: res.Source, Chunks: res.Chunks}
	if res.EmbedErr != nil {
		out.EmbedError = res.EmbedErr.Error()
	}
	if res.Batch != nil {
		out.Insights = res.Batch.Insights()
		out.Failed = failedUnits(res.Batch)
	}
	return out
}

func failedUnits(b *transform.Batch) []FailedUnit {
	var out []FailedUnit
	for _, r := range b.Failed() {
		out = append(out, FailedUnit{ID: r.Transformation.ID, Title: r.Transformation.Title, Error: r.Err.Error()})
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ingest(w, r.Context(), &req)
}

// handleUpload ingests a multipart file upload. The file is written to a private temp dir and
// removed by the pipeline once extracted.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp(s.uploadDir, "kura-upload-*")
	if err != nil {
		s.logger.Error("upload: temp dir", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(header.Filename)
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	if err := saveUpload(file, path); err != nil {
		s.logger.Error("upload: write", zap.String("path", path), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	req := &models.IngestRequest{
		FilePath:          path,
		DeleteSource:      true,
		Title:             r.FormValue("title"),
		NotebookID:        r.FormValue("notebook_id"),
		Embed:             formBool(r.FormValue("embed")),
		ApplyDefaults:     formBool(r.FormValue("apply_default_transformations")),
		TransformationIDs: splitList(r.MultipartForm.Value["transformations"]),
	}
	s.logger.Debug("upload received", zap.String("file", name), zap.Int64("bytes", header.Size))
	s.ingest(w, r.Context(), req)
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Server) ingest(w http.ResponseWriter, ctx context.Context, req *models.IngestRequest) {
	res, err := s.ingester.Ingest(ctx, req)
	if err != nil {
		s.respondFailure(w, "ingest", err)
		return
	}
	if s.suggester != nil {
		s.suggester.Invalidate()
	}
	s.respondJSON(w, http.StatusCreated, NewIngestResponse(res))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	sources, err := s.store.ListSources(r.Context(), offset, limit)
	if err != nil {
		s.respondFailure(w, "list sources", err)
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": sources, "offset": offset, "limit": limit})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "get source", err)
		return
	}
	s.respondJSON(w, http.StatusOK, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete source request", zap.String("id", id))
	if err := s.ingester.Delete(r.Context(), id); err != nil {
		s.respondFailure(w, "delete source", err)
		return
	}
	if s.suggester != nil {
		s.suggester.Invalidate()
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetSource(ctx, id); err != nil {
		s.respondFailure(w, "list insights", err)
		return
	}
	insights, err := s.store.ListInsights(ctx, id)
	if err != nil {
		s.respondFailure(w, "list insights", err)
		return
	}
	if insights == nil {
		insights = []*models.Insight{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

type applyRequest struct {
	Transformations []string `json:"transformations"`
}

func (s *Server) handleApplyTransformations(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batch, err := s.ingester.Transform(r.Context(), chi.URLParam(r, "id"), req.Transformations)
	if err != nil {
		s.respondFailure(w, "apply transformations", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"insights":               batch.Insights(),
		"failed_transformations": failedUnits(batch),
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.ingester.Embed(r.Context(), id)
	if err != nil {
		s.respondFailure(w, "embed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "chunks": n})
}

func (s *Server) handleListTransformations(w http.ResponseWriter, r *http.Request) {
	ts, err := s.store.ListTransformations(r.Context())
	if err != nil {
		s.respondFailure(w, "list transformations", err)
		return
	}
	if ts == nil {
		ts = []*models.Transformation{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"transformations": ts})
}

func (s *Server) handleSaveTransformation(w http.ResponseWriter, r *http.Request) {
	var t models.Transformation
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")
	if strings.TrimSpace(t.Prompt) == "" || strings.TrimSpace(t.Title) == "" {
		s.respondError(w, http.StatusBadRequest, "title and prompt are required")
		return
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if err := s.store.SaveTransformation(r.Context(), &t); err != nil {
		s.respondFailure(w, "save transformation", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &t)
}

// handleSearch serves keyword search by default; mode=semantic or mode=hybrid select the
// other strategies.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.Query{
		Text:      q.Get("q"),
		Mode:      search.Mode(q.Get("mode")),
		Limit:     queryInt(r, "limit", 0),
		Fuzziness: queryInt(r, "fuzzy", 0),
	}
	if v, err := strconv.ParseFloat(q.Get("title_boost"), 64); err == nil {
		query.TitleBoost = v
	}
	s.logger.Debug("search request", zap.String("query", query.Text), zap.String("mode", string(query.Mode)))

	resp, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := s.store.CountSources(ctx)
	if err != nil {
		s.logger.Error("status: count sources failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunks, err := s.store.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"sources": sources,
		"chunks":  chunks,
	}
	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp["keyword_documents"] = n
		}
	}
	cfg := s.cfg
	resp["config"] = map[string]interface{}{
		"storage_driver":          cfg.Storage.Driver,
		"embedding_provider":      cfg.Embedding.Provider,
		"embedding_dimensions":    cfg.Embedding.Dimensions,
		"llm_provider":            cfg.LLM.Provider,
		"llm_model":               cfg.LLM.Model,
		"embedding_chunk_size":    cfg.Chunking.Embedding.Size,
		"embedding_chunk_overlap": cfg.Chunking.Embedding.Overlap,
		"summary_chunk_size":      cfg.Chunking.Summary.Size,
		"transform_concurrency":   cfg.Transformations.Concurrency,
	}
	scratch := cfg.Extraction.TempDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	if usage, err := storage.MeasureDiskUsage(cfg.Storage, scratch, s.uploadDir); err == nil {
		resp["disk_usage"] = usage
		resp["disk_usage_bytes"] = usage.Total()
	} else {
		s.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrNoContent),
		errors.Is(err, models.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func formBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// splitList accepts repeated form values and comma-separated lists.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
