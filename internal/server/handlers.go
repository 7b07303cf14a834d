package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/shiru/internal/answer"
	"github.com/hyperjump/shiru/internal/config"
	"github.com/hyperjump/shiru/internal/models"
	"go.uber.org/zap"
)

type ingestRequest struct {
	Locator   string `json:"locator" validate:"required"`
	SourceTag string `json:"source_tag,omitempty"`
}

type ingestTextRequest struct {
	Text      string `json:"text" validate:"required"`
	Source    string `json:"source" validate:"required"`
	Title     string `json:"title,omitempty"`
	SourceTag string `json:"source_tag,omitempty"`
}

type ingestURLsRequest struct {
	URLs      []string `json:"urls" validate:"required,min=1,dive,url"`
	SourceTag string   `json:"source_tag,omitempty"`
}

type askRequest struct {
	Question string `json:"question" validate:"required"`
	K        *int   `json:"k,omitempty"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	models.Status
	Config StatusConfig `json:"config"`
}

// StatusConfig is the subset of configuration reported by /status.
type StatusConfig struct {
	EmbeddingProvider string  `json:"embedding_provider"`
	ChunkSize         int     `json:"chunk_size"`
	ChunkOverlap      int     `json:"chunk_overlap"`
	DefaultK          int     `json:"default_k"`
	MaxK              int     `json:"max_k"`
	KeywordWeight     float64 `json:"keyword_weight"`
	VectorWeight      float64 `json:"vector_weight"`
	AnswerProvider    string  `json:"answer_provider"`
}

type watchAddRequest struct {
	Path string `json:"path" validate:"required"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("ingest request", zap.String("locator", req.Locator), zap.String("source_tag", req.SourceTag))
	report, err := s.pipeline.IngestLocator(r.Context(), req.Locator, req.SourceTag)
	s.respondReport(w, report, err)
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if !s.decode(w, r, &req) {
		return
	}
	meta := map[string]any{models.MetaSource: req.Source}
	if req.Title != "" {
		meta[models.MetaTitle] = req.Title
	}
	s.logger.Debug("ingest text request", zap.String("source", req.Source), zap.Int("bytes", len(req.Text)))
	report, err := s.pipeline.Ingest(r.Context(), []models.Document{{Text: req.Text, Metadata: meta}}, req.SourceTag)
	report.Locator = req.Source
	s.respondReport(w, report, err)
}

func (s *Server) handleIngestURLs(w http.ResponseWriter, r *http.Request) {
	var req ingestURLsRequest
	if !s.decode(w, r, &req) {
		return
	}
	reports := make([]models.IngestReport, 0, len(req.URLs))
	for _, u := range req.URLs {
		report, err := s.pipeline.IngestLocator(r.Context(), u, req.SourceTag)
		if err != nil {
			s.logger.Warn("url ingest failed", zap.String("url", u), zap.Error(err))
		}
		reports = append(reports, report)
	}
	s.respondJSON(w, http.StatusOK, reports)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.RetryPending(r.Context())
	s.respondReport(w, report, err)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	k := s.k(req.K)
	mode := req.Mode
	if mode == "" {
		mode = models.ModeVector
	}
	s.logger.Debug("query request", zap.String("question", req.Question), zap.Int("k", k), zap.String("mode", mode))
	started := time.Now()
	var (
		results []*models.SearchResult
		err     error
	)
	if mode == models.ModeHybrid {
		results, err = s.pipeline.HybridQuery(r.Context(), req.Question, k)
	} else {
		results, err = s.pipeline.Query(r.Context(), req.Question, k)
	}
	if err != nil {
		s.respondErr(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.QueryResponse{
		Question:    req.Question,
		K:           k,
		Mode:        mode,
		Results:     results,
		QueryTimeMs: time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.pipeline.Ask(r.Context(), req.Question, s.k(req.K))
	if err != nil {
		s.respondErr(w, "ask failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer.Cite(result))
}

func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Clear(r.Context()); err != nil {
		s.respondErr(w, "clear failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ClearCache()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipeline.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, StatusResponse{
		Status: st,
		Config: StatusConfig{
			EmbeddingProvider: s.cfg.Embedding.Provider,
			ChunkSize:         s.cfg.Chunking.Size,
			ChunkOverlap:      s.cfg.Chunking.Overlap,
			DefaultK:          s.cfg.Search.DefaultK,
			MaxK:              s.cfg.Search.MaxK,
			KeywordWeight:     s.cfg.Search.KeywordWeight,
			VectorWeight:      s.cfg.Search.VectorWeight,
			AnswerProvider:    s.cfg.Answer.Provider,
		},
	})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", models.KindInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"directories": s.watch.Directories()})
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", models.KindInternal)
		return
	}
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path", models.KindInvalidArgument)
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found", models.KindInvalidArgument)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error(), models.KindInternal)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory", models.KindInvalidArgument)
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled", models.KindInternal)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)", models.KindInvalidArgument)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path", models.KindInvalidArgument)
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) k(requested *int) int {
	if requested != nil {
		return *requested
	}
	if s.cfg.Search.DefaultK > 0 {
		return s.cfg.Search.DefaultK
	}
	return 5
}

// decode reads a JSON body into v and validates it. It writes the error response and returns
// false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", models.KindInvalidArgument)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, validationMessage(err), models.KindInvalidArgument)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidArgument, models.KindEmptyInput:
		return http.StatusBadRequest
	case models.KindLoadFailure:
		return http.StatusUnprocessableEntity
	case models.KindDimensionMismatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondReport writes an ingest report. Failed ingests carry the error inside the report and
// use the status of its kind.
func (s *Server) respondReport(w http.ResponseWriter, report models.IngestReport, err error) {
	if err != nil {
		s.respondJSON(w, statusFor(models.KindOf(err)), report)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error(), kind)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string, kind models.ErrorKind) {
	s.respondJSON(w, status, map[string]string{"error": message, "kind": string(kind)})
}
