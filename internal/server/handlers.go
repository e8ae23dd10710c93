package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/extract"
	"github.com/loghawk/loghawk/internal/models"
	"github.com/loghawk/loghawk/internal/pipeline"
	"github.com/loghawk/loghawk/internal/report"
	"github.com/loghawk/loghawk/internal/storage"
)

const maxUploadBytes = 100 << 20 // 100 MiB

// handleCreateUpload accepts a multipart log file and records it PENDING.
func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		renderError(w, r, http.StatusBadRequest, KindValidation, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, KindValidation, "missing file field")
		return
	}
	defer file.Close()

	if _, err := extract.ForFile(header.Filename); err != nil {
		renderError(w, r, http.StatusBadRequest, KindValidation, err.Error())
		return
	}

	upload, err := s.store.CreateUpload(userID(r), header.Filename, 0)
	if err != nil {
		s.logger.Error("create upload", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not record upload")
		return
	}

	size, err := s.content.Save(upload.ID, header.Filename, file)
	if err != nil {
		s.logger.Error("store upload content", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not store upload content")
		return
	}
	upload.SizeBytes = size
	// Size is informational; a failed update does not invalidate the upload.
	_ = s.store.SetUploadSize(upload.ID, size)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, upload)
}

// handleGetUpload returns the upload plus its analysis result. Polling this
// endpoint is how clients observe pipeline completion.
func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}

	resp := map[string]any{"upload": upload}
	if ar, err := s.store.GetAnalysisResult(upload.ID); err == nil {
		resp["analysisResult"] = ar
	}
	render.JSON(w, r, resp)
}

type analyzeRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl"`
}

// handleAnalyze triggers (re)analysis of an upload. The work itself runs in
// the background; the response only acknowledges the transition.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}

	reanalyze := r.URL.Query().Get("reanalyze") == "true"

	var override *models.ProviderOverride
	if r.Body != nil && r.ContentLength > 0 {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, http.StatusBadRequest, KindValidation, "malformed request body")
			return
		}
		if req.Provider != "" || req.APIKey != "" {
			override = &models.ProviderOverride{
				Provider: req.Provider,
				APIKey:   req.APIKey,
				Model:    req.Model,
				BaseURL:  req.BaseURL,
			}
		}
	}

	if upload.Status == storage.StatusCompleted && !reanalyze {
		if ar, err := s.store.GetAnalysisResult(upload.ID); err == nil {
			render.JSON(w, r, map[string]any{
				"message":          "analysis already completed",
				"analysisResultId": ar.ID,
			})
			return
		}
	}

	ar, err := s.pipeline.Start(upload.ID, userID(r), pipeline.StartOptions{
		Reanalyze: reanalyze,
		Override:  override,
	})
	if err != nil {
		var rle *pipeline.RateLimitedError
		switch {
		case errors.As(err, &rle):
			renderRateLimited(w, r, rle.RetryAfter.Milliseconds())
		case errors.Is(err, pipeline.ErrConflict):
			renderError(w, r, http.StatusConflict, KindConflict, "analysis already in progress")
		default:
			s.logger.Error("start analysis", zap.Error(err))
			renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not start analysis")
		}
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{
		"message":          "analysis started, poll the upload for status",
		"analysisResultId": ar.ID,
	})
}

// handleListFindings returns one page of the caller's findings.
func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.FindingFilter{
		UserID:   userID(r),
		Severity: q.Get("severity"),
		Category: q.Get("category"),
		Source:   q.Get("source"),
		Search:   q.Get("search"),
		Page:     intQuery(q.Get("page"), 1),
		Limit:    intQuery(q.Get("limit"), 25),
	}
	if filter.Severity != "" && !models.Severity(filter.Severity).Valid() {
		renderError(w, r, http.StatusBadRequest, KindValidation, "unknown severity")
		return
	}
	if filter.Category != "" && !models.Category(filter.Category).Valid() {
		renderError(w, r, http.StatusBadRequest, KindValidation, "unknown category")
		return
	}
	if v := q.Get("dateStart"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, KindValidation, "dateStart must be RFC3339")
			return
		}
		filter.DateStart = &t
	}
	if v := q.Get("dateEnd"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, KindValidation, "dateEnd must be RFC3339")
			return
		}
		filter.DateEnd = &t
	}

	rows, total, err := s.store.ListFindings(filter)
	if err != nil {
		s.logger.Error("list findings", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not list findings")
		return
	}

	render.JSON(w, r, map[string]any{
		"findings": rows,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

// handleReport streams the findings workbook for a completed analysis.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.ownedUpload(w, r)
	if !ok {
		return
	}
	ar, err := s.store.GetAnalysisResult(upload.ID)
	if err != nil {
		renderError(w, r, http.StatusNotFound, KindNotFound, "no analysis result for upload")
		return
	}
	findings, err := s.store.FindingsForResult(ar.ID)
	if err != nil {
		s.logger.Error("load findings", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not load findings")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(upload)+`"`)
	if err := report.WriteXLSX(w, upload, findings); err != nil {
		s.logger.Error("write report", zap.Error(err))
	}
}

// handleGetSettings returns the caller's settings with secrets masked.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context(), userID(r))
	if err != nil {
		s.logger.Error("load settings", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not load settings")
		return
	}
	if settings == nil {
		render.JSON(w, r, UserSettings{})
		return
	}
	render.JSON(w, r, settings.Masked())
}

// handlePutSettings merges an update into the stored settings; omitted
// fields keep their previously stored values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var update UserSettings
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		renderError(w, r, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	if err := s.settings.Put(r.Context(), userID(r), update); err != nil {
		s.logger.Error("save settings", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not save settings")
		return
	}
	settings, err := s.settings.Get(r.Context(), userID(r))
	if err != nil || settings == nil {
		render.JSON(w, r, UserSettings{})
		return
	}
	render.JSON(w, r, settings.Masked())
}

// ownedUpload loads the upload from the URL and enforces ownership.
func (s *Server) ownedUpload(w http.ResponseWriter, r *http.Request) (*storage.Upload, bool) {
	id := chi.URLParam(r, "id")
	upload, err := s.store.GetUpload(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			renderError(w, r, http.StatusNotFound, KindNotFound, "no such upload")
		} else {
			s.logger.Error("load upload", zap.Error(err))
			renderError(w, r, http.StatusInternalServerError, KindPipeline, "could not load upload")
		}
		return nil, false
	}
	if upload.UserID != userID(r) {
		renderError(w, r, http.StatusForbidden, KindForbidden, "not the upload owner")
		return nil, false
	}
	return upload, true
}

func intQuery(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
