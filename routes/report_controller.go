package routes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	json "github.com/goccy/go-json"
	"github.com/sugb/survey-backend/app"
	"github.com/sugb/survey-backend/httpx"
	"github.com/sugb/survey-backend/log"
	"github.com/sugb/survey-backend/queue"
	"github.com/sugb/survey-backend/report"
)

type generatePDFRequest struct {
	SurveyResponseID string         `json:"surveyResponseId" validate:"required,uuid4"`
	Options          report.Options `json:"options"`
}

// GeneratePDF enqueues a report-generation job for one of the caller's
// survey responses and kicks a background drain. The response returns
// immediately with the job id; rendering happens off the request path.
func GeneratePDF(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sessionUserID(r)

		req := generatePDFRequest{}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := validate.Struct(req); err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.validate", "survey response ID is required")
			return
		}

		var exists bool
		err := app.QueryRowContext(r.Context(), `
			SELECT 1 FROM survey_responses
			WHERE id = ?
				AND user_id = ?`,
			req.SurveyResponseID, userID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "generate_pdf.get_response", req.SurveyResponseID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_response", err)
			return
		}

		payload, err := json.Marshal(req.Options)
		if err != nil {
			httpx.LogInternalError(w, "generate_pdf.encode_options", err)
			return
		}

		jobID, err := app.Queue.Enqueue(r.Context(), req.SurveyResponseID, payload)
		if err != nil {
			httpx.LogInternalError(w, "queue.enqueue", err)
			return
		}

		go func() {
			if err := app.Queue.Drain(context.Background()); err != nil {
				log.Errorf("queue.drain: %s", err)
			}
		}()

		render.JSON(w, r, map[string]any{
			"message": "PDF generation started",
			"jobId":   jobID,
		})
	}
}

// PDFStatus reports a job's progress, exposing the artifact locator once
// any generation for the target response has produced one.
func PDFStatus(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")

		info, err := app.Queue.GetStatus(r.Context(), jobID)
		if errors.Is(err, queue.ErrJobNotFound) {
			httpx.LogNotFound(w, "pdf_status.get_job", jobID)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "queue.get_status", err)
			return
		}

		render.JSON(w, r, info)
	}
}

// DownloadPDF serves a stored artifact. A cache miss regenerates the
// report from the response id embedded in the filename and re-persists it
// under the same name, so old links keep working.
func DownloadPDF(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "download_pdf.bad_filename")
			return
		}

		data, err := app.Renderer.Fetch(r.Context(), filename)
		if errors.Is(err, report.ErrNotFound) {
			httpx.LogNotFound(w, "download_pdf.fetch", filename)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "download_pdf.fetch", err)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Cache-Control", "private, max-age=0, no-cache")
		if _, err := w.Write(data); err != nil {
			log.Debugf("download_pdf.write: %s", err)
		}
	}
}
