package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sugb/survey-backend/app"
	"github.com/sugb/survey-backend/form"
	"github.com/sugb/survey-backend/httpx"
	"github.com/sugb/survey-backend/log"
	"github.com/sugb/survey-backend/model"
)

type saveSurveyRequest struct {
	Responses     form.AnswerMap `json:"responses" validate:"required"`
	IsComplete    bool           `json:"isComplete"`
	SurveyVersion string         `json:"surveyVersion"`
}

// GetSurvey returns the schema plus the caller's active draft, if any.
func GetSurvey(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sessionUserID(r)

		draft := model.SurveyResponse{UserID: userID}
		err := app.QueryRowContext(r.Context(), `
			SELECT id, responses, status
			FROM survey_responses
			WHERE user_id = ?
				AND status IN ('draft', 'in-progress')
			ORDER BY created_at DESC
			LIMIT 1`,
			userID,
		).Scan(&draft.ID, &draft.Responses, &draft.Status)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			httpx.LogInternalError(w, "db.get_draft", err)
			return
		}

		answers := form.AnswerMap{}
		if draft.Responses != "" {
			answers, err = form.ParseAnswers([]byte(draft.Responses))
			if err != nil {
				httpx.LogInternalError(w, "get_draft.parse_answers", err)
				return
			}
		}

		render.JSON(w, r, map[string]any{
			"schema":           app.Schema,
			"surveyResponseId": draft.ID,
			"responses":        answers,
			"status":           draft.Status,
			"progress":         form.Progress(app.Schema, answers),
		})
	}
}

// SaveSurvey upserts the caller's active draft. Repeated saves of the
// same payload are idempotent. With isComplete set, every section of the
// schema must validate or the request is refused with the error map.
func SaveSurvey(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := sessionUserID(r)

		req := saveSurveyRequest{}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := validate.Struct(req); err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.validate", "responses are required")
			return
		}
		if req.SurveyVersion == "" {
			req.SurveyVersion = "1.0"
		}

		if req.IsComplete {
			errs := map[string]string{}
			for _, sec := range app.Schema.Sections {
				for id, msg := range form.ValidateSection(sec, req.Responses) {
					errs[id] = msg
				}
			}
			if len(errs) > 0 {
				log.Debugf("save_survey.incomplete: %d invalid question(s)", len(errs))
				w.WriteHeader(http.StatusUnprocessableEntity)
				render.JSON(w, r, map[string]any{
					"error":  "survey is not complete",
					"fields": errs,
				})
				return
			}
		}

		answersJSON, err := form.EncodeAnswers(req.Responses)
		if err != nil {
			httpx.LogInternalError(w, "save_survey.encode_answers", err)
			return
		}

		status := model.ResponseInProgress
		var submittedAt any
		if req.IsComplete {
			status = model.ResponseCompleted
			submittedAt = time.Now().UTC()
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var responseID string
		err = tx.QueryRowContext(r.Context(), `
			SELECT id FROM survey_responses
			WHERE user_id = ?
				AND status IN ('draft', 'in-progress')
			ORDER BY created_at DESC
			LIMIT 1`,
			userID,
		).Scan(&responseID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			responseID = uuid.NewString()
			if !req.IsComplete {
				status = model.ResponseDraft
			}
			_, err = tx.ExecContext(r.Context(), `
				INSERT INTO survey_responses (id, user_id, survey_version, responses, status, submitted_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				responseID, userID, req.SurveyVersion, string(answersJSON), status, submittedAt,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.insert_response", err)
				return
			}
		case err != nil:
			httpx.LogInternalError(w, "db.get_draft", err)
			return
		default:
			_, err = tx.ExecContext(r.Context(), `
				UPDATE survey_responses
				SET responses = ?, status = ?, submitted_at = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`,
				string(answersJSON), status, submittedAt, responseID,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.update_response", err)
				return
			}
		}

		err = auditTx(r, tx, model.AuditEntry{
			UserID:       userID,
			Action:       auditAction(req.IsComplete),
			ResourceType: "survey_response",
			ResourceID:   responseID,
			Details: map[string]any{
				"survey_version": req.SurveyVersion,
				"response_count": len(req.Responses),
			},
		})
		if err != nil {
			httpx.LogInternalError(w, "db.insert_audit", err)
			return
		}

		if err = tx.Commit(); err != nil {
			httpx.LogInternalError(w, "db.save_response.commit", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"surveyResponseId": responseID,
			"message":          saveMessage(req.IsComplete),
		})
	}
}

func auditAction(complete bool) string {
	if complete {
		return "survey_submitted"
	}
	return "survey_saved"
}

func saveMessage(complete bool) string {
	if complete {
		return "Survey submitted successfully"
	}
	return "Survey saved successfully"
}

func auditTx(r *http.Request, tx *sql.Tx, entry model.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, details)
		VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, string(details),
	)
	return err
}
