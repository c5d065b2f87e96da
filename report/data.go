package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sugb/survey-backend/form"
)

// ReportData is everything the renderer needs about one survey response.
type ReportData struct {
	ResponseID  string
	Answers     form.AnswerMap
	SubmittedAt *time.Time
	GeneratedAt time.Time
}

// ResponseSource loads report data for a survey response and records the
// artifact locator back against it once a generation completes.
type ResponseSource interface {
	ReportData(ctx context.Context, responseID string) (*ReportData, error)
	RecordArtifact(ctx context.Context, responseID, artifactRef string) error
}

// SQLResponseSource reads survey_responses rows.
type SQLResponseSource struct {
	db *sql.DB
}

func NewSQLResponseSource(db *sql.DB) *SQLResponseSource {
	return &SQLResponseSource{db: db}
}

func (s *SQLResponseSource) ReportData(ctx context.Context, responseID string) (*ReportData, error) {
	var rawAnswers string
	var submittedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT responses, submitted_at
		FROM survey_responses
		WHERE id = ?`,
		responseID,
	).Scan(&rawAnswers, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: survey response %s", ErrNotFound, responseID)
	}
	if err != nil {
		return nil, err
	}

	answers, err := form.ParseAnswers([]byte(rawAnswers))
	if err != nil {
		return nil, err
	}

	data := &ReportData{
		ResponseID:  responseID,
		Answers:     answers,
		GeneratedAt: time.Now(),
	}
	if submittedAt.Valid {
		data.SubmittedAt = &submittedAt.Time
	}
	return data, nil
}

func (s *SQLResponseSource) RecordArtifact(ctx context.Context, responseID, artifactRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE survey_responses
		SET pdf_generated = 1, pdf_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		artifactRef, responseID,
	)
	return err
}
