package model

import "time"

type ResponseStatus string

const (
	ResponseDraft      ResponseStatus = "draft"
	ResponseInProgress ResponseStatus = "in-progress"
	ResponseCompleted  ResponseStatus = "completed"
)

type SurveyResponse struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	SurveyVersion string         `json:"surveyVersion"`
	Responses     string         `json:"-"` // raw answer map JSON
	Status        ResponseStatus `json:"status"`
	SubmittedAt   *time.Time     `json:"submittedAt,omitempty"`
	PdfGenerated  bool           `json:"pdfGenerated"`
	PdfUrl        string         `json:"pdfUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type AuditEntry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}
