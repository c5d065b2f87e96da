package queue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a job can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const TypePDFGeneration = "pdf_generation"

// Job is one durable request to render and store a report artifact. It is
// owned by the job store; a drainer borrows it for the duration of one
// processing attempt.
type Job struct {
	ID          string     `json:"id"`
	ResponseID  string     `json:"surveyResponseId"`
	Type        string     `json:"type"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	ErrorMsg    string     `json:"errorMessage,omitempty"`
	ArtifactRef string     `json:"artifactRef,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StatusInfo is the read-only projection served to status queries.
type StatusInfo struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ArtifactRef string     `json:"pdfUrl,omitempty"`
}
