package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore persists jobs in the queue_jobs table. The claim step relies
// on a conditional UPDATE keyed on the current status, so two drainers
// never pick the same job.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, job *Job) error {
	payload := job.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_jobs (id, survey_response_id, type, payload, status, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ResponseID, job.Type, string(payload), job.Status,
		job.Attempts, job.MaxAttempts, job.CreatedAt,
	)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, survey_response_id, type, payload, status, attempts, max_attempts,
			error_message, pdf_url, created_at, started_at, completed_at
		FROM queue_jobs
		WHERE id = ?`,
		id,
	)
	return scanJob(row)
}

func (s *SQLStore) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, survey_response_id, type, payload, status, attempts, max_attempts,
			error_message, pdf_url, created_at, started_at, completed_at
		FROM queue_jobs
		WHERE status = 'pending'
			AND attempts < max_attempts
		ORDER BY created_at ASC
		LIMIT 1`,
	)
	job, err := scanJob(row)
	if errors.Is(err, ErrJobNotFound) {
		return nil, ErrNoJob
	}
	return job, err
}

func (s *SQLStore) Claim(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = 'processing', attempts = attempts + 1, started_at = ?
		WHERE id = ?
			AND status = 'pending'`,
		startedAt, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) Complete(ctx context.Context, id, artifactRef string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = 'completed', pdf_url = ?, completed_at = ?, error_message = NULL
		WHERE id = ?`,
		artifactRef, completedAt, id,
	)
	return err
}

// Release decides pending vs. failed from the stored counter, not from
// anything the caller read earlier, so a concurrent drainer cannot
// resurrect an exhausted job.
func (s *SQLStore) Release(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			error_message = ?
		WHERE id = ?`,
		errMsg, id,
	)
	return err
}

func (s *SQLStore) ArtifactForResponse(ctx context.Context, responseID string) (string, error) {
	var url sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT pdf_url FROM survey_responses WHERE id = ?`,
		responseID,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return url.String, nil
}

func (s *SQLStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			error_message = CASE
				WHEN attempts >= max_attempts AND error_message IS NULL THEN 'processing timed out'
				ELSE error_message
			END
		WHERE status = 'processing'
			AND started_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanJob(row *sql.Row) (*Job, error) {
	job := &Job{}
	var payload string
	var errMsg, pdfUrl sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.ResponseID, &job.Type, &payload, &job.Status,
		&job.Attempts, &job.MaxAttempts,
		&errMsg, &pdfUrl, &job.CreatedAt, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.ErrorMsg = errMsg.String
	job.ArtifactRef = pdfUrl.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}
