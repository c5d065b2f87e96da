package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sugb/survey-backend/log"
)

// Renderer is the report-generation collaborator. It renders the report
// for the target resource, persists the artifact and returns its locator.
type Renderer interface {
	Render(ctx context.Context, responseID string, options []byte) (artifactRef string, err error)
}

// Queue decouples report generation from the request path. It is an
// explicit component instance constructed once at startup and passed to
// its callers, never a package-level singleton.
type Queue struct {
	store       Store
	renderer    Renderer
	maxAttempts int
	jobDelay    time.Duration
	staleAfter  time.Duration
}

type Option func(*Queue)

// WithMaxAttempts bounds the retries per job.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithJobDelay adds a pause between processed jobs so a busy queue does
// not saturate the renderer.
func WithJobDelay(d time.Duration) Option {
	return func(q *Queue) { q.jobDelay = d }
}

// WithStaleAfter enables reclaiming of jobs stuck in processing (e.g. a
// crashed drainer) for longer than d. Zero disables reclaiming.
func WithStaleAfter(d time.Duration) Option {
	return func(q *Queue) { q.staleAfter = d }
}

func New(store Store, renderer Renderer, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		renderer:    renderer,
		maxAttempts: 3,
		jobDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a pending job and returns its id immediately; the
// caller does not wait for rendering.
func (q *Queue) Enqueue(ctx context.Context, responseID string, options []byte) (string, error) {
	job := &Job{
		ID:          uuid.NewString(),
		ResponseID:  responseID,
		Type:        TypePDFGeneration,
		Payload:     options,
		Status:      StatusPending,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	log.Debugf("queue.enqueue: job %s for response %s", job.ID, responseID)
	return job.ID, nil
}

// Drain processes eligible jobs one at a time until none remain. Renderer
// failures are contained per job and never abort the loop. Safe to invoke
// from multiple goroutines: the claim step arbitrates.
func (q *Queue) Drain(ctx context.Context) error {
	if q.staleAfter > 0 {
		cutoff := time.Now().Add(-q.staleAfter)
		if n, err := q.store.ReclaimStale(ctx, cutoff); err != nil {
			log.Warnf("queue.reclaim: %s", err)
		} else if n > 0 {
			log.Infof("queue.reclaim: requeued %d stale job(s)", n)
		}
	}

	for {
		processed, err := q.processNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
		if q.jobDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.jobDelay):
			}
		}
	}
}

// processNext claims and runs one job attempt. It reports false once no
// eligible job is left. Losing a claim race is not an error; the drainer
// simply looks for the next candidate.
func (q *Queue) processNext(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		job, err := q.store.NextPending(ctx)
		if err == ErrNoJob {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("queue: next pending: %w", err)
		}

		claimed, err := q.store.Claim(ctx, job.ID, time.Now().UTC())
		if err != nil {
			return false, fmt.Errorf("queue: claim: %w", err)
		}
		if !claimed {
			continue
		}

		attempt := job.Attempts + 1
		artifactRef, renderErr := q.render(ctx, job)
		if renderErr != nil {
			log.Warnf("queue.render: job %s attempt %d/%d: %s", job.ID, attempt, job.MaxAttempts, renderErr)
			if err := q.store.Release(ctx, job.ID, renderErr.Error()); err != nil {
				return false, fmt.Errorf("queue: release: %w", err)
			}
			return true, nil
		}

		if err := q.store.Complete(ctx, job.ID, artifactRef, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("queue: complete: %w", err)
		}
		log.Infof("queue.render: job %s completed (%s)", job.ID, artifactRef)
		return true, nil
	}
}

// render invokes the renderer, converting panics into per-job errors so a
// crashing rendering engine cannot take the drain loop down.
func (q *Queue) render(ctx context.Context, job *Job) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renderer panic: %v", r)
		}
	}()
	return q.renderer.Render(ctx, job.ResponseID, job.Payload)
}

// GetStatus reports a job's current state. When the job has no artifact
// reference yet, an artifact already recorded against the target response
// (from an older completed generation) is reported instead.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (StatusInfo, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return StatusInfo{}, err
	}

	artifactRef := job.ArtifactRef
	if artifactRef == "" {
		artifactRef, err = q.store.ArtifactForResponse(ctx, job.ResponseID)
		if err != nil {
			return StatusInfo{}, err
		}
	}

	return StatusInfo{
		ID:          job.ID,
		Status:      job.Status,
		Attempts:    job.Attempts,
		Error:       job.ErrorMsg,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		ArtifactRef: artifactRef,
	}, nil
}

// Poller is a cancellable status-watch handle. It stops on Stop, context
// cancellation, or once the job reaches a terminal status.
type Poller struct {
	updates chan StatusInfo
	stop    chan struct{}
	once    sync.Once
}

// Updates delivers a StatusInfo per poll tick; the channel closes when
// polling ends.
func (p *Poller) Updates() <-chan StatusInfo {
	return p.updates
}

func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// PollStatus watches a job at the given interval.
func (q *Queue) PollStatus(ctx context.Context, jobID string, interval time.Duration) *Poller {
	p := &Poller{
		updates: make(chan StatusInfo),
		stop:    make(chan struct{}),
	}

	go func() {
		defer close(p.updates)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			info, err := q.GetStatus(ctx, jobID)
			if err != nil {
				log.Debugf("queue.poll: job %s: %s", jobID, err)
			} else {
				select {
				case p.updates <- info:
				case <-ctx.Done():
					return
				case <-p.stop:
					return
				}
				if info.Status.Terminal() {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
			}
		}
	}()

	return p
}
