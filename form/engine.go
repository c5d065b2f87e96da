package form

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sugb/survey-backend/log"
)

var (
	ErrSectionInvalid = errors.New("form: current section has validation errors")
	ErrSectionLocked  = errors.New("form: section is not yet unlocked")
	ErrNoNextSection  = errors.New("form: already on the last section")
	ErrBadSection     = errors.New("form: section index out of range")
	ErrFormInvalid    = errors.New("form: one or more sections are invalid")
	ErrClosed         = errors.New("form: session is closed")
)

// SaveFunc persists a draft of the full answer set. It must be an
// idempotent upsert keyed on the active draft.
type SaveFunc func(ctx context.Context, answers AnswerMap, complete bool) error

// SubmitFunc finalizes the survey once every section validates.
type SubmitFunc func(ctx context.Context, answers AnswerMap) error

// Engine drives one survey session: it owns the answer map, computes
// visibility, validity, progress and navigation permissions, and performs
// debounced autosaving through the injected save callback.
//
// A session belongs to a single user; the mutex only guards against the
// autosave timer goroutine, which is the one asynchronous suspension
// point.
type Engine struct {
	mu        sync.Mutex
	schema    *Schema
	answers   AnswerMap
	current   int
	completed map[string]bool

	dirty     bool
	rev       uint64
	lastSaved time.Time
	lastError string

	wait   time.Duration
	timer  *time.Timer
	closed bool

	save   SaveFunc
	submit SubmitFunc
}

type Option func(*Engine)

// WithAutosaveWait sets the debounce window for autosaving. Zero disables
// scheduled saves entirely; manual and checkpoint saves still work.
func WithAutosaveWait(d time.Duration) Option {
	return func(e *Engine) { e.wait = d }
}

func NewEngine(schema *Schema, initial AnswerMap, save SaveFunc, submit SubmitFunc, opts ...Option) *Engine {
	e := &Engine{
		schema:    schema,
		answers:   initial.Clone(),
		completed: map[string]bool{},
		wait:      2 * time.Second,
		save:      save,
		submit:    submit,
	}
	if e.answers == nil {
		e.answers = AnswerMap{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAnswer records one answer, marks the session dirty and (re)schedules
// the debounced autosave. A new change within the debounce window cancels
// the prior pending timer, so only one save fires per quiet period.
func (e *Engine) SetAnswer(questionID string, a Answer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.answers[questionID] = a
	e.rev++
	e.dirty = true
	e.scheduleLocked()
}

func (e *Engine) scheduleLocked() {
	if e.wait <= 0 {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.wait, func() {
		if err := e.Save(context.Background()); err != nil {
			log.Debugf("form.autosave: %s", err)
		}
	})
}

func (e *Engine) cancelTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Save performs an immediate save of the current answers when the session
// is dirty. A failed save keeps the dirty flag set so the next change or
// manual save retries; answers are never touched. If newer edits arrive
// while the callback is in flight, the session stays dirty.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.cancelTimerLocked()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	rev := e.rev
	snapshot := e.answers.Clone()
	e.mu.Unlock()

	err := e.save(ctx, snapshot, false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastError = err.Error()
		return err
	}
	e.lastError = ""
	e.lastSaved = time.Now()
	if e.rev == rev {
		e.dirty = false
	}
	return nil
}

// Next advances to the following section. The current section must be
// valid, and any dirty state is flushed first: the persisted draft never
// lags the visible section by more than one in-flight save.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.current >= len(e.schema.Sections)-1 {
		e.mu.Unlock()
		return ErrNoNextSection
	}
	sec := e.schema.Sections[e.current]
	if !SectionValid(sec, e.answers) {
		e.mu.Unlock()
		return ErrSectionInvalid
	}
	dirty := e.dirty
	e.mu.Unlock()

	if dirty {
		if err := e.Save(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed[sec.ID] = true
	e.current++
	return nil
}

// Previous steps back one section. Going backward is always permitted.
func (e *Engine) Previous() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current > 0 {
		e.current--
	}
}

// JumpTo moves directly to a section. Backward jumps are always allowed;
// forward jumps only up to the furthest unlocked section. A locked target
// leaves the current index unchanged.
func (e *Engine) JumpTo(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.schema.Sections) {
		return ErrBadSection
	}
	if index > e.current && index > e.furthestUnlockedLocked() {
		return ErrSectionLocked
	}
	e.current = index
	return nil
}

// Submit flushes pending dirty state, then invokes the submit callback.
// It is refused while any section, visited or not, is invalid.
func (e *Engine) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	for _, sec := range e.schema.Sections {
		if !SectionValid(sec, e.answers) {
			e.mu.Unlock()
			return ErrFormInvalid
		}
	}
	dirty := e.dirty
	e.mu.Unlock()

	if dirty {
		if err := e.Save(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	snapshot := e.answers.Clone()
	e.mu.Unlock()

	err := e.submit(ctx, snapshot)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastError = err.Error()
		return err
	}
	e.lastError = ""
	return nil
}

// Close releases the pending autosave timer. Further mutations are
// rejected.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimerLocked()
	e.closed = true
}

// CurrentSection returns the active section and its index.
func (e *Engine) CurrentSection() (Section, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schema.Sections[e.current], e.current
}

// VisibleQuestions lists the active section's questions whose conditional
// rules currently evaluate to shown.
func (e *Engine) VisibleQuestions() []Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	sec := e.schema.Sections[e.current]
	visible := make([]Question, 0, len(sec.Questions))
	for _, q := range sec.Questions {
		if ShouldShowQuestion(q, e.answers) {
			visible = append(visible, q)
		}
	}
	return visible
}

// Errors returns the validation error map for the active section.
func (e *Engine) Errors() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ValidateSection(e.schema.Sections[e.current], e.answers)
}

// Progress returns the overall completion percentage.
func (e *Engine) Progress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Progress(e.schema, e.answers)
}

// FurthestUnlocked is the highest section index reachable given that
// every preceding section currently validates.
func (e *Engine) FurthestUnlocked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.furthestUnlockedLocked()
}

func (e *Engine) furthestUnlockedLocked() int {
	k := 0
	for k < len(e.schema.Sections)-1 && SectionValid(e.schema.Sections[k], e.answers) {
		k++
	}
	return k
}

// Answer returns the stored answer for a question, present or not.
func (e *Engine) Answer(questionID string) (Answer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.answers[questionID]
	return a, ok
}

// Answers returns a snapshot of the full answer map, hidden questions
// included: toggling visibility never destroys data.
func (e *Engine) Answers() AnswerMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.answers.Clone()
}

// CompletedSections lists ids of sections the user has advanced past.
func (e *Engine) CompletedSections() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.completed))
	for _, sec := range e.schema.Sections {
		if e.completed[sec.ID] {
			ids = append(ids, sec.ID)
		}
	}
	return ids
}

func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

func (e *Engine) LastSaved() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSaved
}

// LastError is the user-visible message of the most recent failed save or
// submit, cleared by the next success.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}
