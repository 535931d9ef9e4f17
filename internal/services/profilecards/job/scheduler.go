package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/id"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

// Spec names a job for monitors.
type Spec struct {
	Name        string
	Description string
	Icon        string
	// Key serializes jobs: only one job per non-empty key may be pending or
	// running at a time.
	Key       string
	Principal string
}

// Sink receives progress from running work.
type Sink interface {
	AppendMessage(text string)
	// SetAlert records the single message shown to the user when the job
	// ends.
	SetAlert(text string)
}

// WorkFunc is the body of a job. Returning nil completes the job; returning
// an error wrapping context.Canceled cancels it; any other error fails it.
type WorkFunc func(ctx context.Context, sink Sink) error

// Recorder persists the job ledger.
type Recorder interface {
	PutJob(ctx context.Context, record storage.JobRecord) error
	AppendJobMessage(ctx context.Context, jobID string, message storage.JobMessage) error
}

// Progress is a point-in-time copy of a job's state.
type Progress struct {
	ID        string
	Spec      Spec
	State     State
	Messages  []string
	Alert     string
	ErrorCode string
}

// Handle tracks one submitted job.
type Handle struct {
	id       string
	spec     Spec
	created  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	recorder Recorder

	mu       sync.Mutex
	state    State
	messages []string
	alert    string
	err      error
	started  *time.Time
	finished *time.Time
}

// ID returns the job identifier.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Messages returns a copy of the progress lines so far.
func (h *Handle) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...)
}

// Alert returns the terminal alert, if any.
func (h *Handle) Alert() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alert
}

// Err returns the error that ended the job, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the job to stop at its next cancellation point.
func (h *Handle) Cancel() { h.cancel() }

// Progress returns a snapshot of the job.
func (h *Handle) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Progress{
		ID:        h.id,
		Spec:      h.spec,
		State:     h.state,
		Messages:  append([]string(nil), h.messages...),
		Alert:     h.alert,
		ErrorCode: errorCode(h.err),
	}
}

// AppendMessage implements Sink.
func (h *Handle) AppendMessage(text string) {
	h.mu.Lock()
	h.messages = append(h.messages, text)
	seq := len(h.messages)
	h.mu.Unlock()

	if h.recorder == nil {
		return
	}
	if err := h.recorder.AppendJobMessage(context.Background(), h.id, storage.JobMessage{Seq: seq, Text: text}); err != nil {
		log.Printf("job %s: record message %d: %v", h.id, seq, err)
	}
}

// SetAlert implements Sink.
func (h *Handle) SetAlert(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alert = text
}

func (h *Handle) transition(state State, err error) {
	now := time.Now().UTC()
	h.mu.Lock()
	h.state = state
	switch {
	case state == StateRunning:
		h.started = &now
	case state.Terminal():
		h.finished = &now
		h.err = err
	}
	record := h.recordLocked()
	h.mu.Unlock()

	if h.recorder == nil {
		return
	}
	if err := h.recorder.PutJob(context.Background(), record); err != nil {
		log.Printf("job %s: record state %s: %v", h.id, state, err)
	}
}

func (h *Handle) recordLocked() storage.JobRecord {
	return storage.JobRecord{
		ID:          h.id,
		Name:        h.spec.Name,
		Description: h.spec.Description,
		Icon:        h.spec.Icon,
		Key:         h.spec.Key,
		Principal:   h.spec.Principal,
		State:       string(h.state),
		Alert:       h.alert,
		ErrorCode:   errorCode(h.err),
		CreatedAt:   h.created,
		StartedAt:   h.started,
		FinishedAt:  h.finished,
	}
}

func errorCode(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return string(apperrors.CodeOf(err))
}

// Scheduler runs submitted work on background goroutines.
type Scheduler struct {
	recorder Recorder
	metrics  *Metrics

	mu      sync.Mutex
	handles map[string]*Handle
	active  map[string]string
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. recorder and metrics may be nil.
func NewScheduler(recorder Recorder, metrics *Metrics) *Scheduler {
	return &Scheduler{
		recorder: recorder,
		metrics:  metrics,
		handles:  map[string]*Handle{},
		active:   map[string]string{},
	}
}

// Submit accepts work and starts it asynchronously. The job keeps ctx's
// values but not its cancellation. A second job for an active Key is
// rejected with BULK_APPLY_IN_PROGRESS.
func (s *Scheduler) Submit(ctx context.Context, spec Spec, work WorkFunc) (*Handle, error) {
	if work == nil {
		return nil, fmt.Errorf("work func is required")
	}
	jobID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &Handle{
		id:       jobID,
		spec:     spec,
		created:  time.Now().UTC(),
		cancel:   cancel,
		done:     make(chan struct{}),
		recorder: s.recorder,
		state:    StatePending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("scheduler is shut down")
	}
	if spec.Key != "" {
		if activeID, busy := s.active[spec.Key]; busy {
			s.mu.Unlock()
			cancel()
			return nil, apperrors.WithMetadata(apperrors.CodeBulkApplyInProgress, "job "+activeID+" is already running for "+spec.Key,
				map[string]string{"job_id": activeID})
		}
		s.active[spec.Key] = jobID
	}
	s.handles[jobID] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	handle.transition(StatePending, nil)
	go s.run(runCtx, handle, work)
	return handle, nil
}

func (s *Scheduler) run(ctx context.Context, handle *Handle, work WorkFunc) {
	defer s.wg.Done()
	defer handle.cancel()

	handle.transition(StateRunning, nil)
	s.metrics.jobStarted()
	started := time.Now()

	err := runWork(ctx, handle, work)
	state := StateCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		state = StateCancelled
	default:
		state = StateFailed
	}
	handle.transition(state, err)
	s.metrics.jobFinished(state, time.Since(started))
	if err != nil && state == StateFailed {
		log.Printf("job %s (%s) failed: %v", handle.id, handle.spec.Name, err)
	} else {
		log.Printf("job %s (%s) %s", handle.id, handle.spec.Name, state)
	}

	s.mu.Lock()
	if handle.spec.Key != "" && s.active[handle.spec.Key] == handle.id {
		delete(s.active, handle.spec.Key)
	}
	s.mu.Unlock()
	close(handle.done)
}

func runWork(ctx context.Context, sink Sink, work WorkFunc) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job panicked: %v", recovered)
		}
	}()
	return work(ctx, sink)
}

// Get returns a submitted job's handle.
func (s *Scheduler) Get(jobID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[jobID]
	return handle, ok
}

// Cancel signals one job. It reports false for unknown jobs.
func (s *Scheduler) Cancel(jobID string) bool {
	handle, ok := s.Get(jobID)
	if !ok {
		return false
	}
	handle.Cancel()
	return true
}

// Prune forgets terminal jobs that finished before cutoff.
func (s *Scheduler) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for jobID, handle := range s.handles {
		handle.mu.Lock()
		expired := handle.state.Terminal() && handle.finished != nil && handle.finished.Before(cutoff)
		handle.mu.Unlock()
		if expired {
			delete(s.handles, jobID)
			removed++
		}
	}
	return removed
}

// Shutdown stops accepting work, cancels running jobs and waits for them
// until ctx ends.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, handle := range s.handles {
		handle.Cancel()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
