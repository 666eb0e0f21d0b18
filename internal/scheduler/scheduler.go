// Package scheduler persists jobs, fires them on time and records outcomes.
// A single dispatcher goroutine sleeps on the earliest-firing job in a
// min-heap; executions run concurrently but never more than one in flight
// per job. Jobs go through the router's run entry point, so scheduled calls
// face the same validation and confirmation policy as direct ones.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/toolerr"
)

// Runner is the router's run entry point. The scheduler never bypasses it.
type Runner interface {
	Run(ctx context.Context, toolID string, args map[string]interface{}) (string, error)
}

// heapEntry is one pending firing.
type heapEntry struct {
	jobID  string
	fireAt time.Time
}

type fireHeap []heapEntry

func (h fireHeap) Len() int            { return len(h) }
func (h fireHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h fireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *fireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Scheduler is the dispatcher plus the job CRUD surface.
type Scheduler struct {
	cfg    *config.Config
	store  *Store
	runner Runner
	logger *zap.Logger

	mu       sync.Mutex
	pending  fireHeap
	inFlight map[string]bool
	wake     chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler over a job store and a runner.
func New(cfg *config.Config, store *Store, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		logger:   logger.Named("scheduler"),
		inFlight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Start loads persisted jobs, recomputes their next-fire times from now and
// runs the dispatcher until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, job := range jobs {
		if job.Status != JobActive {
			continue
		}
		if err := s.scheduleNext(job, now); err != nil {
			s.logger.Warn("Failed to schedule persisted job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.wg.Add(1)
	go s.compactLoop(ctx)
	return nil
}

// Stop waits for the dispatcher and in-flight executions to wind down.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.wg.Wait()
}

// scheduleNext computes a job's next fire time after `after` and inserts it
// into the heap. A job with nothing left to fire is marked completed.
func (s *Scheduler) scheduleNext(job *Job, after time.Time) error {
	spec, err := ParseStored(job.Schedule)
	if err != nil {
		return err
	}

	// A one-shot whose time passed while the process was down fires
	// immediately rather than being lost.
	next := spec.Next(after)
	if next.IsZero() && spec.Once && job.ExecutionCount == 0 {
		next = after
	}

	if next.IsZero() || job.terminal(after) {
		job.Status = JobCompleted
		job.NextFireAt = nil
		return s.store.SaveJob(job)
	}

	job.NextFireAt = &next
	if err := s.store.SaveJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	heap.Push(&s.pending, heapEntry{jobID: job.ID, fireAt: next})
	s.mu.Unlock()
	s.wakeup()
	return nil
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.pending) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.pending[0].fireAt)
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-s.wake:
			continue
		case <-timer.C:
		}

		now := time.Now()
		for {
			s.mu.Lock()
			if len(s.pending) == 0 || s.pending[0].fireAt.After(now) {
				s.mu.Unlock()
				break
			}
			entry := heap.Pop(&s.pending).(heapEntry)
			s.mu.Unlock()
			s.fire(ctx, entry, now)
		}
	}
}

// fire validates a popped heap entry against the store and launches the
// execution. Entries for paused, deleted or rescheduled jobs are dropped.
func (s *Scheduler) fire(ctx context.Context, entry heapEntry, now time.Time) {
	job, err := s.store.GetJob(entry.jobID)
	if err != nil {
		return // deleted since it was scheduled
	}
	if job.Status != JobActive {
		return
	}
	if job.NextFireAt == nil || !job.NextFireAt.Equal(entry.fireAt) {
		return // rescheduled; a fresher entry exists
	}

	s.mu.Lock()
	if s.inFlight[job.ID] {
		s.mu.Unlock()
		// Late firing with the previous execution still running: skip.
		// The in-flight execution reschedules the job when it completes;
		// rescheduling here too would leave duplicate heap entries.
		s.recordSkip(job, now)
		return
	}
	s.inFlight[job.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, job.ID)
			s.mu.Unlock()
		}()
		s.execute(ctx, job, now)
	}()
}

func (s *Scheduler) recordSkip(job *Job, now time.Time) {
	exec := &Execution{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		Status:    ExecSkipped,
		StartedAt: now.UTC(),
	}
	if err := s.store.SaveExecution(exec); err != nil {
		s.logger.Warn("Failed to record skipped execution",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	s.logger.Info("Skipped late firing, previous execution still running",
		zap.String("job_id", job.ID))
}

func (s *Scheduler) execute(ctx context.Context, job *Job, firedAt time.Time) {
	exec := &Execution{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		Status:    ExecRunning,
		StartedAt: firedAt.UTC(),
	}
	if err := s.store.SaveExecution(exec); err != nil {
		s.logger.Error("Failed to record execution start",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout.Duration())
	result, err := s.runner.Run(runCtx, job.ToolID, job.Arguments)
	cancel()

	finished := time.Now().UTC()
	exec.FinishedAt = &finished
	if err != nil {
		exec.Status = ExecFailure
		if toolerr.IsKind(err, toolerr.KindTimeout) {
			exec.Status = ExecTimeout
		}
		exec.ErrorKind = string(toolerr.KindOf(err))
		exec.ErrorMessage = err.Error()
	} else {
		exec.Status = ExecSuccess
		exec.Result = result
	}
	if saveErr := s.store.SaveExecution(exec); saveErr != nil {
		s.logger.Error("Failed to record execution outcome",
			zap.String("job_id", job.ID), zap.Error(saveErr))
	}

	// Reload so concurrent pause/delete is not overwritten.
	current, getErr := s.store.GetJob(job.ID)
	if getErr != nil {
		return
	}
	current.ExecutionCount++
	fired := firedAt.UTC()
	current.LastFiredAt = &fired
	if err != nil {
		current.ConsecutiveFailures++
	} else {
		current.ConsecutiveFailures = 0
	}

	if current.ConsecutiveFailures >= s.cfg.JobFailureThreshold {
		current.Status = JobError
		current.NextFireAt = nil
		if saveErr := s.store.SaveJob(current); saveErr != nil {
			s.logger.Error("Failed to persist errored job", zap.Error(saveErr))
		}
		s.logger.Warn("Job disabled after consecutive failures",
			zap.String("job_id", current.ID),
			zap.Int("failures", current.ConsecutiveFailures))
		return
	}

	s.rescheduleAfterFire(current, finished)
}

func (s *Scheduler) rescheduleAfterFire(job *Job, after time.Time) {
	if job.Status != JobActive {
		return
	}
	if err := s.scheduleNext(job, after); err != nil {
		s.logger.Error("Failed to reschedule job",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Scheduler) compactLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				s.logger.Warn("Execution compaction failed", zap.Error(err))
			}
		}
	}
}

// CreateJob validates, persists and schedules a new job.
func (s *Scheduler) CreateJob(name, toolID string, args map[string]interface{}, schedule, timezone string, opts JobOptions) (*Job, error) {
	if name == "" {
		return nil, toolerr.InvalidParams("job name must not be empty")
	}
	if toolID == "" {
		return nil, toolerr.InvalidParams("job tool id must not be empty")
	}
	existing, err := s.store.ListJobs()
	if err != nil {
		return nil, err
	}
	for _, j := range existing {
		if j.Name == name {
			return nil, toolerr.InvalidParams("job name %q is already in use by job %s", name, j.ID)
		}
	}
	spec, err := ParseSpec(schedule, timezone)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &Job{
		ID:            ulid.Make().String(),
		Name:          name,
		ToolID:        toolID,
		Arguments:     args,
		Schedule:      spec.Canonical,
		Timezone:      timezone,
		FireOnce:      spec.Once,
		MaxExecutions: opts.MaxExecutions,
		EndAt:         opts.EndAt,
		Status:        JobActive,
		CreatedAt:     now.UTC(),
	}
	if err := s.scheduleNext(job, now); err != nil {
		return nil, err
	}
	s.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("name", name),
		zap.String("schedule", job.Schedule))
	return job, nil
}

// JobOptions are the optional bounds of a job.
type JobOptions struct {
	MaxExecutions int
	EndAt         *time.Time
}

// GetJob returns one job.
func (s *Scheduler) GetJob(id string) (*Job, error) {
	return s.store.GetJob(id)
}

// ListJobs returns all jobs.
func (s *Scheduler) ListJobs() ([]*Job, error) {
	return s.store.ListJobs()
}

// ListExecutions returns a job's execution history, most recent first.
func (s *Scheduler) ListExecutions(jobID string, limit int) ([]*Execution, error) {
	if _, err := s.store.GetJob(jobID); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(jobID, limit)
}

// PauseJob stops a job from firing until resumed. Pausing survives restart.
func (s *Scheduler) PauseJob(id string) error {
	job, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != JobActive {
		return toolerr.InvalidParams("job %q is %s, only active jobs can be paused", id, job.Status)
	}
	job.Status = JobPaused
	job.NextFireAt = nil
	if err := s.store.SaveJob(job); err != nil {
		return err
	}
	s.logger.Info("Job paused", zap.String("job_id", id))
	return nil
}

// ResumeJob reactivates a paused or errored job.
func (s *Scheduler) ResumeJob(id string) error {
	job, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != JobPaused && job.Status != JobError {
		return toolerr.InvalidParams("job %q is %s, only paused or errored jobs can be resumed", id, job.Status)
	}
	job.Status = JobActive
	job.ConsecutiveFailures = 0
	if err := s.scheduleNext(job, time.Now()); err != nil {
		return err
	}
	s.logger.Info("Job resumed", zap.String("job_id", id))
	return nil
}

// DeleteJob removes a job and its history.
func (s *Scheduler) DeleteJob(id string) error {
	if err := s.store.DeleteJob(id); err != nil {
		return err
	}
	s.logger.Info("Job deleted", zap.String("job_id", id))
	return nil
}

// Cleanup compacts execution history per the configured retention.
func (s *Scheduler) Cleanup() (int, error) {
	return s.store.Compact(s.cfg.ExecutionMaxAge.Duration(), s.cfg.ExecutionsPerJob)
}
