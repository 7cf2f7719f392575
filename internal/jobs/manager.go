// Package jobs runs background pipeline jobs with bounded concurrency.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
)

// Handler executes one job type. Execute blocks until the job finishes
// and must persist progress after every unit of work via
// UpdateJobStatus so partial results survive a crash. Done runs after
// the terminal status is stored.
type Handler interface {
	Execute(ctx context.Context, job *models.Job) error
	Done(job *models.Job)
}

type runningTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the registry of live jobs and dispatches them to
// registered handlers, at most maxConcurrent at a time.
type Manager struct {
	storage       interfaces.JobStorage
	logger        arbor.ILogger
	maxConcurrent int
	pollInterval  time.Duration

	mu       sync.Mutex
	handlers map[models.JobType]Handler
	jobs     map[string]*models.Job
	running  map[string]*runningTask
	wake     chan struct{}
}

// NewManager creates a job manager. maxConcurrent <= 0 selects the
// default of 5.
func NewManager(storage interfaces.JobStorage, maxConcurrent int, pollInterval time.Duration, logger arbor.ILogger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Manager{
		storage:       storage,
		logger:        logger.WithPrefix("jobs"),
		maxConcurrent: maxConcurrent,
		pollInterval:  pollInterval,
		handlers:      make(map[models.JobType]Handler),
		jobs:          make(map[string]*models.Job),
		running:       make(map[string]*runningTask),
		wake:          make(chan struct{}, 1),
	}
}

// RegisterHandler installs the handler for a job type. Call at startup,
// before Run.
func (m *Manager) RegisterHandler(jobType models.JobType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = handler
}

// AddJob persists the job and inserts it into the registry; the next
// scheduling pass picks it up.
func (m *Manager) AddJob(ctx context.Context, job *models.Job) error {
	if err := m.storage.SaveJob(ctx, job); err != nil {
		return err
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.signal()
	m.logger.Info().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("Job added")
	return nil
}

// CancelJob marks a running job for cancellation. The handler observes
// it at its next persistence point; an in-flight LLM call is not
// interrupted.
func (m *Manager) CancelJob(jobID string) {
	m.mu.Lock()
	task, ok := m.running[jobID]
	m.mu.Unlock()
	if ok {
		task.cancel()
		m.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	}
}

// Recover re-adds every job still marked Running, typically after a
// process restart. Handlers are expected to be idempotent.
func (m *Manager) Recover(ctx context.Context) error {
	jobs, err := m.storage.ListJobsByStatus(ctx, "", models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to load running jobs: %w", err)
	}
	m.mu.Lock()
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()
	if len(jobs) > 0 {
		m.logger.Info().Int("count", len(jobs)).Msg("Recovered running jobs")
		m.signal()
	}
	return nil
}

// Run is the scheduling loop. It fills free slots with registered jobs
// and sleeps until a completion signal or the poll tick. It returns when
// the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info().Int("max_concurrent", m.maxConcurrent).Msg("Job manager started")
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.fillSlots(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Job manager stopping")
			m.waitForRunning()
			return
		case <-m.wake:
		case <-ticker.C:
		}
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) fillSlots(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, job := range m.jobs {
		if len(m.running) >= m.maxConcurrent {
			return
		}
		if _, isRunning := m.running[id]; isRunning {
			continue
		}
		handler, ok := m.handlers[job.Type]
		if !ok {
			m.logger.Error().Str("job_id", id).Str("type", string(job.Type)).Msg("No handler registered, dropping job")
			delete(m.jobs, id)
			continue
		}

		jobCtx, cancel := context.WithCancel(ctx)
		task := &runningTask{cancel: cancel, done: make(chan struct{})}
		m.running[id] = task
		go m.execute(jobCtx, job, handler, task)
	}
}

func (m *Manager) execute(ctx context.Context, job *models.Job, handler Handler, task *runningTask) {
	defer close(task.done)

	err := m.runHandler(ctx, job, handler)
	m.finishJob(context.Background(), job, err)
	handler.Done(job)

	m.mu.Lock()
	delete(m.jobs, job.ID)
	delete(m.running, job.ID)
	m.mu.Unlock()
	m.signal()
}

// runHandler converts handler panics into errors so one bad pipeline
// cannot take the scheduler down.
func (m *Manager) runHandler(ctx context.Context, job *models.Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}

// finishJob writes the terminal status. Cancellation wins over other
// errors and records a localized message.
func (m *Manager) finishJob(ctx context.Context, job *models.Job, execErr error) {
	stored, err := m.storage.GetJob(ctx, job.ID)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to reload job for final status")
		stored = job
	}

	result, err := stored.DecodeResult()
	if err != nil {
		result = &models.JobResult{Logs: []string{}}
	}

	switch {
	case execErr == nil:
		stored.Status = models.JobStatusSuccess
	case errors.Is(execErr, context.Canceled):
		stored.Status = models.JobStatusCancel
		msg := i18n.T(stored.Locale, "job.cancelled")
		result.Error = msg
		result.AppendLog(msg)
	default:
		stored.Status = models.JobStatusFailed
		msg := i18n.T(stored.Locale, "job.failed", execErr.Error())
		result.Error = execErr.Error()
		result.AppendLog(msg)
		m.logger.Error().Err(execErr).Str("job_id", stored.ID).Msg("Job failed")
	}

	if err := stored.EncodeResult(result); err != nil {
		m.logger.Error().Err(err).Str("job_id", stored.ID).Msg("Failed to encode final result")
	}
	if err := m.storage.SaveJob(ctx, stored); err != nil {
		m.logger.Error().Err(err).Str("job_id", stored.ID).Msg("Failed to persist final status")
	}

	m.logger.Info().Str("job_id", stored.ID).Str("status", string(stored.Status)).Msg("Job finished")
}

func (m *Manager) waitForRunning() {
	m.mu.Lock()
	tasks := make([]*runningTask, 0, len(m.running))
	for _, task := range m.running {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		<-task.done
	}
}

// UpdateJobStatus persists a mid-run snapshot: freshly appended log
// lines are merged after the lines already stored, progress and error
// replace the stored values, and the pending buffer is cleared. This is
// the persistence point where handlers observe cancellation.
func UpdateJobStatus(ctx context.Context, storage interfaces.JobStorage, job *models.Job, result *models.JobResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	storedResult, err := stored.DecodeResult()
	if err != nil {
		return err
	}

	merged := &models.JobResult{
		Progress: result.Progress,
		Logs:     append(storedResult.Logs, result.Logs...),
		Error:    result.Error,
	}
	if err := stored.EncodeResult(merged); err != nil {
		return err
	}
	stored.Status = job.Status
	if err := storage.SaveJob(ctx, stored); err != nil {
		return err
	}

	result.CleanLogs()
	return nil
}
